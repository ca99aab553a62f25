package entity

import "errors"

// Storage sentinels shared by the MySQL store and its consumers.
// Implementations translate driver errors to these so callers can use
// errors.Is without knowing the backend.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)
