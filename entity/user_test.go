package entity

import (
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
	}{
		{"admin", RoleAdmin},
		{"manager", RoleManager},
		{"user", RoleUser},
		{"", RoleUser},
		{"superuser", RoleUser},
	}
	for _, tc := range tests {
		if got := ParseRole(tc.input); got != tc.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestRoleChecks(t *testing.T) {
	admin := &User{Role: RoleAdmin}
	manager := &User{Role: RoleManager}
	user := &User{Role: RoleUser}

	if !admin.IsAdmin() || !admin.IsManager() || !admin.CanInvite() {
		t.Error("admin should pass all role checks")
	}
	if manager.IsAdmin() {
		t.Error("manager is not an admin")
	}
	if !manager.IsManager() || !manager.CanInvite() {
		t.Error("manager should be able to invite")
	}
	if user.IsManager() || user.CanInvite() {
		t.Error("regular user should not pass staff checks")
	}
}

func TestHasActiveAccess(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name string
		user User
		want bool
	}{
		{"no access at all", User{}, false},
		{"active subscription", User{ExpiresAt: &future}, true},
		{"expired subscription", User{ExpiresAt: &past}, false},
		{"running trial", User{TrialExpiry: &future}, true},
		{"expired trial", User{TrialExpiry: &past}, false},
		{"blocked with active subscription", User{ExpiresAt: &future, IsBlocked: true}, false},
		{"expired subscription but running trial", User{ExpiresAt: &past, TrialExpiry: &future}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.user.HasActiveAccess(now); got != tc.want {
				t.Errorf("HasActiveAccess = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	if got := (&User{TelegramUsername: "alice"}).DisplayName(); got != "@alice" {
		t.Errorf("got %q", got)
	}
	if got := (&User{FirstName: "Bob"}).DisplayName(); got != "Bob" {
		t.Errorf("got %q", got)
	}
	if got := (&User{}).DisplayName(); got != "unknown" {
		t.Errorf("got %q", got)
	}
}
