package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"vpnbot/lib/api/response"
)

type stubCore struct {
	err error
}

func (s *stubCore) Health(_ context.Context) error { return s.err }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func serve(t *testing.T, core *stubCore) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	Check(log, core)(rec, req)

	var resp response.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, resp
}

func TestCheckOk(t *testing.T) {
	rec, resp := serve(t, &stubCore{})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !resp.Success {
		t.Errorf("success = false: %+v", resp)
	}
}

func TestCheckStorageDown(t *testing.T) {
	rec, resp := serve(t, &stubCore{err: errors.New("connection refused")})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if resp.Success {
		t.Errorf("success = true on storage failure: %+v", resp)
	}
}
