package panel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"vpnbot/internal/config"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testClient(srv *httptest.Server) *Client {
	log := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
	conf := &config.Config{
		Panel: config.PanelConfig{BaseURL: srv.URL, ApiToken: "secret", Rps: 100},
	}
	return NewClient(conf, log)
}

func TestStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/admin/server_status/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Hiddify-API-Key"); got != "secret" {
			t.Errorf("api key header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"total_users": 120, "active_users": 87, "online_users": 14,
			"today_traffic_GB": 42.5, "month_traffic_GB": 910.3
		}`))
	}))
	defer srv.Close()

	stats, err := testClient(srv).Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalUsers != 120 || stats.ActiveUsers != 87 || stats.OnlineUsers != 14 {
		t.Errorf("counters = %+v", stats)
	}
	if stats.TodayTrafficGB != 42.5 || stats.MonthTrafficGB != 910.3 {
		t.Errorf("traffic = %+v", stats)
	}
}

func TestStatsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := testClient(srv).Stats(context.Background()); err == nil {
		t.Fatal("expected an error on 503")
	}
}

func TestUserNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv).User(context.Background(), "no-such-uuid")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
