package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"vpnbot/internal/config"
	"vpnbot/lib/sl"
)

// ErrNotFound is returned when the panel has no user with the given uuid.
var ErrNotFound = errors.New("panel: user not found")

// User is the panel's view of a VPN account.
type User struct {
	UUID           string  `json:"uuid"`
	Name           string  `json:"name"`
	UsageLimitGB   float64 `json:"usage_limit_GB"`
	PackageDays    int     `json:"package_days"`
	CurrentUsageGB float64 `json:"current_usage_GB"`
	Enable         bool    `json:"enable"`
	Comment        string  `json:"comment,omitempty"`
}

// Stats is the panel's aggregate usage snapshot.
type Stats struct {
	TotalUsers     int     `json:"total_users"`
	ActiveUsers    int     `json:"active_users"`
	OnlineUsers    int     `json:"online_users"`
	TodayTrafficGB float64 `json:"today_traffic_GB"`
	MonthTrafficGB float64 `json:"month_traffic_GB"`
}

// Client talks to the Hiddify admin API. All calls pass through a shared
// rate limiter so bulk operations (broadcast provisioning, usage sync)
// cannot trip the panel's flood protection.
type Client struct {
	hc       *http.Client
	baseURL  string
	apiToken string
	limiter  *rate.Limiter
	log      *slog.Logger
}

func NewClient(conf *config.Config, logger *slog.Logger) *Client {
	rps := conf.Panel.Rps
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		hc:       &http.Client{Timeout: 10 * time.Second},
		baseURL:  conf.Panel.BaseURL,
		apiToken: conf.Panel.ApiToken,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		log:      logger.With(sl.Module("panel")),
	}
}

func (c *Client) request(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	log := c.log.With(
		slog.String("method", method),
		slog.String("path", path),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	status := "ERROR"
	t1 := time.Now()
	defer func() {
		t2 := time.Now()
		log.Debug("panel request completed",
			slog.String("duration", fmt.Sprintf("%.3fms", float64(t2.Sub(t1))/float64(time.Millisecond))),
			slog.String("status", status))
	}()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error("marshal payload", sl.Err(err))
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		log.Error("create request", sl.Err(err))
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Hiddify-API-Key", c.apiToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Error("request failed", sl.Err(err))
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	status = resp.Status
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		log.Error("panel returned error",
			slog.String("status", resp.Status),
			slog.String("body", string(respBody)))
		return nil, fmt.Errorf("panel %s: %s", resp.Status, respBody)
	}

	return respBody, nil
}

// CreateUser registers a new account on the panel.
func (c *Client) CreateUser(ctx context.Context, user *User) error {
	_, err := c.request(ctx, http.MethodPost, "/api/v2/admin/user/", user)
	if err != nil {
		return fmt.Errorf("panel create user: %w", err)
	}
	c.log.Info("panel user created",
		slog.String("uuid", user.UUID),
		slog.String("name", user.Name))
	return nil
}

// User fetches the account state, including current traffic usage.
func (c *Client) User(ctx context.Context, uuid string) (*User, error) {
	body, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/api/v2/admin/user/%s/", uuid), nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("panel get user: %w", err)
	}
	var user User
	if err = json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("panel parse user: %w", err)
	}
	return &user, nil
}

// UpdateUser pushes new limits to an existing account.
func (c *Client) UpdateUser(ctx context.Context, user *User) error {
	_, err := c.request(ctx, http.MethodPatch, fmt.Sprintf("/api/v2/admin/user/%s/", user.UUID), user)
	if err != nil {
		return fmt.Errorf("panel update user: %w", err)
	}
	return nil
}

// Stats fetches the panel's aggregate counters and traffic totals.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/v2/admin/server_status/", nil)
	if err != nil {
		return nil, fmt.Errorf("panel stats: %w", err)
	}
	var stats Stats
	if err = json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("panel parse stats: %w", err)
	}
	return &stats, nil
}

// DeleteUser removes the account from the panel.
func (c *Client) DeleteUser(ctx context.Context, uuid string) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/api/v2/admin/user/%s/", uuid), nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("panel delete user: %w", err)
	}
	return nil
}
