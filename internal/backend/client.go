// Package backend talks to the routing administration REST services. The
// monitoring core never originates route data; it folds pushed deltas on top
// of the authoritative snapshot fetched here.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"carenav/internal/model"
)

// TokenSource supplies the bearer token for collaborator calls. Token
// acquisition and refresh live outside the core; this only consumes.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource over a fixed opaque token.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", fmt.Errorf("empty token")
	}
	return string(t), nil
}

// Client is the REST read client for monitoring snapshots.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	// limit bounds manual-refresh bursts from the dashboard.
	limit *rate.Limiter
	log   *zap.Logger
}

// NewClient constructs a Client against the given base URL.
func NewClient(base string, tokens TokenSource, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: 10 * time.Second},
		tokens: tokens,
		limit:  rate.NewLimiter(rate.Every(2*time.Second), 3),
		log:    log.Named("backend"),
	}
}

// ActiveRoutes fetches the current active-route list with per-visit statuses
// and last vehicle locations. An empty date means the server default (today).
func (c *Client) ActiveRoutes(ctx context.Context, date string) ([]model.ActiveRoute, error) {
	if err := c.limit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("refresh rate limit: %w", err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	endpoint := c.base + "/v1/monitoring/active-routes"
	if date != "" {
		endpoint += "?date=" + url.QueryEscape(date)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch active routes: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch active routes: status %d", resp.StatusCode)
	}

	var out struct {
		Items []model.ActiveRoute `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode active routes: %w", err)
	}
	c.log.Debug("fetched active routes",
		zap.Int("count", len(out.Items)), zap.Duration("took", time.Since(start)))
	return out.Items, nil
}
