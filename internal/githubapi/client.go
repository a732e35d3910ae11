package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultUserAgent        = "org-merge-stats"
	defaultRateLimitBackoff = 60 * time.Second
	defaultPageDelay        = time.Second
	acceptHeader            = "application/vnd.github+json"
)

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures request headers and politeness delays.
type ClientConfig struct {
	Token            string
	UserAgent        string
	RateLimitBackoff time.Duration
	PageDelay        time.Duration
}

// Client issues authenticated GitHub REST requests and walks paginated lists.
type Client struct {
	doer      HTTPDoer
	token     string
	userAgent string
	logger    *zap.Logger

	// RateLimitBackoff is the fixed wait after a 403 or 429 response.
	RateLimitBackoff time.Duration
	// PageDelay is the pause between consecutive pages of one walk.
	PageDelay time.Duration
	// Sleep is injected for testability. It returns early with the context error on cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a GitHub API client wrapper.
func NewClient(doer HTTPDoer, cfg ClientConfig, logger ...*zap.Logger) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	backoff := cfg.RateLimitBackoff
	if backoff <= 0 {
		backoff = defaultRateLimitBackoff
	}
	pageDelay := cfg.PageDelay
	if pageDelay <= 0 {
		pageDelay = defaultPageDelay
	}

	log := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}

	return &Client{
		doer:             doer,
		token:            strings.TrimSpace(cfg.Token),
		userAgent:        userAgent,
		logger:           log,
		RateLimitBackoff: backoff,
		PageDelay:        pageDelay,
		Sleep:            SleepContext,
	}
}

// Get issues one authenticated GET request. The caller owns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	ctx, span := telemetry.StartDependencySpan(ctx, "githubapi", "githubapi.client.get",
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.URL.EscapedPath()),
	)
	resp, err := c.doer.Do(req.WithContext(ctx))
	if span != nil && resp != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("nil response")
	}
	return resp, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep == nil {
		return SleepContext(ctx, d)
	}
	return c.Sleep(ctx, d)
}

// SleepContext blocks for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
