package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// WalkStats summarizes one pagination walk.
type WalkStats struct {
	Status         EndpointStatus
	Pages          int
	RateLimitWaits int
	// Truncated is set when the page cap left a next link unfollowed.
	Truncated bool
	// Err holds the transport, decode, or cancellation error that ended the walk early.
	Err error
}

// PageResult is the accumulated output of FetchAll.
type PageResult struct {
	Items []json.RawMessage
	WalkStats
}

// Walk follows rel="next" links from rawURL, passing each decoded page to visit.
// Returning false from visit stops the walk with EndpointStatusStopped.
//
// Transport failures, timeouts, and undecodable bodies end the walk and are
// reported through WalkStats.Err; Walk never fails outright. A 403 or 429
// response waits RateLimitBackoff and repeats the same request without
// consuming page budget; such waits are capped at maxPages per walk.
func (c *Client) Walk(ctx context.Context, rawURL string, maxPages int, visit func(page []json.RawMessage) bool) WalkStats {
	stats := WalkStats{Status: EndpointStatusOK}
	if maxPages <= 0 {
		maxPages = 1
	}

	next := rawURL
	for next != "" {
		if stats.Pages >= maxPages {
			stats.Truncated = true
			break
		}

		resp, err := c.Get(ctx, next)
		if err != nil {
			c.logger.Warn("github request failed", zap.String("url", withoutQuery(next)), zap.Error(err))
			stats.Status = EndpointStatusTransportError
			stats.Err = err
			return stats
		}

		if isRateLimitStatus(resp.StatusCode) {
			headers := ParseRateLimitHeaders(resp.Header, resp.StatusCode)
			drainAndClose(resp)
			if stats.RateLimitWaits >= maxPages {
				stats.Status = EndpointStatusRateLimited
				return stats
			}
			stats.RateLimitWaits++
			c.logger.Warn("github rate limit hit, backing off",
				zap.String("url", withoutQuery(next)),
				zap.Int("status", resp.StatusCode),
				zap.String("limit", headers.Limit()),
				zap.Int("remaining", headers.Remaining),
				zap.Int("used", headers.Used),
				zap.Int64("reset_unix", headers.ResetUnix),
				zap.Duration("retry_after", headers.RetryAfter),
				zap.Duration("backoff", c.RateLimitBackoff),
				zap.Int("wait", stats.RateLimitWaits),
			)
			if err := c.sleep(ctx, c.RateLimitBackoff); err != nil {
				stats.Status = EndpointStatusTransportError
				stats.Err = err
				return stats
			}
			continue
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			drainAndClose(resp)
			if status != EndpointStatusNotFound {
				c.logger.Warn("github request returned non-success status",
					zap.String("url", withoutQuery(next)),
					zap.Int("status", resp.StatusCode),
					zap.Int("pages", stats.Pages),
				)
			}
			stats.Status = status
			return stats
		}

		var page []json.RawMessage
		if err := decodeJSONAndClose(resp, &page); err != nil {
			stats.Status = EndpointStatusMalformed
			stats.Err = fmt.Errorf("decode page %d: %w", stats.Pages+1, err)
			return stats
		}
		stats.Pages++

		if !visit(page) {
			stats.Status = EndpointStatusStopped
			return stats
		}

		next = nextPageURL(resp.Request, resp.Header.Get("Link"))
		if next != "" && stats.Pages < maxPages {
			if err := c.sleep(ctx, c.PageDelay); err != nil {
				stats.Status = EndpointStatusTransportError
				stats.Err = err
				return stats
			}
		}
	}

	return stats
}

// FetchAll walks every page up to maxPages and accumulates the items.
// A 404 yields no items.
func (c *Client) FetchAll(ctx context.Context, rawURL string, maxPages int) PageResult {
	var items []json.RawMessage
	stats := c.Walk(ctx, rawURL, maxPages, func(page []json.RawMessage) bool {
		items = append(items, page...)
		return true
	})
	if stats.Status == EndpointStatusNotFound {
		items = nil
	}
	return PageResult{Items: items, WalkStats: stats}
}

func isRateLimitStatus(statusCode int) bool {
	return statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests
}

// nextPageURL extracts the rel="next" target from a Link header, resolved
// against the request URL when relative.
func nextPageURL(req *http.Request, linkHeader string) string {
	for _, part := range strings.Split(linkHeader, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isNext := false
		for _, param := range segments[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				isNext = true
				break
			}
		}
		if !isNext {
			continue
		}

		target := strings.TrimSpace(segments[0])
		target = strings.TrimPrefix(target, "<")
		target = strings.TrimSuffix(target, ">")
		if target == "" {
			return ""
		}
		parsed, err := url.Parse(target)
		if err != nil {
			return ""
		}
		if req != nil && req.URL != nil {
			return req.URL.ResolveReference(parsed).String()
		}
		return parsed.String()
	}
	return ""
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func withoutQuery(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return parsed.Scheme + "://" + parsed.Host + parsed.Path
}
