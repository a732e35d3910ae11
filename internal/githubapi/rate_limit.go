package githubapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitHeaders contains parsed GitHub rate-limit response headers.
// They are logged alongside backoffs; the backoff itself is fixed.
type RateLimitHeaders struct {
	Remaining        int
	ResetUnix        int64
	Used             int
	RetryAfter       time.Duration
	PrimaryExhausted bool
	SecondaryLimited bool
}

// Limit names the limit a rate-limited response hit, or "unknown" when the
// headers do not tell.
func (h RateLimitHeaders) Limit() string {
	switch {
	case h.PrimaryExhausted:
		return "primary"
	case h.SecondaryLimited:
		return "secondary"
	default:
		return "unknown"
	}
}

// ParseRateLimitHeaders parses rate-limit and retry headers.
func ParseRateLimitHeaders(header http.Header, statusCode int) RateLimitHeaders {
	parsed := RateLimitHeaders{}
	parsed.Remaining = parseInt(header.Get("X-RateLimit-Remaining"))
	parsed.Used = parseInt(header.Get("X-RateLimit-Used"))
	parsed.ResetUnix = parseInt64(header.Get("X-RateLimit-Reset"))

	retryAfterSeconds := parseInt(header.Get("Retry-After"))
	if retryAfterSeconds > 0 {
		parsed.RetryAfter = time.Duration(retryAfterSeconds) * time.Second
	}

	if statusCode == http.StatusTooManyRequests {
		parsed.SecondaryLimited = true
	}
	if statusCode == http.StatusForbidden {
		if parsed.RetryAfter > 0 {
			parsed.SecondaryLimited = true
		} else if strings.TrimSpace(header.Get("X-RateLimit-Remaining")) == "0" {
			parsed.PrimaryExhausted = true
		}
	}

	return parsed
}

func parseInt(raw string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt64(raw string) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
