package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultGitHubAPIBaseURL = "https://api.github.com/"

// EndpointStatus represents a normalized GitHub API endpoint outcome.
type EndpointStatus string

const (
	// EndpointStatusOK indicates a successful response.
	EndpointStatusOK EndpointStatus = "ok"
	// EndpointStatusStopped indicates the caller ended the walk early.
	EndpointStatusStopped EndpointStatus = "stopped"
	// EndpointStatusNotFound indicates the resource does not exist or is hidden.
	EndpointStatusNotFound EndpointStatus = "not_found"
	// EndpointStatusRateLimited indicates rate-limit waits were exhausted.
	EndpointStatusRateLimited EndpointStatus = "rate_limited"
	// EndpointStatusUnprocessable indicates request validation/processing failure.
	EndpointStatusUnprocessable EndpointStatus = "unprocessable"
	// EndpointStatusUnavailable indicates a temporary service-side failure.
	EndpointStatusUnavailable EndpointStatus = "unavailable"
	// EndpointStatusTransportError indicates the request never produced a response.
	EndpointStatusTransportError EndpointStatus = "transport_error"
	// EndpointStatusMalformed indicates a response body that is not a JSON list.
	EndpointStatusMalformed EndpointStatus = "malformed"
	// EndpointStatusUnknown indicates an unclassified non-success status.
	EndpointStatusUnknown EndpointStatus = "unknown"
)

// Usable reports whether items gathered under this status may be kept.
func (s EndpointStatus) Usable() bool {
	return s != EndpointStatusNotFound
}

// PullOrder is the sort applied to pull request listings.
type PullOrder struct {
	Sort      string
	Direction string
}

// DefaultPullOrder lists the most recently updated pull requests first.
var DefaultPullOrder = PullOrder{Sort: "updated", Direction: "desc"}

// NewestFirst reports whether merge times can be assumed to decrease along the listing.
func (o PullOrder) NewestFirst() bool {
	return o.Sort == "updated" && o.Direction == "desc"
}

func (o PullOrder) withDefaults() PullOrder {
	if strings.TrimSpace(o.Sort) == "" {
		o.Sort = DefaultPullOrder.Sort
	}
	if strings.TrimSpace(o.Direction) == "" {
		o.Direction = DefaultPullOrder.Direction
	}
	return o
}

// PageCaps bounds the number of pages fetched per endpoint.
type PageCaps struct {
	Repositories int
	PullCounts   int
	MergedPulls  int
}

// DefaultPageCaps are the page caps used when none are configured.
var DefaultPageCaps = PageCaps{Repositories: 10, PullCounts: 20, MergedPulls: 10}

// Repository is one GitHub repository in an organization.
type Repository struct {
	Name     string
	FullName string
	Stars    int
	Archived bool
	Fork     bool
}

// TopRepositoriesResult is the typed result for ranking organization repositories.
type TopRepositoriesResult struct {
	Repositories []Repository
	Considered   int
	WalkStats
}

// PullRequestCounts is the typed result for counting repository pull requests.
type PullRequestCounts struct {
	Total  int
	Merged int
	WalkStats
}

// MergedPullRequest is one merged pull request.
type MergedPullRequest struct {
	Number   int
	MergedAt time.Time
}

// MergedPullRequestsResult is the typed result for listing merges inside a window.
type MergedPullRequestsResult struct {
	PullRequests []MergedPullRequest
	// Examined counts pull requests inspected before the walk ended.
	Examined int
	// Skipped counts pull requests with an unparsable merge timestamp.
	Skipped int
	// ReachedCutoff is set when the walk stopped at the first merge older than the cutoff.
	ReachedCutoff bool
	WalkStats
}

// DataClient is a typed GitHub REST data client for ingestion endpoints.
type DataClient struct {
	baseURL *url.URL
	client  *Client
	caps    PageCaps
	logger  *zap.Logger
}

// NewDataClient creates a typed data client over the paginating request client.
func NewDataClient(baseURL string, client *Client, caps PageCaps, logger ...*zap.Logger) (*DataClient, error) {
	if client == nil {
		return nil, fmt.Errorf("request client is required")
	}

	parsed, err := parseAPIBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	if caps.Repositories <= 0 {
		caps.Repositories = DefaultPageCaps.Repositories
	}
	if caps.PullCounts <= 0 {
		caps.PullCounts = DefaultPageCaps.PullCounts
	}
	if caps.MergedPulls <= 0 {
		caps.MergedPulls = DefaultPageCaps.MergedPulls
	}

	log := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}

	return &DataClient{
		baseURL: parsed,
		client:  client,
		caps:    caps,
		logger:  log,
	}, nil
}

// ListTopRepositories lists an organization's public repositories and returns
// the limit most starred, ties kept in listing order.
func (c *DataClient) ListTopRepositories(ctx context.Context, org string, limit int) (TopRepositoriesResult, error) {
	trimmedOrg := strings.TrimSpace(org)
	if trimmedOrg == "" {
		return TopRepositoriesResult{}, fmt.Errorf("organization is required")
	}
	if limit <= 0 {
		return TopRepositoriesResult{}, fmt.Errorf("limit must be > 0")
	}

	reqURL := c.cloneBaseURL()
	reqURL.Path = joinURLPath(reqURL.Path, "orgs", url.PathEscape(trimmedOrg), "repos")
	query := reqURL.Query()
	query.Set("per_page", "100")
	query.Set("type", "public")
	reqURL.RawQuery = query.Encode()

	page := c.client.FetchAll(ctx, reqURL.String(), c.caps.Repositories)
	result := TopRepositoriesResult{WalkStats: page.WalkStats}

	repos := make([]Repository, 0, len(page.Items))
	for _, raw := range page.Items {
		var payload repositoryPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.logger.Debug("skipping undecodable repository", zap.String("org", trimmedOrg), zap.Error(err))
			continue
		}
		repos = append(repos, Repository{
			Name:     payload.Name,
			FullName: payload.FullName,
			Stars:    payload.StargazersCount,
			Archived: payload.Archived,
			Fork:     payload.Fork,
		})
	}
	result.Considered = len(repos)

	sort.SliceStable(repos, func(i, j int) bool {
		return repos[i].Stars > repos[j].Stars
	})
	if len(repos) > limit {
		repos = repos[:limit]
	}
	result.Repositories = repos
	return result, nil
}

// CountPullRequests counts all pull requests of a repository and how many were merged.
// A missing repository yields zero counts.
func (c *DataClient) CountPullRequests(ctx context.Context, owner, repo string) (PullRequestCounts, error) {
	reqURL, err := c.pullsURL(owner, repo, nil)
	if err != nil {
		return PullRequestCounts{}, err
	}

	var counts PullRequestCounts
	stats := c.client.Walk(ctx, reqURL, c.caps.PullCounts, func(page []json.RawMessage) bool {
		for _, raw := range page {
			var payload pullRequestPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				continue
			}
			counts.Total++
			if payload.MergedAt != nil && *payload.MergedAt != "" {
				counts.Merged++
			}
		}
		return true
	})
	if !stats.Status.Usable() {
		return PullRequestCounts{WalkStats: stats}, nil
	}
	counts.WalkStats = stats
	return counts, nil
}

// ListMergedPullRequests lists pull requests merged at or after cutoff.
//
// When order is newest-first the walk ends at the first merge older than
// cutoff, leaving later pull requests and pages unread. Otherwise older merges
// are filtered out and the walk continues to the page cap.
func (c *DataClient) ListMergedPullRequests(ctx context.Context, owner, repo string, cutoff time.Time, order PullOrder) (MergedPullRequestsResult, error) {
	order = order.withDefaults()
	reqURL, err := c.pullsURL(owner, repo, &order)
	if err != nil {
		return MergedPullRequestsResult{}, err
	}
	cutoff = cutoff.UTC()
	stopAtCutoff := order.NewestFirst()

	var result MergedPullRequestsResult
	stats := c.client.Walk(ctx, reqURL, c.caps.MergedPulls, func(page []json.RawMessage) bool {
		for _, raw := range page {
			result.Examined++
			var payload pullRequestPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				result.Skipped++
				continue
			}
			if payload.MergedAt == nil {
				continue
			}
			mergedAt, err := time.Parse(time.RFC3339, *payload.MergedAt)
			if err != nil {
				result.Skipped++
				c.logger.Warn("skipping pull request with unparsable merge time",
					zap.String("repo", owner+"/"+repo),
					zap.Int("number", payload.Number),
					zap.String("merged_at", *payload.MergedAt),
				)
				continue
			}
			mergedAt = mergedAt.UTC()
			if mergedAt.Before(cutoff) {
				if stopAtCutoff {
					result.ReachedCutoff = true
					return false
				}
				continue
			}
			result.PullRequests = append(result.PullRequests, MergedPullRequest{
				Number:   payload.Number,
				MergedAt: mergedAt,
			})
		}
		return true
	})
	if !stats.Status.Usable() {
		return MergedPullRequestsResult{Examined: result.Examined, WalkStats: stats}, nil
	}
	result.WalkStats = stats
	return result, nil
}

func (c *DataClient) pullsURL(owner, repo string, order *PullOrder) (string, error) {
	trimmedOwner := strings.TrimSpace(owner)
	trimmedRepo := strings.TrimSpace(repo)
	if trimmedOwner == "" {
		return "", fmt.Errorf("owner is required")
	}
	if trimmedRepo == "" {
		return "", fmt.Errorf("repo is required")
	}

	reqURL := c.cloneBaseURL()
	reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo), "pulls")
	query := reqURL.Query()
	query.Set("state", "all")
	query.Set("per_page", "100")
	if order != nil {
		query.Set("sort", order.Sort)
		query.Set("direction", order.Direction)
	}
	reqURL.RawQuery = query.Encode()
	return reqURL.String(), nil
}

func parseAPIBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultGitHubAPIBaseURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

func (c *DataClient) cloneBaseURL() *url.URL {
	cloned := *c.baseURL
	return &cloned
}

func joinURLPath(base string, segments ...string) string {
	trimmedBase := strings.TrimSuffix(base, "/")
	builder := strings.Builder{}
	builder.WriteString(trimmedBase)
	for _, segment := range segments {
		builder.WriteString("/")
		builder.WriteString(strings.TrimPrefix(segment, "/"))
	}
	return builder.String()
}

func endpointStatusFromHTTP(statusCode int) EndpointStatus {
	switch statusCode {
	case http.StatusNotFound:
		return EndpointStatusNotFound
	case http.StatusTooManyRequests:
		return EndpointStatusRateLimited
	case http.StatusUnprocessableEntity:
		return EndpointStatusUnprocessable
	}
	if statusCode >= 200 && statusCode <= 299 {
		return EndpointStatusOK
	}
	if statusCode >= 500 {
		return EndpointStatusUnavailable
	}
	return EndpointStatusUnknown
}

func decodeJSONAndClose(resp *http.Response, target any) error {
	defer resp.Body.Close()
	decoder := json.NewDecoder(resp.Body)
	return decoder.Decode(target)
}

type repositoryPayload struct {
	Name            string `json:"name"`
	FullName        string `json:"full_name"`
	StargazersCount int    `json:"stargazers_count"`
	Archived        bool   `json:"archived"`
	Fork            bool   `json:"fork"`
}

type pullRequestPayload struct {
	Number   int     `json:"number"`
	MergedAt *string `json:"merged_at"`
}
