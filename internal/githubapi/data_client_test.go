package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func newTestDataClient(t *testing.T, doer HTTPDoer) *DataClient {
	t.Helper()

	client, err := NewDataClient("", newTestClient(doer, &sleepRecorder{}), PageCaps{})
	if err != nil {
		t.Fatalf("NewDataClient() unexpected error: %v", err)
	}
	return client
}

func TestNewDataClient(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		baseURL     string
		client      *Client
		wantErr     bool
		errContains string
	}{
		{
			name:    "uses_default_base_url",
			baseURL: "",
			client:  NewClient(&fakeDoer{}, ClientConfig{}),
		},
		{
			name:    "accepts_custom_base_url",
			baseURL: "https://github.example.com/api/v3",
			client:  NewClient(&fakeDoer{}, ClientConfig{}),
		},
		{
			name:        "rejects_invalid_base_url",
			baseURL:     "://bad-url",
			client:      NewClient(&fakeDoer{}, ClientConfig{}),
			wantErr:     true,
			errContains: "parse github api base url",
		},
		{
			name:        "rejects_nil_client",
			baseURL:     "https://api.github.com",
			client:      nil,
			wantErr:     true,
			errContains: "request client is required",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewDataClient(tc.baseURL, tc.client, PageCaps{})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NewDataClient() expected error, got nil")
				}
				if tc.errContains != "" && !contains(err.Error(), tc.errContains) {
					t.Fatalf("error = %q, missing %q", err.Error(), tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDataClient() unexpected error: %v", err)
			}
			if client.caps != DefaultPageCaps {
				t.Fatalf("caps = %+v, want %+v", client.caps, DefaultPageCaps)
			}
		})
	}
}

func TestDataClientListTopRepositories(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{
		responses: []*http.Response{
			newResponse(http.StatusOK, nextLink("https://api.github.com/orgs/test/repos?per_page=100&type=public&page=2"), `[
				{"name":"docs","full_name":"test/docs","stargazers_count":3},
				{"name":"core","full_name":"test/core","stargazers_count":900},
				{"name":"no-stars","full_name":"test/no-stars"}
			]`),
			newResponse(http.StatusOK, nil, `[
				{"name":"cli","full_name":"test/cli","stargazers_count":40},
				{"name":"site","full_name":"test/site","stargazers_count":3}
			]`),
		},
	}
	client := newTestDataClient(t, doer)

	got, err := client.ListTopRepositories(context.Background(), "test", 3)
	if err != nil {
		t.Fatalf("ListTopRepositories() unexpected error: %v", err)
	}
	if got.Status != EndpointStatusOK {
		t.Fatalf("Status = %q, want %q", got.Status, EndpointStatusOK)
	}
	if got.Considered != 5 {
		t.Fatalf("Considered = %d, want 5", got.Considered)
	}

	names := make([]string, 0, len(got.Repositories))
	for _, repo := range got.Repositories {
		names = append(names, repo.Name)
	}
	if strings.Join(names, ",") != "core,cli,docs" {
		t.Fatalf("repositories = %v, want core,cli,docs", names)
	}

	firstQuery := doer.requests[0].URL.Query()
	if doer.requests[0].URL.Path != "/orgs/test/repos" {
		t.Fatalf("path = %q, want /orgs/test/repos", doer.requests[0].URL.Path)
	}
	if firstQuery.Get("type") != "public" || firstQuery.Get("per_page") != "100" {
		t.Fatalf("query = %q, want type=public per_page=100", doer.requests[0].URL.RawQuery)
	}
}

func TestDataClientListTopRepositoriesEdgeCases(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		org        string
		limit      int
		doer       *fakeDoer
		wantErr    bool
		wantStatus EndpointStatus
		wantRepos  int
	}{
		{name: "empty_org_rejected", org: " ", limit: 5, doer: &fakeDoer{}, wantErr: true},
		{name: "zero_limit_rejected", org: "test", limit: 0, doer: &fakeDoer{}, wantErr: true},
		{
			name:       "missing_org_is_empty",
			org:        "ghost",
			limit:      5,
			doer:       &fakeDoer{responses: []*http.Response{newResponse(http.StatusNotFound, nil, ``)}},
			wantStatus: EndpointStatusNotFound,
		},
		{
			name:       "transport_failure_is_empty",
			org:        "test",
			limit:      5,
			doer:       &fakeDoer{errors: []error{fmt.Errorf("connection reset")}},
			wantStatus: EndpointStatusTransportError,
		},
		{
			name:       "no_repositories",
			org:        "test",
			limit:      5,
			doer:       &fakeDoer{responses: []*http.Response{newResponse(http.StatusOK, nil, `[]`)}},
			wantStatus: EndpointStatusOK,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestDataClient(t, tc.doer)
			got, err := client.ListTopRepositories(context.Background(), tc.org, tc.limit)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ListTopRepositories() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ListTopRepositories() unexpected error: %v", err)
			}
			if got.Status != tc.wantStatus {
				t.Fatalf("Status = %q, want %q", got.Status, tc.wantStatus)
			}
			if len(got.Repositories) != tc.wantRepos {
				t.Fatalf("len(Repositories) = %d, want %d", len(got.Repositories), tc.wantRepos)
			}
		})
	}
}

func TestDataClientCountPullRequests(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		doer       *fakeDoer
		wantTotal  int
		wantMerged int
		wantStatus EndpointStatus
	}{
		{
			name: "counts_across_pages",
			doer: &fakeDoer{responses: []*http.Response{
				newResponse(http.StatusOK, nextLink("https://api.github.com/repos/o/r/pulls?page=2"), `[
					{"number":4,"merged_at":"2025-05-01T10:00:00Z"},
					{"number":3,"merged_at":null}
				]`),
				newResponse(http.StatusOK, nil, `[
					{"number":2,"merged_at":"2025-04-01T10:00:00Z"},
					{"number":1}
				]`),
			}},
			wantTotal:  4,
			wantMerged: 2,
			wantStatus: EndpointStatusOK,
		},
		{
			name:       "missing_repository_is_zero",
			doer:       &fakeDoer{responses: []*http.Response{newResponse(http.StatusNotFound, nil, ``)}},
			wantStatus: EndpointStatusNotFound,
		},
		{
			name: "server_error_keeps_counted_pages",
			doer: &fakeDoer{responses: []*http.Response{
				newResponse(http.StatusOK, nextLink("https://api.github.com/repos/o/r/pulls?page=2"), `[
					{"number":2,"merged_at":"2025-05-01T10:00:00Z"}
				]`),
				newResponse(http.StatusServiceUnavailable, nil, ``),
			}},
			wantTotal:  1,
			wantMerged: 1,
			wantStatus: EndpointStatusUnavailable,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestDataClient(t, tc.doer)
			got, err := client.CountPullRequests(context.Background(), "o", "r")
			if err != nil {
				t.Fatalf("CountPullRequests() unexpected error: %v", err)
			}
			if got.Total != tc.wantTotal || got.Merged != tc.wantMerged {
				t.Fatalf("counts = %d/%d, want %d/%d", got.Total, got.Merged, tc.wantTotal, tc.wantMerged)
			}
			if got.Status != tc.wantStatus {
				t.Fatalf("Status = %q, want %q", got.Status, tc.wantStatus)
			}
			if query := tc.doer.requests[0].URL.Query(); query.Get("state") != "all" {
				t.Fatalf("state = %q, want all", query.Get("state"))
			}
		})
	}
}

func TestDataClientListMergedPullRequests(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	newestFirstPage := `[
		{"number":60,"merged_at":"2025-06-20T12:00:00Z"},
		{"number":59,"merged_at":"2025-06-18T12:00:00+02:00"},
		{"number":58,"merged_at":"2025-06-10T00:00:00Z"},
		{"number":57,"merged_at":"2025-06-05T09:30:00Z"},
		{"number":56,"merged_at":"2025-06-01T00:00:00Z"},
		{"number":55,"merged_at":"2025-05-31T23:59:59Z"},
		{"number":54,"merged_at":"2025-06-15T00:00:00Z"}
	]`

	testCases := []struct {
		name              string
		order             PullOrder
		doer              *fakeDoer
		wantNumbers       []int
		wantExamined      int
		wantSkipped       int
		wantReachedCutoff bool
		wantStatus        EndpointStatus
		wantCalls         int
	}{
		{
			name:  "stops_at_first_merge_before_cutoff",
			order: DefaultPullOrder,
			doer: &fakeDoer{responses: []*http.Response{
				newResponse(http.StatusOK, nextLink("https://api.github.com/repos/o/r/pulls?page=2"), newestFirstPage),
				newResponse(http.StatusOK, nil, `[{"number":1,"merged_at":"2025-06-30T00:00:00Z"}]`),
			}},
			wantNumbers:       []int{60, 59, 58, 57, 56},
			wantExamined:      6,
			wantReachedCutoff: true,
			wantStatus:        EndpointStatusStopped,
			wantCalls:         1,
		},
		{
			name:  "filters_without_stopping_for_other_orders",
			order: PullOrder{Sort: "created", Direction: "asc"},
			doer: &fakeDoer{responses: []*http.Response{
				newResponse(http.StatusOK, nil, newestFirstPage),
			}},
			wantNumbers:  []int{60, 59, 58, 57, 56, 54},
			wantExamined: 7,
			wantStatus:   EndpointStatusOK,
			wantCalls:    1,
		},
		{
			name:  "skips_unmerged_and_unparsable",
			order: DefaultPullOrder,
			doer: &fakeDoer{responses: []*http.Response{
				newResponse(http.StatusOK, nextLink("https://api.github.com/repos/o/r/pulls?page=2"), `[
					{"number":9,"merged_at":null},
					{"number":8,"merged_at":"yesterday"},
					{"number":7,"merged_at":"2025-06-02T00:00:00Z"}
				]`),
				newResponse(http.StatusOK, nil, `[
					{"number":6},
					{"number":5,"merged_at":"2025-06-03T00:00:00Z"}
				]`),
			}},
			wantNumbers:  []int{7, 5},
			wantExamined: 5,
			wantSkipped:  1,
			wantStatus:   EndpointStatusOK,
			wantCalls:    2,
		},
		{
			name:         "missing_repository_is_empty",
			order:        DefaultPullOrder,
			doer:         &fakeDoer{responses: []*http.Response{newResponse(http.StatusNotFound, nil, ``)}},
			wantStatus:   EndpointStatusNotFound,
			wantCalls:    1,
			wantExamined: 0,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestDataClient(t, tc.doer)
			got, err := client.ListMergedPullRequests(context.Background(), "o", "r", cutoff, tc.order)
			if err != nil {
				t.Fatalf("ListMergedPullRequests() unexpected error: %v", err)
			}

			numbers := make([]int, 0, len(got.PullRequests))
			for _, pr := range got.PullRequests {
				numbers = append(numbers, pr.Number)
				if pr.MergedAt.Location() != time.UTC {
					t.Fatalf("MergedAt location = %v, want UTC", pr.MergedAt.Location())
				}
			}
			if fmt.Sprint(numbers) != fmt.Sprint(tc.wantNumbers) && !(len(numbers) == 0 && len(tc.wantNumbers) == 0) {
				t.Fatalf("numbers = %v, want %v", numbers, tc.wantNumbers)
			}
			if got.Examined != tc.wantExamined {
				t.Fatalf("Examined = %d, want %d", got.Examined, tc.wantExamined)
			}
			if got.Skipped != tc.wantSkipped {
				t.Fatalf("Skipped = %d, want %d", got.Skipped, tc.wantSkipped)
			}
			if got.ReachedCutoff != tc.wantReachedCutoff {
				t.Fatalf("ReachedCutoff = %t, want %t", got.ReachedCutoff, tc.wantReachedCutoff)
			}
			if got.Status != tc.wantStatus {
				t.Fatalf("Status = %q, want %q", got.Status, tc.wantStatus)
			}
			if tc.doer.callCount != tc.wantCalls {
				t.Fatalf("callCount = %d, want %d", tc.doer.callCount, tc.wantCalls)
			}

			query := tc.doer.requests[0].URL.Query()
			wantOrder := tc.order.withDefaults()
			if query.Get("sort") != wantOrder.Sort || query.Get("direction") != wantOrder.Direction {
				t.Fatalf("query = %q, want sort=%s direction=%s", tc.doer.requests[0].URL.RawQuery, wantOrder.Sort, wantOrder.Direction)
			}
		})
	}
}

func TestPullOrderNewestFirst(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		order PullOrder
		want  bool
	}{
		{order: DefaultPullOrder, want: true},
		{order: PullOrder{}.withDefaults(), want: true},
		{order: PullOrder{Sort: "updated", Direction: "asc"}, want: false},
		{order: PullOrder{Sort: "created", Direction: "desc"}, want: false},
	}
	for _, tc := range testCases {
		if got := tc.order.NewestFirst(); got != tc.want {
			t.Fatalf("%+v.NewestFirst() = %t, want %t", tc.order, got, tc.want)
		}
	}
}

func TestEndpointStatusFromHTTP(t *testing.T) {
	t.Parallel()

	testCases := map[int]EndpointStatus{
		http.StatusOK:                  EndpointStatusOK,
		http.StatusAccepted:            EndpointStatusOK,
		http.StatusNotFound:            EndpointStatusNotFound,
		http.StatusTooManyRequests:     EndpointStatusRateLimited,
		http.StatusUnprocessableEntity: EndpointStatusUnprocessable,
		http.StatusBadGateway:          EndpointStatusUnavailable,
		http.StatusGone:                EndpointStatusUnknown,
	}
	for code, want := range testCases {
		if got := endpointStatusFromHTTP(code); got != want {
			t.Fatalf("endpointStatusFromHTTP(%d) = %q, want %q", code, got, want)
		}
	}
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
