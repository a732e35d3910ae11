package githubapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestRESTClientGetOrgProfile(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		handler    http.HandlerFunc
		org        string
		wantOK     bool
		want       OrgProfile
		wantCalled bool
	}{
		{
			name: "returns_profile_fields",
			org:  "kubernetes",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v3/orgs/kubernetes" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				if got := r.Header.Get("Authorization"); got != "Bearer ghp_test" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"login":"kubernetes","name":"Kubernetes","followers":5120,"public_repos":77,"description":"Production-Grade Container Orchestration"}`))
			},
			wantOK: true,
			want: OrgProfile{
				Login:       "kubernetes",
				Name:        "Kubernetes",
				Followers:   5120,
				PublicRepos: 77,
				Bio:         "Production-Grade Container Orchestration",
			},
			wantCalled: true,
		},
		{
			name: "not_found_is_missing",
			org:  "ghost",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			},
			wantCalled: true,
		},
		{
			name: "rate_limited_is_missing",
			org:  "busy",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", "1739837000")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
			},
			wantCalled: true,
		},
		{
			name: "blank_org_skips_request",
			org:  "  ",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var called atomic.Bool
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called.Store(true)
				tc.handler(w, r)
			}))
			defer server.Close()

			client, err := NewGitHubRESTClient(server.Client(), server.URL+"/api/v3", "ghp_test")
			if err != nil {
				t.Fatalf("NewGitHubRESTClient() unexpected error: %v", err)
			}

			got, ok := client.GetOrgProfile(context.Background(), tc.org)
			if ok != tc.wantOK {
				t.Fatalf("GetOrgProfile() ok = %t, want %t", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Fatalf("GetOrgProfile() = %+v, want %+v", got, tc.want)
			}
			if called.Load() != tc.wantCalled {
				t.Fatalf("server called = %t, want %t", called.Load(), tc.wantCalled)
			}
		})
	}
}
