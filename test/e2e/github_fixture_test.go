//go:build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fixturePull struct {
	Number   int
	MergedAt time.Time
}

type fixtureProfile struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	Followers   int    `json:"followers"`
	PublicRepos int    `json:"public_repos"`
	Description string `json:"description"`
}

type fixtureRepo struct {
	Name            string `json:"name"`
	FullName        string `json:"full_name"`
	StargazersCount int    `json:"stargazers_count"`
}

type fakeGitHubAPI struct {
	server *httptest.Server

	mu        sync.Mutex
	profiles  map[string]fixtureProfile
	orgRepos  map[string][]fixtureRepo
	pulls     map[string][]fixturePull
	callCount map[string]int
}

func newFakeGitHubAPI(t *testing.T) *fakeGitHubAPI {
	t.Helper()

	fixture := &fakeGitHubAPI{
		profiles:  make(map[string]fixtureProfile),
		orgRepos:  make(map[string][]fixtureRepo),
		pulls:     make(map[string][]fixturePull),
		callCount: make(map[string]int),
	}
	fixture.server = httptest.NewServer(http.HandlerFunc(fixture.serveHTTP))
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *fakeGitHubAPI) URL() string {
	return f.server.URL
}

func (f *fakeGitHubAPI) SetOrganization(profile fixtureProfile, repos []fixtureRepo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.Login] = profile
	f.orgRepos[profile.Login] = append([]fixtureRepo(nil), repos...)
}

func (f *fakeGitHubAPI) SetPulls(owner, repo string, pulls []fixturePull) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls[owner+"/"+repo] = append([]fixturePull(nil), pulls...)
}

func (f *fakeGitHubAPI) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount[path]
}

func (f *fakeGitHubAPI) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount[r.URL.Path]++

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "orgs":
		profile, ok := f.profiles[parts[1]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case len(parts) == 3 && parts[0] == "orgs" && parts[2] == "repos":
		repos, ok := f.orgRepos[parts[1]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, repos)
	case len(parts) == 4 && parts[0] == "repos" && parts[3] == "pulls":
		pulls := f.pulls[parts[1]+"/"+parts[2]]
		payload := make([]map[string]any, 0, len(pulls))
		for _, pull := range pulls {
			item := map[string]any{"number": pull.Number, "merged_at": nil}
			if !pull.MergedAt.IsZero() {
				item["merged_at"] = pull.MergedAt.UTC().Format(time.RFC3339)
			}
			payload = append(payload, item)
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
