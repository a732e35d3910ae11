package githubapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"
	"go.uber.org/zap"
)

// RESTClient wraps the go-github REST client.
type RESTClient struct {
	Client *github.Client
	logger *zap.Logger
}

// NewHTTPClient creates the shared HTTP client used for GitHub calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// NewGitHubRESTClient creates a go-github client with an optional bearer token
// and API base URL override.
func NewGitHubRESTClient(httpClient *http.Client, apiBaseURL, token string, logger ...*zap.Logger) (*RESTClient, error) {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}

	log := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}

	client := github.NewClient(httpClient)
	if trimmedToken := strings.TrimSpace(token); trimmedToken != "" {
		client = client.WithAuthToken(trimmedToken)
	}

	trimmedBaseURL := strings.TrimSpace(apiBaseURL)
	if trimmedBaseURL == "" {
		return &RESTClient{Client: client, logger: log}, nil
	}

	parsedURL, err := url.Parse(trimmedBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}

	client.BaseURL = parsedURL
	return &RESTClient{Client: client, logger: log}, nil
}
