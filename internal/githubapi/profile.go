package githubapi

import (
	"context"
	"errors"
	"strings"

	"github.com/cam3ron2/org-merge-stats/internal/telemetry"
	"github.com/google/go-github/v75/github"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrgProfile is the subset of an organization profile stored in snapshots.
type OrgProfile struct {
	Login       string
	Name        string
	Followers   int
	PublicRepos int
	Bio         string
}

// GetOrgProfile reads GET /orgs/{org}. Any failure, including a missing
// organization or a rate limit, reports ok=false.
func (c *RESTClient) GetOrgProfile(ctx context.Context, org string) (OrgProfile, bool) {
	trimmedOrg := strings.TrimSpace(org)
	if c == nil || c.Client == nil || trimmedOrg == "" {
		return OrgProfile{}, false
	}

	ctx, span := telemetry.StartDependencySpan(ctx, "githubapi", "githubapi.orgs.get",
		attribute.String("github.org", trimmedOrg),
	)
	organization, resp, err := c.Client.Organizations.Get(ctx, trimmedOrg)
	telemetry.EndSpan(span, err)
	if err != nil {
		fields := []zap.Field{zap.String("org", trimmedOrg), zap.Error(err)}
		if resp != nil {
			fields = append(fields, zap.Int("status", resp.StatusCode))
		}
		var rateErr *github.RateLimitError
		var abuseErr *github.AbuseRateLimitError
		switch {
		case errors.As(err, &rateErr), errors.As(err, &abuseErr):
			c.logger.Warn("organization profile rate limited", fields...)
		default:
			c.logger.Info("organization profile unavailable", fields...)
		}
		return OrgProfile{}, false
	}
	if organization == nil || resp == nil || resp.StatusCode != 200 {
		return OrgProfile{}, false
	}

	return OrgProfile{
		Login:       organization.GetLogin(),
		Name:        organization.GetName(),
		Followers:   organization.GetFollowers(),
		PublicRepos: organization.GetPublicRepos(),
		Bio:         organization.GetDescription(),
	}, true
}
