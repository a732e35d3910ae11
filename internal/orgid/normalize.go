// Package orgid derives canonical organization handles from loosely structured
// seed records.
package orgid

import (
	"net/url"
	"strings"

	"github.com/samber/lo"
)

const (
	sourceHost        = "github.com"
	orgsPathMarker    = "orgs"
	unknownName       = "Unknown"
	repositorySuffix  = ".git"
	handleMentionMark = "@"
)

// Record is a seed organization row. Every source field is optional.
type Record struct {
	ID        int64
	Name      *string
	GitHubURL *string
	Slug      *string
}

// Organization is a normalized organization ready for API calls.
type Organization struct {
	ID          int64
	DisplayName string
	Handle      string
}

// Batch is the result of normalizing a set of records.
type Batch struct {
	Organizations        []Organization
	SkippedWithoutHandle int
	Duplicates           int
}

// HandleFromURL extracts an organization handle from a profile URL.
// Returns an empty string when the URL has no usable path segment.
func HandleFromURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}

	segments := lo.Filter(strings.Split(parsed.Path, "/"), func(segment string, _ int) bool {
		return segment != ""
	})
	if len(segments) == 0 {
		return ""
	}

	if !strings.Contains(strings.ToLower(parsed.Host), sourceHost) {
		return segments[len(segments)-1]
	}
	if strings.EqualFold(segments[0], orgsPathMarker) {
		if len(segments) >= 2 {
			return segments[1]
		}
	}
	return segments[0]
}

// CanonicalHandle lowercases a handle and strips decorations that are not
// valid in an API path segment.
func CanonicalHandle(raw string) string {
	handle := strings.TrimLeft(strings.TrimSpace(raw), handleMentionMark)
	handle = strings.ReplaceAll(handle, " ", "-")
	handle = strings.ToLower(handle)
	return strings.TrimSuffix(handle, repositorySuffix)
}

func handleFromSlug(raw string) string {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

// Normalize converts seed records into unique organizations, preserving input
// order. When startFromID is set, records with a lower id are excluded both
// before and after normalization.
func Normalize(records []Record, startFromID *int64) Batch {
	var batch Batch

	inRange := func(id int64) bool {
		return startFromID == nil || id >= *startFromID
	}

	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		if !inRange(record.ID) {
			continue
		}

		handle := ""
		if record.GitHubURL != nil {
			handle = HandleFromURL(*record.GitHubURL)
		}
		if handle == "" && record.Slug != nil {
			handle = handleFromSlug(*record.Slug)
		}
		handle = CanonicalHandle(handle)
		if handle == "" {
			batch.SkippedWithoutHandle++
			continue
		}

		if _, duplicate := seen[handle]; duplicate {
			batch.Duplicates++
			continue
		}
		seen[handle] = struct{}{}

		batch.Organizations = append(batch.Organizations, Organization{
			ID:          record.ID,
			DisplayName: displayName(record),
			Handle:      handle,
		})
	}

	batch.Organizations = lo.Filter(batch.Organizations, func(org Organization, _ int) bool {
		return inRange(org.ID)
	})
	return batch
}

func displayName(record Record) string {
	if record.Name != nil && strings.TrimSpace(*record.Name) != "" {
		return *record.Name
	}
	if record.Slug != nil && strings.TrimSpace(*record.Slug) != "" {
		return *record.Slug
	}
	return unknownName
}
