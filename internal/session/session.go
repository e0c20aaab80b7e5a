package session

import "strings"

// Session lifecycle tags the pipeline reads or writes.
// Upstream may use other tags; they pass through untouched.
const (
	StatusCleaned   = "cleaned"
	StatusExtracted = "extracted"
)

// Reserved slugs that never name a real project.
const (
	SlugUnassigned = "unassigned"
	SlugTerminal   = "terminal"
)

// Session is a conversational record owned by the ingestion side.
// The pipeline only reads it and, on success, advances Status.
type Session struct {
	ID string

	// ProjectSlug is free text and may be nil.
	ProjectSlug *string

	Status string

	// Summary is an optional one-paragraph description written upstream.
	Summary *string

	// CreatedAt is Unix milliseconds.
	CreatedAt int64

	// ExtractedAt is set when Status becomes extracted.
	ExtractedAt *int64

	// Extraction holds the metadata attached on a successful extraction.
	Extraction map[string]any

	// Failure holds the most recent failure annotation, if any.
	Failure map[string]any
}

// Slug returns the project slug or "" when absent.
func (s *Session) Slug() string {
	if s.ProjectSlug == nil {
		return ""
	}
	return *s.ProjectSlug
}

// Transcript is the cleaned text for one session plus optional enrichment.
type Transcript struct {
	SessionID string
	Content   string

	// Summary and Slug come from the session record when it is available.
	Summary *string
	Slug    *string

	// FileRefs lists files referenced during the session.
	FileRefs []string

	CreatedAt int64
}

// IsSentinel reports whether slug is one of the reserved non-project values.
func IsSentinel(slug string) bool {
	switch strings.ToLower(strings.TrimSpace(slug)) {
	case SlugUnassigned, SlugTerminal:
		return true
	}
	return false
}

// Admit is the truth gate for session selection.
// A slug is admitted when it is non-empty and either
// allowed is empty and the slug is not a sentinel, or
// the slug contains at least one allowed token (case-insensitive).
func Admit(slug string, allowed []string) bool {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return false
	}
	if len(allowed) == 0 {
		return !IsSentinel(slug)
	}
	for _, token := range allowed {
		token = strings.ToLower(strings.TrimSpace(token))
		if token != "" && strings.Contains(slug, token) {
			return true
		}
	}
	return false
}

// ParseSlugs splits a comma-separated slug filter into gate tokens.
// Tokens are trimmed and lowercased; empty tokens are dropped.
// A "*" token means any non-sentinel slug and yields an empty allowlist.
// ok is false when no usable token remains.
func ParseSlugs(raw string) (allowed []string, ok bool) {
	return NormalizeSlugs(strings.Split(raw, ","))
}

// NormalizeSlugs applies ParseSlugs rules to an already split list.
func NormalizeSlugs(tokens []string) (allowed []string, ok bool) {
	seen := make(map[string]bool)
	wildcard := false
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if t == "*" {
			wildcard = true
			continue
		}
		allowed = append(allowed, t)
	}
	if wildcard {
		return nil, true
	}
	return allowed, len(allowed) > 0
}
