package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hpungsan/glean/internal/item"
)

// Schema and content bounds, measured in runes.
const (
	MinContentChars   = 5
	MaxContentChars   = 10000
	MinTitleChars     = 1
	MaxTitleChars     = 500
	MinMeaningfulText = 10
)

var (
	ordinalPrefix = regexp.MustCompile(`^\[\d+\]`)
	schemePrefix  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)
)

// Invalid is a rejected candidate with every reason it failed, joined by "; ".
type Invalid struct {
	Item   item.Candidate
	Reason string
}

// Result partitions a batch. Both slices keep input order.
type Result struct {
	Valid   []item.Candidate
	Invalid []Invalid
}

// Validate splits candidates into valid and invalid. Items are never modified.
func Validate(candidates []item.Candidate) Result {
	var res Result
	for _, c := range candidates {
		if reasons := Check(c); len(reasons) > 0 {
			res.Invalid = append(res.Invalid, Invalid{Item: c, Reason: strings.Join(reasons, "; ")})
			continue
		}
		res.Valid = append(res.Valid, c)
	}
	return res
}

// Check returns every reason c is invalid, in rule order. Empty means valid.
func Check(c item.Candidate) []string {
	var reasons []string

	// Structural schema
	if !c.Bucket.Valid() {
		reasons = append(reasons, fmt.Sprintf("unknown bucket %q", c.Bucket))
	}
	contentChars := utf8.RuneCountInString(c.Content)
	if contentChars < MinContentChars || contentChars > MaxContentChars {
		reasons = append(reasons, fmt.Sprintf("content length %d outside [%d, %d]", contentChars, MinContentChars, MaxContentChars))
	}
	if c.Title != nil {
		titleChars := utf8.RuneCountInString(*c.Title)
		if titleChars < MinTitleChars || titleChars > MaxTitleChars {
			reasons = append(reasons, fmt.Sprintf("title length %d outside [%d, %d]", titleChars, MinTitleChars, MaxTitleChars))
		}
	}
	if len(c.Evidence) == 0 {
		reasons = append(reasons, "evidence is empty")
	}
	for i, ev := range c.Evidence {
		if ev.SessionID == "" {
			reasons = append(reasons, fmt.Sprintf("evidence[%d] has no session reference", i))
		}
	}

	// Content present
	trimmed := strings.TrimSpace(c.Content)
	if trimmed == "" {
		reasons = append(reasons, "content is empty")
	}

	// Evidence points at a session
	if !hasSessionReference(c.Evidence) {
		reasons = append(reasons, "no evidence references a session")
	}

	// Too short to be useful, even if the schema bound passed
	if utf8.RuneCountInString(trimmed) < MinMeaningfulText {
		reasons = append(reasons, fmt.Sprintf("content shorter than %d characters", MinMeaningfulText))
	}

	// Transcript formatting leaking into titles
	if c.Title != nil {
		if reason := titleArtifact(*c.Title); reason != "" {
			reasons = append(reasons, reason)
		}
	}

	return reasons
}

func hasSessionReference(evidence []item.Evidence) bool {
	for _, ev := range evidence {
		if strings.TrimSpace(ev.SessionID) != "" {
			return true
		}
	}
	return false
}

// titleArtifact returns why title looks like a formatting artifact, or "".
func titleArtifact(title string) string {
	t := strings.TrimSpace(title)
	switch {
	case t == "":
		return "title is blank"
	case strings.HasPrefix(t, "|"):
		return "title begins with a table pipe"
	case ordinalPrefix.MatchString(t):
		return "title begins with a bracketed ordinal"
	case schemePrefix.MatchString(t):
		return "title begins with a URL"
	case !strings.ContainsFunc(t, unicode.IsLetter):
		return "title has no letters"
	}
	return ""
}
