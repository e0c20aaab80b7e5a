package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/glean/internal/item"
	"github.com/hpungsan/glean/internal/session"
)

// Version identifies the rule set. It is recorded on staged items and sessions.
const Version = "strict-markers/1"

// Evidence locations.
const (
	LocationMarker = "strict-marker"
	LocationTopic  = "session-topic"
)

const (
	minCapture   = 10
	maxCapture   = 200
	maxExcerpt   = 200
	maxTopic     = 200
	defaultTopic = "general session work"
)

// Rule families.
const (
	FamilyTodo     = "todo"
	FamilyBug      = "bug"
	FamilyDecision = "decision"
	FamilyWorklog  = "worklog"
)

var (
	userTurn      = regexp.MustCompile(`^\s*USER\b:?`)
	assistantTurn = regexp.MustCompile(`^\s*ASSISTANT\b`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// rule is one marker family compiled to line patterns.
type rule struct {
	family   string
	bucket   item.Bucket
	patterns []*regexp.Regexp
}

// Extractor applies the strict marker rules to cleaned transcript text.
// It is deterministic and holds no per-call state, so one value may be shared.
type Extractor struct {
	rules []rule
}

// New creates an Extractor with the built-in rule families.
func New() *Extractor {
	return &Extractor{
		rules: []rule{
			{
				family: FamilyTodo,
				bucket: item.BucketTodos,
				patterns: []*regexp.Regexp{
					regexp.MustCompile(`(?:^|[^A-Za-z0-9_])(TODO:|FIXME:|ACTION ITEM:)[ \t]*(.*)$`),
					regexp.MustCompile(`^\s*([-*] \[ \])[ \t]+(.*)$`),
				},
			},
			{
				family: FamilyBug,
				bucket: item.BucketBugsOpen,
				patterns: []*regexp.Regexp{
					regexp.MustCompile(`(?:^|[^A-Za-z0-9_])(BUG:|ISSUE:|ERROR:)[ \t]*(.*)$`),
				},
			},
			{
				family: FamilyDecision,
				bucket: item.BucketDecisions,
				patterns: []*regexp.Regexp{
					regexp.MustCompile(`(?:^|[^A-Za-z0-9_])(DECISION:|DECIDED:)[ \t]*(.*)$`),
				},
			},
		},
	}
}

// Extract returns the candidates for one session: a single Work Log item
// first, then every marker match in line order.
func (e *Extractor) Extract(sess *session.Session, transcript *session.Transcript) []item.Candidate {
	slug := sess.Slug()
	if strings.TrimSpace(slug) == "" && transcript.Slug != nil {
		slug = *transcript.Slug
	}
	if strings.TrimSpace(slug) == "" {
		slug = session.SlugUnassigned
	}

	lines := strings.Split(strings.ReplaceAll(transcript.Content, "\r\n", "\n"), "\n")

	candidates := []item.Candidate{worklog(sess.ID, slug, lines)}
	seen := make(map[string]bool)

	for _, line := range lines {
		for _, r := range e.rules {
			capture, marker, ok := r.match(line)
			if !ok {
				continue
			}
			key := strings.ToLower(capture)
			if seen[key] {
				continue
			}
			seen[key] = true

			c := item.Candidate{
				Bucket:  r.bucket,
				Content: capture,
				Evidence: []item.Evidence{{
					SessionID: sess.ID,
					Excerpt:   item.Truncate(strings.TrimSpace(line), maxExcerpt),
					Location:  LocationMarker,
				}},
				Metadata: map[string]any{
					"family": r.family,
					"marker": marker,
				},
			}
			if info, _ := item.Lookup(r.bucket); info.Priority != "" {
				c.Priority = item.StringPtr(info.Priority)
			}
			candidates = append(candidates, c)
		}
	}

	return candidates
}

// match returns the capture of the first pattern in the family that matches
// line with a capture of acceptable length.
func (r rule) match(line string) (capture, marker string, ok bool) {
	for _, re := range r.patterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		capture = strings.TrimSpace(m[2])
		n := utf8.RuneCountInString(capture)
		if n < minCapture || n > maxCapture {
			continue
		}
		return capture, m[1], true
	}
	return "", "", false
}

// worklog builds the one mechanical summary item every session gets.
func worklog(sessionID, slug string, lines []string) item.Candidate {
	topic, turns := topicAndTurns(lines)

	return item.Candidate{
		Bucket:  item.BucketWorkLog,
		Title:   item.StringPtr(fmt.Sprintf("%s: %s", slug, topic)),
		Content: fmt.Sprintf("Worked on %s across %d conversation turns.", slug, turns),
		Evidence: []item.Evidence{{
			SessionID: sessionID,
			Excerpt:   topic,
			Location:  LocationTopic,
		}},
		Metadata: map[string]any{
			"family": FamilyWorklog,
			"turns":  turns,
		},
	}
}

// topicAndTurns finds the text of the first user turn and counts turn markers.
func topicAndTurns(lines []string) (string, int) {
	turns := 0
	var topic []string
	inFirst, done := false, false

	for _, line := range lines {
		isUser := userTurn.MatchString(line)
		isTurn := isUser || assistantTurn.MatchString(line)
		if isTurn {
			turns++
		}

		switch {
		case done:
		case inFirst && isTurn:
			done = true
		case inFirst:
			topic = append(topic, line)
		case isUser:
			inFirst = true
			topic = append(topic, userTurn.ReplaceAllString(line, ""))
		}
	}

	text := strings.TrimSpace(whitespace.ReplaceAllString(strings.Join(topic, " "), " "))
	text = strings.TrimSpace(item.Truncate(text, maxTopic))
	if text == "" {
		text = defaultTopic
	}
	return text, turns
}
