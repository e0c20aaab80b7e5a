package item

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// Bucket is the closed-set category label of an extracted item.
type Bucket string

const (
	BucketTodos     Bucket = "Todos"
	BucketBugsOpen  Bucket = "Bugs Open"
	BucketDecisions Bucket = "Decisions"
	BucketWorkLog   Bucket = "Work Log"
)

// Priorities assigned by extraction and staging.
const (
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// StatusPending is the only status the stager writes.
const StatusPending = "pending"

// BucketInfo describes one row of the bucket table.
type BucketInfo struct {
	Bucket   Bucket
	Category string
	// Priority is the default priority; empty means none.
	Priority string
}

// buckets is the single owned table of buckets. Extraction, validation and
// staging all read it through Lookup and Buckets.
var buckets = []BucketInfo{
	{Bucket: BucketTodos, Category: "todo", Priority: PriorityMedium},
	{Bucket: BucketBugsOpen, Category: "bug", Priority: PriorityHigh},
	{Bucket: BucketDecisions, Category: "decision"},
	{Bucket: BucketWorkLog, Category: "worklog"},
}

// Buckets returns the bucket table in its fixed order.
func Buckets() []BucketInfo {
	out := make([]BucketInfo, len(buckets))
	copy(out, buckets)
	return out
}

// Lookup returns the table row for b.
func Lookup(b Bucket) (BucketInfo, bool) {
	for _, info := range buckets {
		if info.Bucket == b {
			return info, true
		}
	}
	return BucketInfo{}, false
}

// Valid reports whether b is in the bucket table.
func (b Bucket) Valid() bool {
	_, ok := Lookup(b)
	return ok
}

// Category returns the derived category, or "" for an unknown bucket.
func (b Bucket) Category() string {
	info, _ := Lookup(b)
	return info.Category
}

// Evidence points an item back at the session text it came from.
type Evidence struct {
	SessionID string `json:"session_id"`
	Excerpt   string `json:"excerpt"`
	Location  string `json:"location"`
}

// Candidate is an extracted item before validation. It is never persisted directly.
type Candidate struct {
	Bucket   Bucket
	Title    *string
	Content  string
	Priority *string
	Evidence []Evidence
	Metadata map[string]any
}

// Staged is the durable record written for a validated, deduplicated,
// project-attributed item.
type Staged struct {
	ID          string         `json:"id"`
	Bucket      Bucket         `json:"bucket"`
	Category    string         `json:"category"`
	Content     string         `json:"content"`
	Title       string         `json:"title"`
	Priority    string         `json:"priority"`
	Status      string         `json:"status"`
	SessionID   string         `json:"session_id"`
	ProjectID   string         `json:"project_id"`
	Fingerprint string         `json:"fingerprint"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   int64          `json:"created_at"`
}

// FingerprintPrefixRunes is how much of the content feeds the fingerprint.
const FingerprintPrefixRunes = 200

// Fingerprint returns the dedup key for a candidate: hex SHA-256 over
// title, the first 200 runes of content, and the first evidence session,
// separated by NUL bytes.
func Fingerprint(c Candidate) string {
	title := ""
	if c.Title != nil {
		title = *c.Title
	}
	sessionID := ""
	if len(c.Evidence) > 0 {
		sessionID = c.Evidence[0].SessionID
	}

	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(Truncate(c.Content, FingerprintPrefixRunes)))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	return hex.EncodeToString(h.Sum(nil))
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// FirstLine returns the first line of s with surrounding whitespace removed.
func FirstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
