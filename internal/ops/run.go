package ops

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/config"
	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/extract"
	"github.com/hpungsan/glean/internal/item"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/metrics"
	"github.com/hpungsan/glean/internal/session"
	"github.com/hpungsan/glean/internal/validate"
)

// Session outcomes reported per session and recorded as metrics.
const (
	SessionExtracted = "extracted"
	SessionSkipped   = "skipped"
	SessionFailed    = "failed"
	SessionPreviewed = "previewed"
)

// Run results recorded as metrics.
const (
	RunResultOK        = "ok"
	RunResultDryRun    = "dry_run"
	RunResultCancelled = "cancelled"
	RunResultError     = "error"
)

// Extractor turns one session transcript into candidate items.
// *extract.Extractor is the production implementation.
type Extractor interface {
	Extract(sess *session.Session, transcript *session.Transcript) []item.Candidate
}

var _ Extractor = (*extract.Extractor)(nil)

// Deps are the collaborators a run needs. Extractor, Log and Metrics may be nil.
type Deps struct {
	Store     RecordStore
	Resolver  SlugResolver
	Extractor Extractor
	Log       *logging.Logger
	Metrics   *metrics.Metrics
	Clock     func() time.Time // default time.Now
}

// RunInput contains parameters for one extraction run.
type RunInput struct {
	Scheduled bool   // select only cleaned sessions
	SessionID string // process one session instead of a window
	Since     string // lookback window, e.g. "3h"
	Slugs     string // comma-separated gate tokens; "*" admits any real slug
	Status    string // status filter for manual runs; ignored when Scheduled
	DryRun    bool
	Limit     int
	Strict    bool
	Normalize bool // normalize transcript text before extraction
}

// WithDefaults fills unset fields from cfg. slugsSet reports whether the caller
// supplied Slugs explicitly; an explicit empty value is kept so Run rejects it.
func (in RunInput) WithDefaults(cfg *config.Config, slugsSet bool) RunInput {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if !slugsSet {
		in.Slugs = strings.Join(cfg.AllowedSlugs, ",")
	}
	if strings.TrimSpace(in.Since) == "" {
		in.Since = cfg.Lookback
	}
	if in.Limit <= 0 {
		in.Limit = cfg.Limit
	}
	in.Strict = in.Strict || cfg.StrictSelection
	in.Normalize = in.Normalize || cfg.NormalizeTranscripts
	return in
}

// RunFilter echoes the effective selection parameters.
type RunFilter struct {
	Mode      string   `json:"mode"`
	SessionID string   `json:"session_id,omitempty"`
	Since     string   `json:"since,omitempty"`
	Status    string   `json:"status,omitempty"`
	Slugs     []string `json:"slugs"`
	Limit     int      `json:"limit"`
	Strict    bool     `json:"strict"`
}

// BucketCounts tracks items for one bucket across a run.
type BucketCounts struct {
	Extracted  int `json:"extracted"`
	Valid      int `json:"valid"`
	Invalid    int `json:"invalid"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// ItemPreview is a candidate as shown in a dry-run report.
type ItemPreview struct {
	Bucket   item.Bucket     `json:"bucket"`
	Title    *string         `json:"title,omitempty"`
	Content  string          `json:"content"`
	Priority *string         `json:"priority,omitempty"`
	Evidence []item.Evidence `json:"evidence"`
	Reason   string          `json:"reason,omitempty"`
}

// SessionReport describes what happened to one session.
type SessionReport struct {
	SessionID  string        `json:"session_id"`
	Slug       string        `json:"slug,omitempty"`
	Outcome    string        `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Extracted  int           `json:"extracted"`
	Valid      int           `json:"valid"`
	Invalid    int           `json:"invalid"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Rejected   int           `json:"rejected"`
	ProjectID  string        `json:"project_id,omitempty"`
	Items      []ItemPreview `json:"items,omitempty"`         // dry run only
	Rejects    []ItemPreview `json:"invalid_items,omitempty"` // dry run only
}

// RunStats is the report for one run.
type RunStats struct {
	RunID      string    `json:"run_id"`
	DryRun     bool      `json:"dry_run"`
	Cancelled  bool      `json:"cancelled,omitempty"`
	StartedAt  int64     `json:"started_at"`
	FinishedAt int64     `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
	Filter     RunFilter `json:"filter"`

	SessionsScanned   int `json:"sessions_scanned"`
	SessionsProcessed int `json:"sessions_processed"`
	SessionsSkipped   int `json:"sessions_skipped"`
	SessionsFailed    int `json:"sessions_failed"`

	ItemsExtracted      int `json:"items_extracted"`
	ItemsValid          int `json:"items_valid"`
	ItemsInvalid        int `json:"items_invalid"`
	ItemsInserted       int `json:"items_inserted"`
	Duplicates          int `json:"duplicates"`
	Rejected            int `json:"rejected"`
	GuardrailRejections int `json:"guardrail_rejections"`
	Errors              int `json:"errors"`

	ByBucket map[item.Bucket]*BucketCounts `json:"by_bucket"`
	Sessions []SessionReport               `json:"sessions"`
}

func (s *RunStats) bucket(b item.Bucket) *BucketCounts {
	bc, ok := s.ByBucket[b]
	if !ok {
		bc = &BucketCounts{}
		s.ByBucket[b] = bc
	}
	return bc
}

// Record converts the stats into the persisted run row.
func (s *RunStats) Record() (*db.RunRecord, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return &db.RunRecord{
		ID:                s.RunID,
		StartedAt:         s.StartedAt,
		FinishedAt:        s.FinishedAt,
		DurationMS:        s.DurationMS,
		SessionsScanned:   s.SessionsScanned,
		SessionsProcessed: s.SessionsProcessed,
		ItemsInserted:     s.ItemsInserted,
		Duplicates:        s.Duplicates,
		Rejected:          s.Rejected,
		Errors:            s.Errors,
		Stats:             raw,
	}, nil
}

// Run executes one extraction pass: select sessions, then for each one load,
// extract, validate, stage and mark. A failing session is counted and the loop
// moves on. The returned error is non-nil only for an unusable slug filter,
// cancellation, or a failure outside the per-session loop; stats are returned
// whenever the run started.
func Run(ctx context.Context, deps Deps, input RunInput) (*RunStats, error) {
	allowed, ok := session.ParseSlugs(input.Slugs)
	if !ok {
		return nil, errors.NewNoValidSlugs(input.Slugs)
	}

	log := deps.Log
	if log == nil {
		log = logging.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = extract.New()
	}

	if ctx.Err() != nil {
		return nil, errors.NewCancelled("extract run")
	}

	started := clock()
	runID, err := ulid.New(ulid.Timestamp(started), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("generate run id: %w", err))
	}
	ctx = logging.WithRunID(ctx, runID.String())

	stats := &RunStats{
		RunID:     runID.String(),
		DryRun:    input.DryRun,
		StartedAt: started.UnixMilli(),
		Filter:    buildFilter(input, allowed),
		ByBucket:  map[item.Bucket]*BucketCounts{},
		Sessions:  []SessionReport{},
	}

	log.Info(ctx, "extraction run started",
		zap.String("mode", stats.Filter.Mode),
		zap.Strings("slugs", stats.Filter.Slugs),
		zap.Bool("dry_run", input.DryRun))

	selected := SelectSessions(ctx, deps.Store, log, SelectInput{
		SessionID: input.SessionID,
		Lookback:  stats.Filter.Since,
		Status:    stats.Filter.Status,
		Allowed:   allowed,
		Limit:     stats.Filter.Limit,
		Strict:    input.Strict,
		Now:       started,
	})
	stats.SessionsScanned = len(selected)

	r := &runner{deps: deps, log: log, clock: clock, input: input, stats: stats, extractor: extractor}
	for i := range selected {
		if ctx.Err() != nil {
			stats.Cancelled = true
			log.Warn(ctx, "extraction run cancelled",
				zap.Int("remaining", len(selected)-i))
			break
		}
		r.process(ctx, &selected[i])
	}

	finished := clock()
	stats.FinishedAt = finished.UnixMilli()
	stats.DurationMS = finished.Sub(started).Milliseconds()

	var runErr error
	if !input.DryRun {
		runErr = r.persist(ctx)
	}

	result := RunResultOK
	switch {
	case stats.Cancelled:
		result = RunResultCancelled
		runErr = errors.NewCancelled("extract run")
	case runErr != nil:
		result = RunResultError
	case input.DryRun:
		result = RunResultDryRun
	}
	if deps.Metrics != nil {
		deps.Metrics.RecordRun(result, finished.Sub(started))
	}

	log.Info(ctx, "extraction run finished",
		zap.String("result", result),
		zap.Int("sessions_scanned", stats.SessionsScanned),
		zap.Int("sessions_processed", stats.SessionsProcessed),
		zap.Int("sessions_failed", stats.SessionsFailed),
		zap.Int("items_inserted", stats.ItemsInserted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int64("duration_ms", stats.DurationMS))

	return stats, runErr
}

func buildFilter(input RunInput, allowed []string) RunFilter {
	f := RunFilter{
		Mode:   "manual",
		Since:  strings.TrimSpace(input.Since),
		Status: strings.TrimSpace(input.Status),
		Slugs:  allowed,
		Limit:  input.Limit,
		Strict: input.Strict,
	}
	if f.Limit <= 0 {
		f.Limit = config.DefaultLimit
	}
	if input.Scheduled {
		f.Mode = "scheduled"
		f.Status = session.StatusCleaned
	}
	if id := strings.TrimSpace(input.SessionID); id != "" {
		f.Mode = "session"
		f.SessionID = id
	}
	if f.Slugs == nil {
		f.Slugs = []string{}
	}
	return f
}

// runner holds per-run state shared by the session loop.
type runner struct {
	deps      Deps
	log       *logging.Logger
	clock     func() time.Time
	input     RunInput
	stats     *RunStats
	extractor Extractor
}

// process handles one session and folds its report into the run stats.
// Panics are recovered and counted like any other session error.
func (r *runner) process(ctx context.Context, sess *session.Session) {
	ctx = logging.WithSessionID(ctx, sess.ID)
	rep := SessionReport{SessionID: sess.ID, Slug: sess.Slug()}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error(ctx, "session processing panicked", zap.Any("panic", p))
			r.fail(ctx, &rep, ReasonProcessingError)
			r.stats.Errors++
		}
		r.record(rep)
	}()

	if err := r.extractSession(ctx, sess, &rep); err != nil {
		r.log.Error(ctx, "session processing failed", zap.Error(err))
		r.fail(ctx, &rep, ReasonProcessingError)
		r.stats.Errors++
	}
}

func (r *runner) extractSession(ctx context.Context, sess *session.Session, rep *SessionReport) error {
	t, err := LoadTranscript(ctx, r.deps.Store, r.log, sess.ID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	if t != nil && r.input.Normalize {
		t.Content = session.NormalizeTranscript(t.Content)
		if strings.TrimSpace(t.Content) == "" {
			t = nil
		}
	}
	if t == nil {
		r.log.Info(ctx, "session skipped: no cleaned transcript")
		rep.Outcome = SessionSkipped
		rep.Reason = ReasonNoTranscript
		r.annotate(ctx, sess.ID, ReasonNoTranscript)
		return nil
	}

	candidates := r.extractor.Extract(sess, t)
	res := validate.Validate(candidates)

	rep.Extracted = len(candidates)
	rep.Valid = len(res.Valid)
	rep.Invalid = len(res.Invalid)
	for _, c := range candidates {
		r.stats.bucket(c.Bucket).Extracted++
	}
	for _, c := range res.Valid {
		r.stats.bucket(c.Bucket).Valid++
	}
	for _, inv := range res.Invalid {
		r.stats.bucket(inv.Item.Bucket).Invalid++
		if r.deps.Metrics != nil && !r.input.DryRun {
			r.deps.Metrics.RecordItems(string(inv.Item.Bucket), metrics.OutcomeInvalid, 1)
		}
		r.log.Debug(ctx, "candidate rejected",
			zap.String("bucket", string(inv.Item.Bucket)), zap.String("reason", inv.Reason))
	}

	if r.input.DryRun {
		for _, c := range res.Valid {
			rep.Items = append(rep.Items, preview(c, ""))
		}
		for _, inv := range res.Invalid {
			rep.Rejects = append(rep.Rejects, preview(inv.Item, inv.Reason))
		}
	}

	if len(res.Valid) == 0 {
		r.fail(ctx, rep, ReasonNoValidItems)
		return nil
	}

	if r.input.DryRun {
		rep.Outcome = SessionPreviewed
		return nil
	}

	out := Stage(ctx, r.deps.Store, r.deps.Resolver, r.log, StageInput{
		SessionID:   sess.ID,
		ProjectSlug: sess.ProjectSlug,
		Items:       res.Valid,
		Now:         r.clock(),
	})
	rep.Inserted = out.Inserted
	rep.Duplicates = out.Duplicates
	rep.Rejected = out.Rejected
	rep.ProjectID = out.ProjectID
	for b, bo := range out.ByBucket {
		bc := r.stats.bucket(b)
		bc.Inserted += bo.Inserted
		bc.Duplicates += bo.Duplicates
		bc.Rejected += bo.Rejected
		if r.deps.Metrics != nil {
			r.deps.Metrics.RecordItems(string(b), metrics.OutcomeInserted, bo.Inserted)
			r.deps.Metrics.RecordItems(string(b), metrics.OutcomeDuplicate, bo.Duplicates)
			r.deps.Metrics.RecordItems(string(b), metrics.OutcomeRejected, bo.Rejected)
		}
	}

	switch {
	case out.Error != "":
		r.stats.GuardrailRejections++
		if r.deps.Metrics != nil {
			r.deps.Metrics.RecordGuardrailRejection()
		}
		r.fail(ctx, rep, ReasonProjectUnresolved)
	case out.Inserted == 0 && out.Duplicates == 0:
		r.fail(ctx, rep, ReasonAllItemsRejected)
	default:
		MarkExtracted(ctx, r.deps.Store, r.log, r.markInput(sess.ID), out)
		rep.Outcome = SessionExtracted
	}
	return nil
}

// fail sets a failed outcome and annotates the session unless this is a dry run.
func (r *runner) fail(ctx context.Context, rep *SessionReport, reason string) {
	rep.Outcome = SessionFailed
	rep.Reason = reason
	r.annotate(ctx, rep.SessionID, reason)
}

func (r *runner) annotate(ctx context.Context, sessionID, reason string) {
	if r.input.DryRun {
		return
	}
	MarkFailed(ctx, r.deps.Store, r.log, r.markInput(sessionID), reason)
}

func (r *runner) markInput(sessionID string) MarkInput {
	return MarkInput{SessionID: sessionID, RunID: r.stats.RunID, Now: r.clock()}
}

// record folds a finished session report into the run totals.
func (r *runner) record(rep SessionReport) {
	s := r.stats
	switch rep.Outcome {
	case SessionExtracted, SessionPreviewed:
		s.SessionsProcessed++
	case SessionSkipped:
		s.SessionsSkipped++
	case SessionFailed:
		s.SessionsFailed++
	}
	s.ItemsExtracted += rep.Extracted
	s.ItemsValid += rep.Valid
	s.ItemsInvalid += rep.Invalid
	s.ItemsInserted += rep.Inserted
	s.Duplicates += rep.Duplicates
	s.Rejected += rep.Rejected
	s.Sessions = append(s.Sessions, rep)

	if r.deps.Metrics != nil && !r.input.DryRun {
		r.deps.Metrics.RecordSession(rep.Outcome)
	}
}

// persist stores the run report. Cancellation of ctx does not prevent it.
func (r *runner) persist(ctx context.Context) error {
	rec, err := r.stats.Record()
	if err != nil {
		return errors.NewInternal(fmt.Errorf("encode run stats: %w", err))
	}
	if err := r.deps.Store.InsertRun(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Error(ctx, "failed to record run", zap.Error(err))
		return err
	}
	return nil
}

func preview(c item.Candidate, reason string) ItemPreview {
	return ItemPreview{
		Bucket:   c.Bucket,
		Title:    c.Title,
		Content:  c.Content,
		Priority: c.Priority,
		Evidence: c.Evidence,
		Reason:   reason,
	}
}
