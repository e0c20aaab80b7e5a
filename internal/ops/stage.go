package ops

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/extract"
	"github.com/hpungsan/glean/internal/item"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/project"
)

// MaxDerivedTitleChars bounds a title derived from content.
const MaxDerivedTitleChars = 200

// SlugResolver maps a project slug to a project identity.
// *project.Resolver is the production implementation.
type SlugResolver interface {
	Resolve(ctx context.Context, slug string) (project.Resolution, bool)
}

var _ SlugResolver = (*project.Resolver)(nil)

// StageInput contains parameters for the Stage operation.
type StageInput struct {
	SessionID   string
	ProjectSlug *string          // may be nil; nil is unresolvable
	Items       []item.Candidate // already validated
	Now         time.Time        // zero means time.Now()
}

// BucketOutcome counts staging outcomes for one bucket.
type BucketOutcome struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// StageOutput contains the result of the Stage operation.
type StageOutput struct {
	Inserted   int                            `json:"inserted"`
	Duplicates int                            `json:"duplicates"`
	Rejected   int                            `json:"rejected"`
	Error      string                         `json:"error,omitempty"` // guardrail tag when the batch was refused
	ProjectID  string                         `json:"project_id,omitempty"`
	ByBucket   map[item.Bucket]*BucketOutcome `json:"by_bucket,omitempty"`
}

func (o *StageOutput) bucket(b item.Bucket) *BucketOutcome {
	bo, ok := o.ByBucket[b]
	if !ok {
		bo = &BucketOutcome{}
		o.ByBucket[b] = bo
	}
	return bo
}

// Stage writes validated items to the staging area under a resolved project.
// If the project cannot be resolved the whole batch is rejected. Items whose
// fingerprint already exists are counted as duplicates. Per-item store errors
// are counted as rejected and do not stop the batch.
func Stage(ctx context.Context, store RecordStore, resolver SlugResolver, log *logging.Logger, input StageInput) *StageOutput {
	out := &StageOutput{ByBucket: map[item.Bucket]*BucketOutcome{}}
	if len(input.Items) == 0 {
		return out
	}

	slug := ""
	if input.ProjectSlug != nil {
		slug = *input.ProjectSlug
	}
	res, ok := resolver.Resolve(ctx, slug)
	if !ok || res.ProjectID == "" {
		log.Warn(ctx, "staging refused: project unresolved",
			zap.String("slug", slug), zap.Int("items", len(input.Items)))
		for _, c := range input.Items {
			out.bucket(c.Bucket).Rejected++
		}
		out.Rejected = len(input.Items)
		out.Error = string(errors.ErrProjectUnresolved)
		return out
	}
	out.ProjectID = res.ProjectID

	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	entropy := ulid.Monotonic(rand.Reader, 0)

	for _, c := range input.Items {
		fingerprint := item.Fingerprint(c)

		exists, err := store.StagedExists(ctx, fingerprint)
		if err != nil {
			log.Error(ctx, "fingerprint check failed", zap.String("fingerprint", fingerprint), zap.Error(err))
			out.Rejected++
			out.bucket(c.Bucket).Rejected++
			continue
		}
		if exists {
			out.Duplicates++
			out.bucket(c.Bucket).Duplicates++
			continue
		}

		id, err := ulid.New(ulid.Timestamp(now), entropy)
		if err != nil {
			log.Error(ctx, "failed to generate id", zap.Error(err))
			out.Rejected++
			out.bucket(c.Bucket).Rejected++
			continue
		}

		staged := buildStaged(c, id.String(), input.SessionID, fingerprint, res, now)
		err = store.InsertStaged(ctx, staged)
		switch {
		case err == nil:
			out.Inserted++
			out.bucket(c.Bucket).Inserted++
		case err == db.ErrUniqueConstraint:
			// Lost a race with another writer between check and insert
			out.Duplicates++
			out.bucket(c.Bucket).Duplicates++
		default:
			log.Error(ctx, "staged insert failed",
				zap.String("bucket", string(c.Bucket)), zap.Error(err))
			out.Rejected++
			out.bucket(c.Bucket).Rejected++
		}
	}

	return out
}

// buildStaged fills staging defaults for a candidate.
func buildStaged(c item.Candidate, id, sessionID, fingerprint string, res project.Resolution, now time.Time) *item.Staged {
	title := ""
	if c.Title != nil {
		title = *c.Title
	}
	if strings.TrimSpace(title) == "" {
		title = item.Truncate(item.FirstLine(c.Content), MaxDerivedTitleChars)
	}

	priority := item.PriorityMedium
	if c.Priority != nil && strings.TrimSpace(*c.Priority) != "" {
		priority = *c.Priority
	}

	metadata := map[string]any{
		"evidence":          c.Evidence,
		"extractor_version": extract.Version,
		"resolution":        res,
	}
	if len(c.Metadata) > 0 {
		metadata["item"] = c.Metadata
	}

	return &item.Staged{
		ID:          id,
		Bucket:      c.Bucket,
		Category:    c.Bucket.Category(),
		Content:     c.Content,
		Title:       title,
		Priority:    priority,
		Status:      item.StatusPending,
		SessionID:   sessionID,
		ProjectID:   res.ProjectID,
		Fingerprint: fingerprint,
		Metadata:    metadata,
		CreatedAt:   now.UnixMilli(),
	}
}
