package ops

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/session"
)

// LoadTranscript fetches the cleaned transcript for a session and enriches it
// with the session summary and slug. It returns nil, nil when there is no
// usable transcript. Store errors on the transcript read are returned.
func LoadTranscript(ctx context.Context, store RecordStore, log *logging.Logger, sessionID string) (*session.Transcript, error) {
	t, err := store.GetTranscript(ctx, sessionID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(t.Content) == "" {
		return nil, nil
	}

	sess, err := store.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		log.Debug(ctx, "no session metadata for transcript")
	case err != nil:
		log.Warn(ctx, "session metadata unavailable", zap.Error(err))
	default:
		t.Summary = sess.Summary
		t.Slug = sess.ProjectSlug
	}

	return t, nil
}
