package ops

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/config"
	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/session"
	"github.com/hpungsan/glean/internal/timespec"
)

// OverFetchFactor widens the window query because the slug gate runs after it.
const OverFetchFactor = 3

// SelectInput contains parameters for SelectSessions.
type SelectInput struct {
	SessionID string    // by-identity mode when set
	Lookback  string    // window mode, e.g. "3h"; unusable values fall back to 3h
	Status    string    // exact status filter; empty means any
	Allowed   []string  // gate tokens; empty admits any non-sentinel slug
	Limit     int       // default: config.DefaultLimit
	Strict    bool      // require a cleaned transcript per session
	Now       time.Time // zero means time.Now()
}

// SelectSessions returns the sessions eligible for extraction, most recent first.
// Store errors are logged and yield an empty result.
func SelectSessions(ctx context.Context, store RecordStore, log *logging.Logger, input SelectInput) []session.Session {
	limit := input.Limit
	if limit <= 0 {
		limit = config.DefaultLimit
	}

	var candidates []session.Session
	if id := strings.TrimSpace(input.SessionID); id != "" {
		sess, err := store.GetSession(ctx, id)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			log.Info(ctx, "session not found", zap.String("session_id", id))
			return nil
		case err != nil:
			log.Error(ctx, "session lookup failed", zap.String("session_id", id), zap.Error(err))
			return nil
		}
		candidates = []session.Session{*sess}
	} else {
		now := input.Now
		if now.IsZero() {
			now = time.Now()
		}
		q := db.SessionQuery{
			Status: input.Status,
			Since:  timespec.Cutoff(input.Lookback, now),
			Limit:  limit * OverFetchFactor,
		}
		var err error
		candidates, err = store.ListSessions(ctx, q)
		if err != nil {
			log.Error(ctx, "session selection failed", zap.Error(err))
			return nil
		}
	}

	selected := make([]session.Session, 0, min(len(candidates), limit))
	for _, sess := range candidates {
		if len(selected) == limit {
			break
		}
		if !session.Admit(sess.Slug(), input.Allowed) {
			log.Debug(ctx, "session excluded by slug gate",
				zap.String("session_id", sess.ID), zap.String("slug", sess.Slug()))
			continue
		}
		if input.Strict {
			ok, err := store.TranscriptExists(ctx, sess.ID)
			if err != nil {
				log.Warn(ctx, "transcript check failed", zap.String("session_id", sess.ID), zap.Error(err))
				continue
			}
			if !ok {
				log.Debug(ctx, "session excluded: no cleaned transcript", zap.String("session_id", sess.ID))
				continue
			}
		}
		selected = append(selected, sess)
	}

	return selected
}
