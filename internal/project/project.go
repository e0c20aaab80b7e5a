package project

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/metrics"
	"github.com/hpungsan/glean/internal/session"
)

// Project is a durable project identity that staged items are attributed to.
type Project struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// Match kinds, in the order they are tried.
const (
	MatchExact    = "exact"
	MatchPrefix   = "prefix"
	MatchContains = "contains"
)

// Resolution is a successful slug lookup.
type Resolution struct {
	Input       string `json:"input"`
	ProjectID   string `json:"project_id"`
	ProjectSlug string `json:"project_slug"`
	Match       string `json:"match"`
}

// Lister loads the full project list in store order.
type Lister interface {
	ListProjects(ctx context.Context) ([]Project, error)
}

// Resolver maps free-text project slugs to project identities.
// The project list is shared through the Cache it is given.
type Resolver struct {
	store   Lister
	cache   Cache
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewResolver creates a Resolver. log and m may be nil.
func NewResolver(store Lister, cache Cache, log *logging.Logger, m *metrics.Metrics) *Resolver {
	if log == nil {
		log = logging.NewNop()
	}
	return &Resolver{store: store, cache: cache, log: log, metrics: m}
}

// Resolve returns the project for slug. Empty and sentinel slugs are rejected
// without a lookup. A failed project load is treated as an empty project list.
func (r *Resolver) Resolve(ctx context.Context, slug string) (Resolution, bool) {
	input := strings.ToLower(strings.TrimSpace(slug))
	if input == "" || session.IsSentinel(input) {
		return Resolution{}, false
	}

	projects, err := r.cache.GetOrRefresh(ctx, r.load)
	if err != nil {
		r.log.Warn(ctx, "project list unavailable", zap.Error(err))
		projects = nil
	}

	p, match, ok := Match(projects, input)
	if !ok {
		r.log.Warn(ctx, "project slug did not resolve",
			zap.String("slug", slug),
			zap.Int("projects", len(projects)))
		return Resolution{}, false
	}

	return Resolution{
		Input:       slug,
		ProjectID:   p.ID,
		ProjectSlug: p.Slug,
		Match:       match,
	}, true
}

// Invalidate forces the next Resolve to reload projects from the store.
func (r *Resolver) Invalidate(ctx context.Context) error {
	return r.cache.Invalidate(ctx)
}

func (r *Resolver) load(ctx context.Context) ([]Project, error) {
	projects, err := r.store.ListProjects(ctx)
	if r.metrics != nil {
		r.metrics.RecordProjectLoad(err)
	}
	return projects, err
}

// Match picks the project for a normalized input: exact slug, then
// slug prefix "<input>-", then substring. The first hit in list order wins.
func Match(projects []Project, input string) (Project, string, bool) {
	for _, p := range projects {
		if strings.ToLower(p.Slug) == input {
			return p, MatchExact, true
		}
	}
	for _, p := range projects {
		if strings.HasPrefix(strings.ToLower(p.Slug), input+"-") {
			return p, MatchPrefix, true
		}
	}
	for _, p := range projects {
		if strings.Contains(strings.ToLower(p.Slug), input) {
			return p, MatchContains, true
		}
	}
	return Project{}, "", false
}
