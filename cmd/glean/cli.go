package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/ops"
	"github.com/hpungsan/glean/internal/project"
	"github.com/hpungsan/glean/internal/session"
	"github.com/hpungsan/glean/internal/web"
)

// maxTranscriptBytes caps transcript text read from stdin.
const maxTranscriptBytes = 10 << 20

// newCLIApp creates the CLI application with all commands.
// env may be nil when only help or version output is needed.
func newCLIApp(env *appEnv) *cli.App {
	app := &cli.App{
		Name:    "glean",
		Usage:   "Extract actionable items from session transcripts",
		Version: Version,
		Commands: []*cli.Command{
			extractCmd(env),
			statusCmd(env),
			stagedCmd(env),
			exportCmd(env),
			ingestCmd(env),
			projectCmd(env),
			serveCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// extractCmd creates the extract command.
func extractCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "Run one extraction pass and print the run report",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "scheduled", Usage: "Select only sessions with status 'cleaned'"},
			&cli.StringFlag{Name: "session", Usage: "Process a single session by ID"},
			&cli.StringFlag{Name: "since", Usage: "Lookback window, e.g. 3h, 90m, 2d (default: config lookback)"},
			&cli.StringFlag{Name: "slugs", Usage: "Comma-separated project slugs to admit; '*' admits any real project (default: config allowed_slugs)"},
			&cli.StringFlag{Name: "status", Usage: "Session status filter for manual runs"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Preview items without staging or marking sessions"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum sessions to process (default: config limit)"},
			&cli.BoolFlag{Name: "strict", Usage: "Require a non-empty cleaned transcript during selection"},
			&cli.BoolFlag{Name: "normalize", Usage: "Strip terminal escapes and collapse blank lines before extraction"},
		},
		Action: func(c *cli.Context) error {
			if c.Int("limit") < 0 {
				return outputError(errors.NewInvalidRequest("limit must not be negative"))
			}

			input := ops.RunInput{
				Scheduled: c.Bool("scheduled"),
				SessionID: c.String("session"),
				Since:     c.String("since"),
				Slugs:     c.String("slugs"),
				Status:    c.String("status"),
				DryRun:    c.Bool("dry-run"),
				Limit:     c.Int("limit"),
				Strict:    c.Bool("strict"),
				Normalize: c.Bool("normalize"),
			}.WithDefaults(env.cfg, c.IsSet("slugs"))

			stats, err := ops.Run(c.Context, env.runDeps(), input)
			if err != nil {
				// A cancelled run still reports what it finished.
				if stats != nil {
					_ = outputJSON(stats)
				}
				return outputError(err)
			}

			return outputJSON(stats)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the last run report and cumulative counters",
		Action: func(c *cli.Context) error {
			output, err := ops.Status(c.Context, env.store)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// stagedCmd creates the staged command.
func stagedCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "staged",
		Usage: "List staged items, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status, e.g. pending"},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Filter by project ID"},
			&cli.StringFlag{Name: "session", Usage: "Filter by source session ID"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ListStagedInput{
				Status:    c.String("status"),
				ProjectID: c.String("project"),
				SessionID: c.String("session"),
				Limit:     c.Int("limit"),
				Offset:    c.Int("offset"),
			}

			output, err := ops.ListStaged(c.Context, env.store, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export staged items to a JSONL file for the downstream sorter",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Export file path (default: ~/.glean/exports/staged-<status>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status, e.g. pending"},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Filter by project ID"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ExportInput{
				Path:      c.String("path"),
				Status:    c.String("status"),
				ProjectID: c.String("project"),
			}

			output, err := ops.ExportStaged(c.Context, env.store, env.cfg, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// ingestOutput is printed by the ingest command.
type ingestOutput struct {
	SessionID       string  `json:"session_id"`
	Status          string  `json:"status"`
	ProjectSlug     *string `json:"project_slug,omitempty"`
	TranscriptBytes int     `json:"transcript_bytes"`
}

// ingestCmd creates the ingest command.
func ingestCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Record a session and its cleaned transcript (reads transcript from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Required: true, Usage: "Session ID"},
			&cli.StringFlag{Name: "slug", Usage: "Free-text project slug"},
			&cli.StringFlag{Name: "status", Value: session.StatusCleaned, Usage: "Session status"},
			&cli.StringFlag{Name: "summary", Usage: "One-paragraph session summary"},
			&cli.StringFlag{Name: "files", Usage: "Comma-separated files referenced in the session"},
		},
		Action: func(c *cli.Context) error {
			id := strings.TrimSpace(c.String("session"))
			status := strings.TrimSpace(c.String("status"))
			if id == "" || status == "" {
				return outputError(errors.NewInvalidRequest("session and status are required"))
			}

			var transcript string
			if stdinHasData() {
				text, err := readStdinWithLimit(os.Stdin, maxTranscriptBytes)
				if err != nil {
					return outputError(err)
				}
				transcript = text
			}

			sess := &session.Session{
				ID:          id,
				ProjectSlug: optionalString(c.String("slug")),
				Status:      status,
				Summary:     optionalString(c.String("summary")),
			}
			if err := env.store.UpsertSession(c.Context, sess); err != nil {
				return outputError(err)
			}

			if transcript != "" {
				t := &session.Transcript{
					SessionID: id,
					Content:   transcript,
					FileRefs:  splitList(c.String("files")),
				}
				if err := env.store.PutTranscript(c.Context, t); err != nil {
					return outputError(err)
				}
			}

			return outputJSON(ingestOutput{
				SessionID:       id,
				Status:          status,
				ProjectSlug:     sess.ProjectSlug,
				TranscriptBytes: len(transcript),
			})
		},
	}
}

// projectCmd creates the project command group.
func projectCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "project",
		Usage: "Manage known projects",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a project",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "slug", Required: true, Usage: "Canonical project slug"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name (defaults to slug)"},
					&cli.StringFlag{Name: "id", Usage: "Project ID (default: generated)"},
				},
				Action: func(c *cli.Context) error {
					slug := strings.ToLower(strings.TrimSpace(c.String("slug")))
					if slug == "" {
						return outputError(errors.NewInvalidRequest("slug is required"))
					}
					if session.IsSentinel(slug) {
						return outputError(errors.NewInvalidRequest(fmt.Sprintf("slug %q is reserved", slug)))
					}

					p := &project.Project{
						ID:        strings.TrimSpace(c.String("id")),
						Slug:      slug,
						Name:      strings.TrimSpace(c.String("name")),
						CreatedAt: time.Now().UnixMilli(),
					}
					if p.ID == "" {
						p.ID = ulid.Make().String()
					}
					if p.Name == "" {
						p.Name = slug
					}

					if err := env.store.InsertProject(c.Context, p); err != nil {
						if err == db.ErrUniqueConstraint {
							return outputError(errors.NewConflict(fmt.Sprintf("project %q already exists", slug)))
						}
						return outputError(err)
					}

					if err := env.resolver.Invalidate(c.Context); err != nil {
						env.log.Warn(c.Context, "failed to invalidate project cache", zap.Error(err))
					}

					return outputJSON(p)
				},
			},
			{
				Name:  "list",
				Usage: "List projects in creation order",
				Action: func(c *cli.Context) error {
					projects, err := env.store.ListProjects(c.Context)
					if err != nil {
						return outputError(err)
					}
					if projects == nil {
						projects = []project.Project{}
					}
					return outputJSON(map[string]any{"projects": projects})
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the read-only status server (/status, /healthz, /staged, /metrics)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Listen address (default: config status_addr)"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(env.store, env.cfg, env.log, c.String("addr"))
			if err := web.Run(c.Context, srv, env.log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var gErr *errors.GleanError
	if stderrors.As(err, &gErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", gErr.Code, gErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdinWithLimit reads at most limit bytes from r.
func readStdinWithLimit(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}

// splitList splits a comma-separated string, dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// optionalString returns a pointer to the trimmed s, or nil when it is empty.
func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
