package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hpungsan/glean/internal/config"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/ops"
	"github.com/hpungsan/glean/internal/project"
	"github.com/hpungsan/glean/internal/session"
)

const markerTranscript = `USER: the login flow breaks after the token refresh
ASSISTANT: looking at the auth middleware now
TODO: fix the login bug
BUG: payments fail silently
USER: thanks`

// setupTestEnv opens a store in a temporary glean home.
func setupTestEnv(t *testing.T) *appEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("GLEAN_HOME", home)

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true // Allow temp dirs in tests

	env, cleanup, err := openEnv(home, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("openEnv failed: %v", err)
	}
	t.Cleanup(cleanup)
	return env
}

// runCLI runs the app with args and returns what it wrote to stdout.
// stdin, when non-empty, is piped to the command.
func runCLI(t *testing.T, env *appEnv, stdin string, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w

	outCh := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outCh <- buf.String()
	}()

	if stdin != "" {
		oldStdin := os.Stdin
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			t.Fatalf("os.Pipe: %v", err)
		}
		os.Stdin = stdinR
		go func() {
			_, _ = stdinW.WriteString(stdin)
			stdinW.Close()
		}()
		defer func() {
			os.Stdin = oldStdin
			stdinR.Close()
		}()
	}

	runErr := newCLIApp(env).RunContext(context.Background(), append([]string{"glean"}, args...))

	w.Close()
	os.Stdout = oldStdout
	return <-outCh, runErr
}

func ingest(t *testing.T, env *appEnv, id, slug string) {
	t.Helper()
	if _, err := runCLI(t, env, markerTranscript, "ingest", "--session="+id, "--slug="+slug); err != nil {
		t.Fatalf("ingest %s failed: %v", id, err)
	}
}

func addProject(t *testing.T, env *appEnv, slug string) project.Project {
	t.Helper()
	out, err := runCLI(t, env, "", "project", "add", "--slug="+slug)
	if err != nil {
		t.Fatalf("project add %s failed: %v", slug, err)
	}
	var p project.Project
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	return p
}

// TestSplitList tests the splitList helper function.
func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single entry", "main.go", []string{"main.go"}},
		{"multiple entries", "a.go,b.go", []string{"a.go", "b.go"}},
		{"spaces trimmed", " a.go , b.go ", []string{"a.go", "b.go"}},
		{"empty entries filtered", "a.go,,b.go,", []string{"a.go", "b.go"}},
		{"only separators", ",,", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitList(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d entries, got %d (%v)", len(tt.expected), len(result), result)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("entry[%d] = %q, want %q", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

// TestCLIProject tests project add and list.
func TestCLIProject(t *testing.T) {
	env := setupTestEnv(t)

	p := addProject(t, env, "Billing-API")
	if p.ID == "" {
		t.Error("expected generated ID")
	}
	if p.Slug != "billing-api" || p.Name != "billing-api" {
		t.Errorf("project = %+v, want lowercased slug used as name", p)
	}

	t.Run("duplicate slug is a conflict", func(t *testing.T) {
		_, err := runCLI(t, env, "", "project", "add", "--slug=billing-api")
		if err == nil || !strings.Contains(err.Error(), "[CONFLICT]") {
			t.Errorf("expected CONFLICT error, got %v", err)
		}
	})

	t.Run("sentinel slug is rejected", func(t *testing.T) {
		_, err := runCLI(t, env, "", "project", "add", "--slug="+session.SlugTerminal)
		if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
			t.Errorf("expected INVALID_REQUEST error, got %v", err)
		}
	})

	t.Run("list returns projects", func(t *testing.T) {
		out, err := runCLI(t, env, "", "project", "list")
		if err != nil {
			t.Fatalf("project list failed: %v", err)
		}
		var output struct {
			Projects []project.Project `json:"projects"`
		}
		if err := json.Unmarshal([]byte(out), &output); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if len(output.Projects) != 1 || output.Projects[0].ID != p.ID {
			t.Errorf("projects = %+v, want only %s", output.Projects, p.ID)
		}
	})
}

// TestCLIProjectAddRefreshesResolver checks a new project resolves without waiting for the cache TTL.
func TestCLIProjectAddRefreshesResolver(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if _, ok := env.resolver.Resolve(ctx, "billing"); ok {
		t.Fatal("expected no resolution before any project exists")
	}

	p := addProject(t, env, "billing-api")

	res, ok := env.resolver.Resolve(ctx, "billing")
	if !ok || res.ProjectID != p.ID {
		t.Errorf("Resolve(billing) = %+v, %v; want %s", res, ok, p.ID)
	}
}

// TestCLIIngest tests the ingest command.
func TestCLIIngest(t *testing.T) {
	env := setupTestEnv(t)

	out, err := runCLI(t, env, markerTranscript, "ingest", "--session=s-1", "--slug=billing", "--files=auth.go, main.go")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	var output ingestOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output.Status != session.StatusCleaned || output.TranscriptBytes != len(markerTranscript) {
		t.Errorf("output = %+v, want cleaned with full transcript", output)
	}

	tr, err := env.store.GetTranscript(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if len(tr.FileRefs) != 2 || tr.FileRefs[0] != "auth.go" {
		t.Errorf("FileRefs = %v, want [auth.go main.go]", tr.FileRefs)
	}

	t.Run("missing session flag", func(t *testing.T) {
		if _, err := runCLI(t, env, markerTranscript, "ingest"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

// TestCLIExtractFlow runs ingest, extract, status, staged and export end to end.
func TestCLIExtractFlow(t *testing.T) {
	env := setupTestEnv(t)
	p := addProject(t, env, "billing-api")
	ingest(t, env, "s-1", "billing")
	ingest(t, env, "s-term", session.SlugTerminal)

	t.Run("dry run stages nothing", func(t *testing.T) {
		out, err := runCLI(t, env, "", "extract", "--scheduled", "--dry-run")
		if err != nil {
			t.Fatalf("extract --dry-run failed: %v", err)
		}
		var stats ops.RunStats
		if err := json.Unmarshal([]byte(out), &stats); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if !stats.DryRun || stats.ItemsInserted != 0 {
			t.Errorf("stats = dry_run %v inserted %d, want preview only", stats.DryRun, stats.ItemsInserted)
		}
		if len(stats.Sessions) != 1 || len(stats.Sessions[0].Items) != 3 {
			t.Errorf("sessions = %+v, want one session with 3 previews", stats.Sessions)
		}
	})

	var runID string
	t.Run("scheduled run stages items", func(t *testing.T) {
		out, err := runCLI(t, env, "", "extract", "--scheduled")
		if err != nil {
			t.Fatalf("extract failed: %v", err)
		}
		var stats ops.RunStats
		if err := json.Unmarshal([]byte(out), &stats); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		runID = stats.RunID
		if stats.SessionsScanned != 1 || stats.ItemsInserted != 3 {
			t.Errorf("scanned/inserted = %d/%d, want 1/3", stats.SessionsScanned, stats.ItemsInserted)
		}
		if stats.Filter.Since != config.DefaultLookback || stats.Filter.Limit != config.DefaultLimit {
			t.Errorf("filter = %+v, want config defaults", stats.Filter)
		}
	})

	t.Run("status reports the run", func(t *testing.T) {
		out, err := runCLI(t, env, "", "status")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		var status ops.StatusOutput
		if err := json.Unmarshal([]byte(out), &status); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if status.LastRun == nil || status.LastRun.RunID != runID {
			t.Errorf("last_run = %+v, want %s", status.LastRun, runID)
		}
		if status.Totals.Runs != 1 || status.Totals.ItemsInserted != 3 {
			t.Errorf("totals = %+v, want 1 run with 3 items", status.Totals)
		}
	})

	t.Run("staged lists items", func(t *testing.T) {
		out, err := runCLI(t, env, "", "staged", "--project="+p.ID, "--limit=2")
		if err != nil {
			t.Fatalf("staged failed: %v", err)
		}
		var output ops.ListStagedOutput
		if err := json.Unmarshal([]byte(out), &output); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if len(output.Items) != 2 || !output.Pagination.HasMore || output.Pagination.Total != 3 {
			t.Errorf("page = %d items, pagination %+v; want 2 of 3", len(output.Items), output.Pagination)
		}
	})

	t.Run("export writes header and items", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "handoff.jsonl")
		out, err := runCLI(t, env, "", "export", "--path="+path, "--status=pending")
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		var output ops.ExportOutput
		if err := json.Unmarshal([]byte(out), &output); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if output.Count != 3 || output.Path != path {
			t.Errorf("output = %+v, want 3 items at %s", output, path)
		}

		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open export: %v", err)
		}
		defer f.Close()
		var lines []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if len(lines) != 4 {
			t.Fatalf("export has %d lines, want header + 3", len(lines))
		}
		if !strings.Contains(lines[0], `"_glean_export":true`) {
			t.Errorf("header = %s, want export marker", lines[0])
		}
	})

	t.Run("second run is idempotent", func(t *testing.T) {
		out, err := runCLI(t, env, "", "extract", "--session=s-1", "--slugs=billing")
		if err != nil {
			t.Fatalf("extract failed: %v", err)
		}
		var stats ops.RunStats
		if err := json.Unmarshal([]byte(out), &stats); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if stats.ItemsInserted != 0 || stats.Duplicates != 3 {
			t.Errorf("inserted/duplicates = %d/%d, want 0/3", stats.ItemsInserted, stats.Duplicates)
		}
	})
}

// TestCLIErrorHandling tests error handling in CLI commands.
func TestCLIErrorHandling(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("empty slug filter is fatal", func(t *testing.T) {
		_, err := runCLI(t, env, "", "extract", "--slugs= , ")
		if err == nil || !strings.Contains(err.Error(), "[NO_VALID_SLUGS]") {
			t.Errorf("expected NO_VALID_SLUGS error, got %v", err)
		}
	})

	t.Run("negative limit", func(t *testing.T) {
		_, err := runCLI(t, env, "", "extract", "--limit=-1")
		if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
			t.Errorf("expected INVALID_REQUEST error, got %v", err)
		}
	})

	t.Run("export outside allowed dirs", func(t *testing.T) {
		env.cfg.AllowUnsafePaths = false
		defer func() { env.cfg.AllowUnsafePaths = true }()

		_, err := runCLI(t, env, "", "export", "--path="+filepath.Join(t.TempDir(), "out.jsonl"))
		if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
			t.Errorf("expected INVALID_REQUEST error, got %v", err)
		}
	})
}

// TestNewProjectCache tests cache backend selection.
func TestNewProjectCache(t *testing.T) {
	log := logging.NewNop()

	t.Run("memory by default", func(t *testing.T) {
		cache, closeFn, err := newProjectCache(config.DefaultConfig(), log)
		if err != nil {
			t.Fatalf("newProjectCache failed: %v", err)
		}
		defer closeFn()
		if _, ok := cache.(*project.MemoryCache); !ok {
			t.Errorf("cache = %T, want *project.MemoryCache", cache)
		}
	})

	t.Run("redis when configured", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.DefaultConfig()
		cfg.ProjectCache.RedisAddr = mr.Addr()

		cache, closeFn, err := newProjectCache(cfg, log)
		if err != nil {
			t.Fatalf("newProjectCache failed: %v", err)
		}
		defer closeFn()
		if _, ok := cache.(*project.RedisCache); !ok {
			t.Fatalf("cache = %T, want *project.RedisCache", cache)
		}

		projects := []project.Project{{ID: "p1", Slug: "billing-api", CreatedAt: 1}}
		load := func(context.Context) ([]project.Project, error) { return projects, nil }
		if _, err := cache.GetOrRefresh(context.Background(), load); err != nil {
			t.Fatalf("GetOrRefresh failed: %v", err)
		}
		if !mr.Exists(project.ProjectsKey(config.DefaultKeyPrefix)) {
			t.Error("expected project list cached in redis")
		}
		if ttl := mr.TTL(project.ProjectsKey(config.DefaultKeyPrefix)); ttl != config.DefaultProjectCacheTTL {
			t.Errorf("TTL = %v, want %v", ttl, config.DefaultProjectCacheTTL)
		}
	})

	t.Run("unreachable redis still returns a cache", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.ProjectCache.RedisAddr = "127.0.0.1:1"

		start := time.Now()
		cache, closeFn, err := newProjectCache(cfg, log)
		if err != nil {
			t.Fatalf("newProjectCache failed: %v", err)
		}
		defer closeFn()
		if cache == nil {
			t.Fatal("expected a cache")
		}
		if time.Since(start) > 2*cachePingTimeout {
			t.Errorf("newProjectCache took %v", time.Since(start))
		}
	})
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"glean"}, false},
		{"extract command", []string{"glean", "extract"}, true},
		{"project command", []string{"glean", "project"}, true},
		{"serve command", []string{"glean", "serve"}, true},
		{"help flag", []string{"glean", "--help"}, true},
		{"version flag", []string{"glean", "--version"}, true},
		{"short help flag", []string{"glean", "-h"}, true},
		{"short version flag", []string{"glean", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"glean", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"glean"}, false},
		{"help command", []string{"glean", "help"}, true},
		{"help flag", []string{"glean", "--help"}, true},
		{"version flag", []string{"glean", "-v"}, true},
		{"subcommand", []string{"glean", "extract"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestReadStdinWithLimit tests the size cap on piped input.
func TestReadStdinWithLimit(t *testing.T) {
	got, err := readStdinWithLimit(strings.NewReader("  hello \n"), 16)
	if err != nil {
		t.Fatalf("readStdinWithLimit failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want trimmed hello", got)
	}

	exact, err := readStdinWithLimit(strings.NewReader("abcd"), 4)
	if err != nil || exact != "abcd" {
		t.Errorf("at limit: got %q, %v", exact, err)
	}

	if _, err := readStdinWithLimit(strings.NewReader("abcde"), 4); err == nil {
		t.Error("expected error for input over the limit")
	}
}
