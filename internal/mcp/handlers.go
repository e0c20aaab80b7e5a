package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/config"
	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deps ops.Deps
	cfg  *config.Config
	log  *logging.Logger

	// runMu serializes extraction runs; a second concurrent call is refused.
	runMu sync.Mutex
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps ops.Deps, cfg *config.Config) *Handlers {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Handlers{deps: deps, cfg: cfg, log: toolLogger(deps)}
}

// ExtractRunRequest represents the arguments for extract_run.
type ExtractRunRequest struct {
	Scheduled bool    `json:"scheduled,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Since     string  `json:"since,omitempty"`
	Slugs     *string `json:"slugs,omitempty"`
	Status    string  `json:"status,omitempty"`
	DryRun    bool    `json:"dry_run,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	Strict    bool    `json:"strict,omitempty"`
	Normalize bool    `json:"normalize,omitempty"`
}

// StagedListRequest represents the arguments for staged_list.
type StagedListRequest struct {
	Status    string `json:"status,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// HandleExtractRun handles the extract_run tool call.
func (h *Handlers) HandleExtractRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExtractRunRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Limit < 0 {
		return errorResult(errors.NewInvalidRequest("limit must not be negative")), nil
	}

	if !h.runMu.TryLock() {
		return errorResult(errors.NewConflict("an extraction run is already in progress")), nil
	}
	defer h.runMu.Unlock()

	runInput := ops.RunInput{
		Scheduled: input.Scheduled,
		SessionID: input.SessionID,
		Since:     input.Since,
		Status:    input.Status,
		DryRun:    input.DryRun,
		Limit:     input.Limit,
		Strict:    input.Strict,
		Normalize: input.Normalize,
	}
	if input.Slugs != nil {
		runInput.Slugs = *input.Slugs
	}
	runInput = runInput.WithDefaults(h.cfg, input.Slugs != nil)

	stats, err := ops.Run(ctx, h.deps, runInput)
	if err != nil {
		if stats != nil {
			h.log.Warn(ctx, "extraction run ended early",
				zap.String("run_id", stats.RunID),
				zap.Error(err))
		}
		return errorResult(err), nil
	}

	return successResult(stats)
}

// HandleExtractStatus handles the extract_status tool call.
func (h *Handlers) HandleExtractStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := decode[struct{}](req); err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Status(ctx, h.deps.Store)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStagedList handles the staged_list tool call.
func (h *Handlers) HandleStagedList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StagedListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListStaged(ctx, h.deps.Store, ops.ListStagedInput{
		Status:    input.Status,
		ProjectID: input.ProjectID,
		SessionID: input.SessionID,
		Limit:     input.Limit,
		Offset:    input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var gErr *errors.GleanError
	if stderrors.As(err, &gErr) {
		message := gErr.Message
		// Keep wrapper context such as "session s-1: " in front of the message.
		if full := err.Error(); full != gErr.Error() {
			message = strings.TrimSuffix(full, gErr.Error()) + gErr.Message
		}
		errorObj := map[string]any{
			"code":    gErr.Code,
			"message": message,
			"status":  gErr.Status,
		}
		if gErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if gErr.Details != nil {
			errorObj["details"] = gErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
