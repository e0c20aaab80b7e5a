package mcp

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/config"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/ops"
)

// Tool names.
const (
	ToolExtractRun    = "extract_run"
	ToolExtractStatus = "extract_status"
	ToolStagedList    = "staged_list"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	ToolExtractRun: {
		def:     extractRunToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExtractRun },
	},
	ToolExtractStatus: {
		def:     extractStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExtractStatus },
	},
	ToolStagedList: {
		def:     stagedListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStagedList },
	},
}

// AllToolNames returns all valid tool names in sorted order.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with glean tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(deps ops.Deps, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"glean",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(deps, cfg)

	if unknown := ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		h.log.Warn(context.Background(), "unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(deps ops.Deps, cfg *config.Config, version string) error {
	s := NewServer(deps, cfg, version)
	return server.ServeStdio(s)
}

func toolLogger(deps ops.Deps) *logging.Logger {
	if deps.Log == nil {
		return logging.NewNop()
	}
	return deps.Log.Named("mcp")
}
