package mcp

import "github.com/mark3labs/mcp-go/mcp"

var extractRunToolDef = mcp.NewTool(ToolExtractRun,
	mcp.WithDescription(
		"Run one extraction pass over recent sessions: select, extract, validate and stage items. "+
			"Returns the run report. Use dry_run to preview without writing anything.",
	),
	mcp.WithBoolean("scheduled",
		mcp.Description("Select only sessions with status 'cleaned'"),
	),
	mcp.WithString("session_id",
		mcp.Description("Process a single session instead of a time window"),
	),
	mcp.WithString("since",
		mcp.Description("Lookback window such as '3h', '90m' or '2d'. Defaults to the configured lookback"),
	),
	mcp.WithString("slugs",
		mcp.Description("Comma-separated project slugs to admit; '*' admits any real project. Defaults to the configured allowlist"),
	),
	mcp.WithString("status",
		mcp.Description("Session status filter for manual runs; ignored when scheduled is true"),
	),
	mcp.WithBoolean("dry_run",
		mcp.Description("Preview extracted items without staging, marking or recording the run"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum sessions to process"),
	),
	mcp.WithBoolean("strict",
		mcp.Description("Skip sessions without a non-empty cleaned transcript during selection"),
	),
	mcp.WithBoolean("normalize",
		mcp.Description("Strip terminal escapes and collapse blank lines before extraction"),
	),
)

var extractStatusToolDef = mcp.NewTool(ToolExtractStatus,
	mcp.WithDescription("Show the most recent extraction run report and cumulative counters across all runs."),
)

var stagedListToolDef = mcp.NewTool(ToolStagedList,
	mcp.WithDescription("List staged items awaiting the downstream sorter, oldest first."),
	mcp.WithString("status",
		mcp.Description("Filter by staged status"),
		mcp.Enum("pending"),
	),
	mcp.WithString("project_id",
		mcp.Description("Filter by resolved project id"),
	),
	mcp.WithString("session_id",
		mcp.Description("Filter by source session id"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 20, max 100)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Page offset"),
	),
)
