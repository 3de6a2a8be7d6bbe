package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bambu-os/bambu-control/internal/extensions"
	"github.com/bambu-os/bambu-control/internal/settings"
	"github.com/bambu-os/bambu-control/internal/updates"
)

// maxToolOutputLines caps the update output returned to an MCP client. The
// full output stays in the history.
const maxToolOutputLines = 200

// NewMCPServer creates an MCP server exposing the control panel operations.
func NewMCPServer(deps Deps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"bambu-control",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("bambu-control: desktop layout switching, update settings and system updates for a GNOME desktop."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_settings",
			mcp.WithDescription("Return the update settings as JSON."),
		),
		mcpGetSettings(deps),
	)

	s.AddTool(
		mcp.NewTool("update_settings",
			mcp.WithDescription("Change one update setting."),
			mcp.WithString("key", mcp.Description("auto_updates_enabled, check_frequency or extensions_enabled"), mcp.Required()),
			mcp.WithString("value", mcp.Description("true/false, or daily/weekly/monthly for check_frequency"), mcp.Required()),
		),
		mcpUpdateSettings(deps),
	)

	s.AddTool(
		mcp.NewTool("extension_status",
			mcp.WithDescription("Report which layout extensions are enabled and the current desktop layout."),
		),
		mcpExtensionStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("set_layout",
			mcp.WithDescription("Switch the desktop layout."),
			mcp.WithString("layout", mcp.Description("traditional or modern"), mcp.Required()),
		),
		mcpSetLayout(deps),
	)

	s.AddTool(
		mcp.NewTool("apply_updates",
			mcp.WithDescription("Run the system update script once and return its output."),
		),
		mcpApplyUpdates(deps),
	)

	s.AddTool(
		mcp.NewTool("list_update_runs",
			mcp.WithDescription("List recent update runs, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 10)")),
		),
		mcpListUpdateRuns(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"bambu://settings",
			"Update settings",
			mcp.WithResourceDescription("Current update settings as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSettings(deps),
	)

	return s
}

func mcpGetSettings(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Settings.Read())
	}
}

func mcpUpdateSettings(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		p, err := settings.ParseAssignment(key, value)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := deps.Settings.Write(p); err != nil {
			return mcpError(fmt.Sprintf("failed to save settings: %v", err)), nil
		}
		return mcpJSON(deps.Settings.Read())
	}
}

func mcpExtensionStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(buildStatus(ctx, deps))
	}
}

func mcpSetLayout(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("layout")
		if err != nil {
			return mcpError("layout is required"), nil
		}
		l, err := extensions.ParseLayout(name)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if st := deps.Layouts.Status(ctx); !st.CanSwitchTo(l) {
			return mcpText(fmt.Sprintf("Layout %s is already active", l)), nil
		}
		if err := deps.Layouts.Apply(ctx, l); err != nil {
			return mcpError(fmt.Sprintf("switching layout failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Layout set to %s", l)), nil
	}
}

func mcpApplyUpdates(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		run, err := deps.Updates.Start(ctx)
		if errors.Is(err, updates.ErrInProgress) {
			return mcpError("an update is already running"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("starting update failed: %v", err)), nil
		}

		var lines []string
		dropped := 0
		final, finished := updates.Drain(run, func(ev updates.Event) {
			if len(lines) == maxToolOutputLines {
				lines = lines[1:]
				dropped++
			}
			lines = append(lines, ev.Line)
		})

		var b strings.Builder
		fmt.Fprintf(&b, "run %s\n", run.ID)
		if dropped > 0 {
			fmt.Fprintf(&b, "(%d earlier lines omitted)\n", dropped)
		}
		for _, l := range lines {
			b.WriteString(l + "\n")
		}
		if !finished {
			fmt.Fprintf(&b, "error: %v", updates.ErrDetached)
			return mcpError(b.String()), nil
		}
		if final.Err != nil {
			fmt.Fprintf(&b, "error: %v\n", final.Err)
			fmt.Fprintf(&b, "exit: %d", final.ExitCode)
			return mcpError(b.String()), nil
		}
		fmt.Fprintf(&b, "exit: %d", final.ExitCode)
		return mcpText(b.String()), nil
	}
}

func mcpListUpdateRuns(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.History == nil {
			return mcpError("update history is not available"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		runs, err := deps.History.ListRuns(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing runs failed: %v", err)), nil
		}
		if len(runs) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(runs)
	}
}

func mcpResourceSettings(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Settings.Read())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
