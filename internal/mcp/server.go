package mcp

import (
	"database/sql"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/stash/internal/config"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"capture", "backup", "ledger", "auth"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capture_stage": {
		def:     stageToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStage },
	},
	"capture_complete": {
		def:     completeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleComplete },
	},
	"capture_fail": {
		def:     failToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFail },
	},
	"capture_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"capture_export_placeholders": {
		def:     placeholdersToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExportPlaceholders },
	},
	"capture_recover": {
		def:     recoverToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecover },
	},
	"capture_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"capture_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"capture_errors": {
		def:     errorsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleErrors },
	},
	"backup_create": {
		def:     backupCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackupCreate },
	},
	"backup_verify": {
		def:     backupVerifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackupVerify },
	},
	"backup_status": {
		def:     backupStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackupStatus },
	},
	"ledger_prune": {
		def:     pruneToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePrune },
	},
	"ledger_cursor_get": {
		def:     cursorGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCursorGet },
	},
	"ledger_cursor_set": {
		def:     cursorSetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCursorSet },
	},
	"auth_failure": {
		def:     authFailureToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAuthFailure },
	},
	"auth_success": {
		def:     authSuccessToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAuthSuccess },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
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

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "capture_list" → "capture").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	// Build set of types for O(1) lookup
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	// Collect tools belonging to disabled types
	tools := make([]string, 0)
	for name := range toolRegistry {
		typ := GetTypeForTool(name)
		if typeSet[typ] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with Stash tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, version string, logger *slog.Logger) *server.MCPServer {
	return newServer(NewHandlers(db, cfg, logger), cfg, version)
}

func newServer(h *Handlers, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"stash",
		version,
		server.WithToolCapabilities(true),
	)

	// Build set of disabled tools: first expand types, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	// Register tools (skip disabled)
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, version string, logger *slog.Logger) error {
	s := NewServer(db, cfg, version, logger)
	return server.ServeStdio(s)
}
