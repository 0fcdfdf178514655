package mcp

import "github.com/mark3labs/mcp-go/mcp"

var stageToolDef = mcp.NewTool("capture_stage",
	mcp.WithDescription("Record a new capture in the ledger as staged. For voice, raw_content is the audio file path; for email, the message body."),
	mcp.WithString("source", mcp.Required(), mcp.Enum("voice", "email"), mcp.Description("Capture source")),
	mcp.WithString("raw_content", mcp.Required(), mcp.Description("Audio file path (voice) or message body (email)")),
	mcp.WithString("message_id", mcp.Description("Provider message identity (email only)")),
)

var completeToolDef = mcp.NewTool("capture_complete",
	mcp.WithDescription("Bind a transcript and content hash to a staged capture. Duplicates of an existing capture become exported_duplicate."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capture ULID")),
	mcp.WithString("transcript", mcp.Description("Transcript text; defaults to the body for email")),
)

var failToolDef = mcp.NewTool("capture_fail",
	mcp.WithDescription("Record a transcription failure for a staged capture. The failure is classified, logged and the capture moves to failed_transcription."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capture ULID")),
	mcp.WithString("error", mcp.Required(), mcp.Description("Transcriber error output")),
)

var exportToolDef = mcp.NewTool("capture_export",
	mcp.WithDescription("Write a transcribed capture to the vault inbox and mark it exported."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capture ULID")),
)

var placeholdersToolDef = mcp.NewTool("capture_export_placeholders",
	mcp.WithDescription("Export a placeholder artifact for every failed transcription. Per-capture failures are reported, not fatal."),
)

var recoverToolDef = mcp.NewTool("capture_recover",
	mcp.WithDescription("Re-drive every non-terminal capture oldest first: resume staged items, export transcribed ones, placeholder failed ones, quarantine missing audio."),
)

var listToolDef = mcp.NewTool("capture_list",
	mcp.WithDescription("List captures oldest first with optional filters."),
	mcp.WithString("status", mcp.Description("Filter by status")),
	mcp.WithString("source", mcp.Description("Filter by source (voice, email)")),
	mcp.WithBoolean("quarantined", mcp.Description("Filter by quarantine flag")),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var statusToolDef = mcp.NewTool("capture_status",
	mcp.WithDescription("Summarize the ledger: counts per status, quarantine, DLQ size, backup health and auth halt."),
)

var errorsToolDef = mcp.NewTool("capture_errors",
	mcp.WithDescription("List error log entries oldest first."),
	mcp.WithString("capture_id", mcp.Description("Only errors for this capture")),
	mcp.WithString("operation", mcp.Description("poll, transcribe, export, auth or cursor_bootstrap")),
	mcp.WithBoolean("dlq_only", mcp.Description("Only dead-lettered entries")),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
)

var backupCreateToolDef = mcp.NewTool("backup_create",
	mcp.WithDescription("Snapshot the ledger into the backup directory. Existing files are never overwritten."),
	mcp.WithString("path", mcp.Description("Destination .db file directly in the backup directory; default is a timestamped name")),
)

var backupVerifyToolDef = mcp.NewTool("backup_verify",
	mcp.WithDescription("Verify a backup (integrity check, required tables, restore smoke test) and record the result in the escalation state."),
	mcp.WithString("path", mcp.Description("Backup file; default is the newest backup")),
)

var backupStatusToolDef = mcp.NewTool("backup_status",
	mcp.WithDescription("Report backup verification health and whether pruning is allowed."),
)

var pruneToolDef = mcp.NewTool("ledger_prune",
	mcp.WithDescription("Permanently delete terminal captures older than the retention window. Refused while backup health halts pruning."),
	mcp.WithNumber("older_than_days", mcp.Description("Override the configured retention")),
	mcp.WithBoolean("dry_run", mcp.Description("Count without deleting")),
)

var cursorGetToolDef = mcp.NewTool("ledger_cursor_get",
	mcp.WithDescription("Read the polling cursor for a source."),
	mcp.WithString("source", mcp.Required(), mcp.Enum("voice", "email")),
)

var cursorSetToolDef = mcp.NewTool("ledger_cursor_set",
	mcp.WithDescription("Store the polling cursor for a source."),
	mcp.WithString("source", mcp.Required(), mcp.Enum("voice", "email")),
	mcp.WithString("value", mcp.Required()),
)

var authFailureToolDef = mcp.NewTool("auth_failure",
	mcp.WithDescription("Record a mail client failure. Returns its classification, the suggested backoff and whether polling is now halted."),
	mcp.WithString("error_code", mcp.Description("OAuth error code, e.g. invalid_grant")),
	mcp.WithNumber("http_status", mcp.Description("HTTP status of the failed call")),
	mcp.WithString("message", mcp.Description("Error text")),
	mcp.WithNumber("retry_after_seconds", mcp.Description("Server-supplied retry-after")),
)

var authSuccessToolDef = mcp.NewTool("auth_success",
	mcp.WithDescription("Reset the consecutive auth failure counter after a successful poll."),
)
