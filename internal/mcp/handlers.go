package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/stash/internal/classify"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/logging"
	"github.com/hpungsan/stash/internal/ops"
	"github.com/hpungsan/stash/internal/transcribe"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db          *sql.DB
	cfg         *config.Config
	logger      *slog.Logger
	transcriber ops.Transcriber
	downloader  ops.Downloader
}

// NewHandlers creates a new Handlers instance. Recovery uses the configured
// transcribe command when there is one.
func NewHandlers(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Handlers {
	h := &Handlers{db: db, cfg: cfg, logger: logging.OrDefault(logger)}
	if len(cfg.TranscribeCommand) > 0 {
		if cmd, err := transcribe.NewCommand(cfg.TranscribeCommand, cfg.TranscribeTimeout()); err == nil {
			h.transcriber = cmd
		} else {
			h.logger.Warn("transcribe command ignored", "error", err)
		}
	}
	return h
}

// SetTranscriber replaces the transcriber used by capture_recover.
func (h *Handlers) SetTranscriber(t ops.Transcriber) { h.transcriber = t }

// SetDownloader sets the downloader used by capture_recover.
func (h *Handlers) SetDownloader(d ops.Downloader) { h.downloader = d }

// Request types for each tool

// StageRequest represents the arguments for capture_stage.
type StageRequest struct {
	Source     string `json:"source"`
	RawContent string `json:"raw_content"`
	MessageID  string `json:"message_id,omitempty"`
}

// CompleteRequest represents the arguments for capture_complete.
type CompleteRequest struct {
	ID         string `json:"id"`
	Transcript string `json:"transcript,omitempty"`
}

// FailRequest represents the arguments for capture_fail.
type FailRequest struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// IDRequest represents tools addressed by capture id only.
type IDRequest struct {
	ID string `json:"id"`
}

// ListRequest represents the arguments for capture_list.
type ListRequest struct {
	Status      string `json:"status,omitempty"`
	Source      string `json:"source,omitempty"`
	Quarantined *bool  `json:"quarantined,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// ErrorsRequest represents the arguments for capture_errors.
type ErrorsRequest struct {
	CaptureID string `json:"capture_id,omitempty"`
	Operation string `json:"operation,omitempty"`
	DLQOnly   bool   `json:"dlq_only,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// PathRequest represents the arguments for backup_create and backup_verify.
type PathRequest struct {
	Path string `json:"path,omitempty"`
}

// PruneRequest represents the arguments for ledger_prune.
type PruneRequest struct {
	OlderThanDays *int `json:"older_than_days,omitempty"`
	DryRun        bool `json:"dry_run,omitempty"`
}

// CursorRequest represents the arguments for ledger_cursor_get and ledger_cursor_set.
type CursorRequest struct {
	Source string `json:"source"`
	Value  string `json:"value,omitempty"`
}

// AuthFailureRequest represents the arguments for auth_failure.
type AuthFailureRequest struct {
	ErrorCode         string `json:"error_code,omitempty"`
	HTTPStatus        int    `json:"http_status,omitempty"`
	Message           string `json:"message,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Handler implementations

// HandleStage handles the capture_stage tool call.
func (h *Handlers) HandleStage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Stage(ctx, h.db, ops.StageInput{
		Source:     input.Source,
		RawContent: input.RawContent,
		MessageID:  input.MessageID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleComplete handles the capture_complete tool call.
func (h *Handlers) HandleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CompleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CompleteTranscription(ctx, h.db, h.cfg, ops.CompleteTranscriptionInput{
		ID:         input.ID,
		Transcript: input.Transcript,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFail handles the capture_fail tool call. The error text is
// classified the same way as transcriber output.
func (h *Handlers) HandleFail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FailRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.Error) == "" {
		return errorResult(errors.NewInvalidRequest("error is required")), nil
	}

	result, err := ops.RecordTranscriptionFailure(ctx, h.db, ops.TranscriptionFailureInput{
		ID:  input.ID,
		Err: classify.TranscriptionErrorFromOutput(input.Error, nil),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the capture_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ExportCapture(ctx, h.db, h.cfg, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExportPlaceholders handles the capture_export_placeholders tool call.
func (h *Handlers) HandleExportPlaceholders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ExportPlaceholders(ctx, h.db, h.cfg)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRecover handles the capture_recover tool call.
func (h *Handlers) HandleRecover(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Recover(ctx, h.db, h.cfg, ops.RecoverInput{
		Transcriber: h.transcriber,
		Downloader:  h.downloader,
		Logger:      h.logger,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the capture_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(ctx, h.db, ops.ListInput{
		Status:      input.Status,
		Source:      input.Source,
		Quarantined: input.Quarantined,
		Limit:       input.Limit,
		Offset:      input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStatus handles the capture_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Status(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleErrors handles the capture_errors tool call.
func (h *Handlers) HandleErrors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ErrorsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListErrors(ctx, h.db, ops.ListErrorsInput{
		CaptureID: input.CaptureID,
		Operation: input.Operation,
		DLQOnly:   input.DLQOnly,
		Limit:     input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBackupCreate handles the backup_create tool call.
func (h *Handlers) HandleBackupCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PathRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CreateBackup(ctx, h.db, h.cfg, ops.CreateBackupInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBackupVerify handles the backup_verify tool call. A failed
// verification is a successful call; the outcome is in the payload.
func (h *Handlers) HandleBackupVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PathRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Path != "" {
		if err := ops.ValidateBackupPath(input.Path, ops.PathCheckRead, h.cfg); err != nil {
			return errorResult(err), nil
		}
	}

	result, err := ops.VerifyAndRecord(ctx, h.db, h.cfg, input.Path)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBackupStatus handles the backup_status tool call.
func (h *Handlers) HandleBackupStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.BackupStatus(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePrune handles the ledger_prune tool call.
func (h *Handlers) HandlePrune(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PruneRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Prune(ctx, h.db, h.cfg, ops.PruneInput{
		OlderThanDays: input.OlderThanDays,
		DryRun:        input.DryRun,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCursorGet handles the ledger_cursor_get tool call.
func (h *Handlers) HandleCursorGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CursorRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	value, err := ops.GetCursor(ctx, h.db, input.Source)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"source": input.Source, "value": value})
}

// HandleCursorSet handles the ledger_cursor_set tool call.
func (h *Handlers) HandleCursorSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CursorRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := ops.SetCursor(ctx, h.db, input.Source, input.Value); err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"source": input.Source, "value": input.Value})
}

// HandleAuthFailure handles the auth_failure tool call.
func (h *Handlers) HandleAuthFailure(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AuthFailureRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	apiErr := classify.APIErrorFromOAuth(input.ErrorCode, input.HTTPStatus)
	if input.Message != "" {
		apiErr.Message = input.Message
	}
	if input.RetryAfterSeconds > 0 {
		apiErr.RetryAfter = time.Duration(input.RetryAfterSeconds) * time.Second
	}

	result, err := ops.RecordAuthFailure(ctx, h.db, apiErr)
	if err != nil {
		return errorResult(err), nil
	}
	if result.PollingHalted {
		h.logger.Error("polling halted after repeated auth failures",
			"consecutive_failures", result.ConsecutiveFailures, "error_type", result.ErrorType)
	}

	return successResult(result)
}

// HandleAuthSuccess handles the auth_success tool call.
func (h *Handlers) HandleAuthSuccess(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := ops.RecordAuthSuccess(ctx, h.db); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"consecutive_failures": 0, "polling_halted": false})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var stashErr *errors.StashError
	if stderrors.As(err, &stashErr) {
		message := stashErr.Message
		// Keep wrapper context such as "items[2]: ..." in the message.
		if outer := err.Error(); outer != stashErr.Error() {
			message = strings.TrimSuffix(outer, stashErr.Error()) + stashErr.Message
		}
		errorObj := map[string]any{
			"code":    stashErr.Code,
			"message": message,
			"status":  stashErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if stashErr.Code != errors.ErrInternal && stashErr.Details != nil {
			errorObj["details"] = stashErr.Details
		}
		if stashErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
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
