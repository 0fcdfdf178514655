package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/vault"
)

// PermanenceNotice closes every placeholder artifact.
const PermanenceNotice = "This placeholder is permanent and cannot be retried. " +
	"The original capture is kept in the ledger for manual review."

const defaultFailureReason = "no error details were recorded"

// DetectFailedTranscriptions returns captures in failed_transcription, oldest first.
func DetectFailedTranscriptions(ctx context.Context, q db.DBTX) ([]*capture.Capture, error) {
	status := capture.StatusFailedTranscription
	items, _, err := db.ListCaptures(ctx, q, db.ListFilter{Status: &status})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// GeneratePlaceholderMarkdown renders the artifact that stands in for a
// capture whose transcription failed. reason is written verbatim.
func GeneratePlaceholderMarkdown(c *capture.Capture, errorType, reason string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s %s]\n\n", vault.PlaceholderTitlePrefix, strings.ToUpper(errorType))
	fmt.Fprintf(&b, "- **Capture ID:** %s\n", c.ID)
	fmt.Fprintf(&b, "- **Source:** %s\n", c.Source)
	switch c.Source {
	case capture.SourceVoice:
		if path := c.AudioPath(); path != "" {
			fmt.Fprintf(&b, "- **Audio file:** %s\n", path)
		}
	case capture.SourceEmail:
		if c.Meta.MessageID != "" {
			fmt.Fprintf(&b, "- **Message ID:** %s\n", c.Meta.MessageID)
		}
	}
	fmt.Fprintf(&b, "- **Captured at:** %s\n", capture.FormatTimestamp(c.CreatedAt))
	fmt.Fprintf(&b, "- **Retry count:** %d\n", c.Meta.AttemptCount)

	b.WriteString("\n## Failure reason\n\n")
	b.WriteString(reason)
	b.WriteString("\n\n## Status\n\n")
	b.WriteString(PermanenceNotice)
	b.WriteString("\n")
	return b.String()
}

// PlaceholderExportResult is the soft-failure outcome of ExportPlaceholderToVault.
type PlaceholderExportResult struct {
	Success    bool   `json:"success"`
	ExportPath string `json:"export_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExportPlaceholderToVault writes content as the artifact for id. It never
// returns an error; failures are reported with Success false.
func ExportPlaceholderToVault(root, id, content string) PlaceholderExportResult {
	result, err := vault.Export(root, id, content)
	if err != nil {
		return PlaceholderExportResult{Error: err.Error()}
	}
	return PlaceholderExportResult{Success: true, ExportPath: result.Path}
}

// ExportPlaceholderOutput contains the result of ExportPlaceholder.
type ExportPlaceholderOutput struct {
	ID        string         `json:"id"`
	Status    capture.Status `json:"status"`
	VaultPath string         `json:"vault_path"`
}

// ExportPlaceholder finishes a failed_transcription capture: the placeholder
// artifact is written, an audit row recorded and the capture moved to
// exported_placeholder.
func ExportPlaceholder(ctx context.Context, database *sql.DB, cfg *config.Config, id string) (*ExportPlaceholderOutput, error) {
	c, err := db.GetByID(ctx, database, id)
	if err != nil {
		return nil, err
	}
	if c.Status != capture.StatusFailedTranscription {
		return nil, errors.NewInvalidTransition(c.ID, string(c.Status), string(capture.StatusExportedPlaceholder))
	}

	errorType, reason := "unknown", defaultFailureReason
	if c.Meta.Error != nil {
		if c.Meta.Error.Type != "" {
			errorType = c.Meta.Error.Type
		}
		if c.Meta.Error.Message != "" {
			reason = c.Meta.Error.Message
		}
	}

	content := GeneratePlaceholderMarkdown(c, errorType, reason)
	if lint := vault.Lint(content, vault.KindPlaceholder); !lint.Valid {
		return nil, errors.NewInternal(fmt.Errorf("generated placeholder for %s failed lint: missing %v", c.ID, lint.MissingSections))
	}

	result, err := vault.Export(cfg.VaultRoot, c.ID, content)
	if err != nil {
		logExportFailure(ctx, database, c, err)
		return nil, err
	}

	now := nowUTC()
	err = db.WithTx(ctx, database, func(tx *sql.Tx) error {
		if _, err := db.InsertExportAudit(ctx, tx, &db.ExportAudit{
			CaptureID: &c.ID, VaultPath: result.Path, Mode: db.ExportPlaceholder, ExportedAt: now,
		}); err != nil {
			return err
		}
		return db.Transition(ctx, tx, db.TransitionInput{
			ID: c.ID, From: capture.StatusFailedTranscription, To: capture.StatusExportedPlaceholder, Now: now,
		})
	})
	if err != nil {
		return nil, err
	}

	return &ExportPlaceholderOutput{ID: c.ID, Status: capture.StatusExportedPlaceholder, VaultPath: result.Path}, nil
}

// PlaceholderItemResult is one capture's outcome within ExportPlaceholders.
type PlaceholderItemResult struct {
	ID        string `json:"id"`
	Success   bool   `json:"success"`
	VaultPath string `json:"vault_path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ExportPlaceholdersOutput contains the result of ExportPlaceholders.
type ExportPlaceholdersOutput struct {
	Exported int                     `json:"exported"`
	Failed   int                     `json:"failed"`
	Results  []PlaceholderItemResult `json:"results"`
}

// ExportPlaceholders exports a placeholder for every failed transcription.
// One capture's failure does not stop the rest.
func ExportPlaceholders(ctx context.Context, database *sql.DB, cfg *config.Config) (*ExportPlaceholdersOutput, error) {
	failed, err := DetectFailedTranscriptions(ctx, database)
	if err != nil {
		return nil, err
	}

	out := &ExportPlaceholdersOutput{Results: []PlaceholderItemResult{}}
	for _, c := range failed {
		res, err := ExportPlaceholder(ctx, database, cfg, c.ID)
		if err != nil {
			out.Failed++
			out.Results = append(out.Results, PlaceholderItemResult{ID: c.ID, Error: err.Error()})
			continue
		}
		out.Exported++
		out.Results = append(out.Results, PlaceholderItemResult{ID: c.ID, Success: true, VaultPath: res.VaultPath})
	}
	return out, nil
}
