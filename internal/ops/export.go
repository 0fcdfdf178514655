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

// ExportOutput contains the result of ExportCapture.
type ExportOutput struct {
	ID          string         `json:"id"`
	Status      capture.Status `json:"status"`
	VaultPath   string         `json:"vault_path"`
	DuplicateOf *string        `json:"duplicate_of,omitempty"`
}

// ExportCapture writes a transcribed capture to the vault and marks it
// exported. If another capture with the same hash was exported first, no
// artifact is written and the capture becomes exported_duplicate.
func ExportCapture(ctx context.Context, database *sql.DB, cfg *config.Config, id string) (*ExportOutput, error) {
	c, err := db.GetByID(ctx, database, id)
	if err != nil {
		return nil, err
	}
	if c.Status != capture.StatusTranscribed {
		return nil, errors.NewInvalidTransition(c.ID, string(c.Status), string(capture.StatusExported))
	}
	if c.ContentHash == nil {
		return nil, errors.NewInternal(fmt.Errorf("transcribed capture %s has no content hash", c.ID))
	}

	now := nowUTC()

	prior, err := db.FindExportedByContentHash(ctx, database, *c.ContentHash, c.ID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		out := &ExportOutput{
			ID:          c.ID,
			Status:      capture.StatusExportedDuplicate,
			VaultPath:   vault.ArtifactPath(cfg.VaultRoot, prior.ID),
			DuplicateOf: &prior.ID,
		}
		err := db.WithTx(ctx, database, func(tx *sql.Tx) error {
			if _, err := db.InsertExportAudit(ctx, tx, &db.ExportAudit{
				CaptureID: &c.ID, VaultPath: out.VaultPath, ContentHash: c.ContentHash,
				Mode: db.ExportDuplicateSkip, ExportedAt: now,
			}); err != nil {
				return err
			}
			return db.Transition(ctx, tx, db.TransitionInput{
				ID: c.ID, From: capture.StatusTranscribed, To: capture.StatusExportedDuplicate, Now: now,
			})
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	content := GenerateCaptureMarkdown(c)
	if lint := vault.Lint(content, vault.KindCapture); !lint.Valid {
		return nil, errors.NewInternal(fmt.Errorf("generated artifact for %s failed lint: missing %v", c.ID, lint.MissingSections))
	}

	result, err := vault.Export(cfg.VaultRoot, c.ID, content)
	if err != nil {
		logExportFailure(ctx, database, c, err)
		return nil, err
	}

	err = db.WithTx(ctx, database, func(tx *sql.Tx) error {
		if _, err := db.InsertExportAudit(ctx, tx, &db.ExportAudit{
			CaptureID: &c.ID, VaultPath: result.Path, ContentHash: c.ContentHash,
			Mode: db.ExportInitial, ExportedAt: now,
		}); err != nil {
			return err
		}
		return db.Transition(ctx, tx, db.TransitionInput{
			ID: c.ID, From: capture.StatusTranscribed, To: capture.StatusExported, Now: now,
		})
	})
	if err != nil {
		return nil, err
	}

	return &ExportOutput{ID: c.ID, Status: capture.StatusExported, VaultPath: result.Path}, nil
}

// GenerateCaptureMarkdown renders the vault artifact for a transcribed capture.
func GenerateCaptureMarkdown(c *capture.Capture) string {
	var b strings.Builder

	label := "Voice"
	if c.Source == capture.SourceEmail {
		label = "Email"
	}
	fmt.Fprintf(&b, "# %s capture %s\n\n", label, c.ID)
	fmt.Fprintf(&b, "- **Capture ID:** %s\n", c.ID)
	fmt.Fprintf(&b, "- **Source:** %s\n", c.Source)
	if c.Meta.MessageID != "" {
		fmt.Fprintf(&b, "- **Message ID:** %s\n", c.Meta.MessageID)
	}
	fmt.Fprintf(&b, "- **Captured at:** %s\n", capture.FormatTimestamp(c.CreatedAt))
	if c.ContentHash != nil {
		fmt.Fprintf(&b, "- **Content hash:** %s\n", *c.ContentHash)
	}

	body := c.Meta.Transcript
	if body == "" && c.Source == capture.SourceEmail {
		body = c.RawContent
	}
	b.WriteString("\n## Content\n\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

// logExportFailure appends an export error for c. The capture keeps its
// status, so a later pass retries the export.
func logExportFailure(ctx context.Context, database *sql.DB, c *capture.Capture, cause error) {
	errorType := "export_failed"
	if se, ok := cause.(*errors.StashError); ok {
		errorType = strings.ToLower(string(se.Code))
	}
	_ = db.InsertErrorLog(ctx, database, &db.ErrorLogEntry{
		CaptureID:    &c.ID,
		Operation:    db.OpExport,
		ErrorType:    errorType,
		Message:      cause.Error(),
		AttemptCount: c.Meta.AttemptCount,
		CreatedAt:    nowUTC(),
	})
}
