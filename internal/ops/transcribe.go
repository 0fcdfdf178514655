package ops

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io/fs"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/vault"
)

// CompleteTranscriptionInput contains parameters for CompleteTranscription.
type CompleteTranscriptionInput struct {
	ID         string // required
	Transcript string // required for voice; defaults to the body for email
}

// CompleteTranscriptionOutput contains the result of CompleteTranscription.
type CompleteTranscriptionOutput struct {
	ID          string         `json:"id"`
	Status      capture.Status `json:"status"`
	ContentHash string         `json:"content_hash"`
	DuplicateOf *string        `json:"duplicate_of,omitempty"`
}

// CompleteTranscription binds the content hash of a staged capture. If an
// earlier capture already holds the same hash the new one is finished as
// exported_duplicate; otherwise it becomes transcribed.
func CompleteTranscription(ctx context.Context, database *sql.DB, cfg *config.Config, input CompleteTranscriptionInput) (*CompleteTranscriptionOutput, error) {
	c, err := db.GetByID(ctx, database, input.ID)
	if err != nil {
		return nil, err
	}
	if c.Status != capture.StatusStaged {
		return nil, errors.NewInvalidTransition(c.ID, string(c.Status), string(capture.StatusTranscribed))
	}

	transcript := input.Transcript
	if c.Source == capture.SourceEmail && transcript == "" {
		transcript = c.RawContent
	}
	if transcript == "" {
		return nil, errors.NewInvalidRequest("transcript is required")
	}

	hash, err := contentHash(c, cfg)
	if err != nil {
		return nil, err
	}

	out := &CompleteTranscriptionOutput{ID: c.ID, ContentHash: hash}
	now := nowUTC()

	err = db.WithTx(ctx, database, func(tx *sql.Tx) error {
		existing, err := db.FindByContentHash(ctx, tx, hash, c.ID)
		if err != nil {
			return err
		}

		if existing != nil {
			if _, err := db.InsertExportAudit(ctx, tx, &db.ExportAudit{
				CaptureID:   &c.ID,
				VaultPath:   vault.ArtifactPath(cfg.VaultRoot, existing.ID),
				ContentHash: &hash,
				Mode:        db.ExportDuplicateSkip,
				ExportedAt:  now,
			}); err != nil {
				return err
			}
			if err := db.Transition(ctx, tx, db.TransitionInput{
				ID: c.ID, From: capture.StatusStaged, To: capture.StatusExportedDuplicate,
				ContentHash: &hash, Now: now,
			}); err != nil {
				return err
			}
			out.Status = capture.StatusExportedDuplicate
			out.DuplicateOf = &existing.ID
			return nil
		}

		meta := c.Meta
		meta.Transcript = transcript
		if err := db.Transition(ctx, tx, db.TransitionInput{
			ID: c.ID, From: capture.StatusStaged, To: capture.StatusTranscribed,
			ContentHash: &hash, Meta: &meta, Now: now,
		}); err != nil {
			return err
		}
		out.Status = capture.StatusTranscribed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// contentHash computes the identity hash for c: the audio prefix digest for
// voice and the normalized body digest for email.
func contentHash(c *capture.Capture, cfg *config.Config) (string, error) {
	switch c.Source {
	case capture.SourceVoice:
		path := c.AudioPath()
		prefix := cfg.AudioHashPrefixBytes
		if prefix <= 0 {
			prefix = capture.DefaultAudioPrefixBytes
		}
		hash, err := capture.HashAudioPrefix(path, prefix)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return "", errors.NewFileNotFound(path)
			}
			return "", errors.NewInternal(fmt.Errorf("hash audio %s: %w", path, err))
		}
		return hash, nil
	case capture.SourceEmail:
		return capture.HashEmail(c.RawContent), nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("unknown source %q", c.Source))
}
