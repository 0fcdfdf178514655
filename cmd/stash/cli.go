package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/stash/internal/classify"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/logging"
	"github.com/hpungsan/stash/internal/ops"
	"github.com/hpungsan/stash/internal/transcribe"
)

// maxStdinBytes caps piped input (email bodies, transcripts).
const maxStdinBytes = 10 << 20

// cliDeps holds what CLI commands need. lockDir empty skips the writer lock.
type cliDeps struct {
	db      *sql.DB
	cfg     *config.Config
	logger  *slog.Logger
	lockDir string
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(d *cliDeps) *cli.App {
	if d == nil {
		d = &cliDeps{}
	}
	app := &cli.App{
		Name:    "stash",
		Usage:   "Capture ledger and recovery engine",
		Version: Version,
		Commands: []*cli.Command{
			stageCmd(d),
			completeCmd(d),
			failCmd(d),
			exportCmd(d),
			recoverCmd(d),
			placeholdersCmd(d),
			listCmd(d),
			statusCmd(d),
			errorsCmd(d),
			backupCmd(d),
			verifyBackupCmd(d),
			backupStatusCmd(d),
			pruneCmd(d),
			cursorCmd(d),
			authCmd(d),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// writer wraps a mutating action in the single-writer lock.
func (d *cliDeps) writer(action cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		if d.lockDir == "" {
			return action(c)
		}
		lock, err := db.AcquireWriterLock(d.lockDir)
		if err != nil {
			return outputError(err)
		}
		defer func() { _ = lock.Unlock() }()
		return action(c)
	}
}

// stageCmd creates the stage command.
func stageCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:      "stage",
		Usage:     "Record a new capture (voice: audio path argument; email: body from stdin or argument)",
		ArgsUsage: "[audio-path|body]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "Capture source: voice|email"},
			&cli.StringFlag{Name: "message-id", Usage: "Provider message identity (email)"},
		},
		Action: d.writer(func(c *cli.Context) error {
			raw := c.Args().First()
			if raw == "" && stdinHasData() {
				text, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				raw = text
			}

			output, err := ops.Stage(c.Context, d.db, ops.StageInput{
				Source:     c.String("source"),
				RawContent: raw,
				MessageID:  c.String("message-id"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// completeCmd creates the complete command.
func completeCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Usage:     "Bind a transcript to a staged capture (transcript from --transcript or stdin)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "transcript", Aliases: []string{"t"}, Usage: "Transcript text (email defaults to the body)"},
		},
		Action: d.writer(func(c *cli.Context) error {
			transcript := c.String("transcript")
			if transcript == "" && stdinHasData() {
				text, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				transcript = text
			}

			output, err := ops.CompleteTranscription(c.Context, d.db, d.cfg, ops.CompleteTranscriptionInput{
				ID:         c.Args().First(),
				Transcript: transcript,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// failCmd creates the fail command.
func failCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:      "fail",
		Usage:     "Record a transcription failure for a staged capture",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "error", Aliases: []string{"e"}, Required: true, Usage: "Transcriber error output"},
		},
		Action: d.writer(func(c *cli.Context) error {
			output, err := ops.RecordTranscriptionFailure(c.Context, d.db, ops.TranscriptionFailureInput{
				ID:  c.Args().First(),
				Err: classify.TranscriptionErrorFromOutput(c.String("error"), nil),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// exportCmd creates the export command.
func exportCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a transcribed capture to the vault inbox",
		ArgsUsage: "<id>",
		Action: d.writer(func(c *cli.Context) error {
			output, err := ops.ExportCapture(c.Context, d.db, d.cfg, c.Args().First())
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// recoverCmd creates the recover command.
func recoverCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Re-drive every non-terminal capture, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "transcribe-cmd", Usage: `Speech-to-text command, e.g. "whisper --model base {audio}" (default: config transcribe_command)`},
		},
		Action: d.writer(func(c *cli.Context) error {
			argv := d.cfg.TranscribeCommand
			if cmdline := c.String("transcribe-cmd"); cmdline != "" {
				argv = strings.Fields(cmdline)
			}

			input := ops.RecoverInput{Logger: d.logger}
			if len(argv) > 0 {
				cmd, err := transcribe.NewCommand(argv, d.cfg.TranscribeTimeout())
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.Transcriber = cmd
			}

			output, err := ops.Recover(c.Context, d.db, d.cfg, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// placeholdersCmd creates the placeholders command.
func placeholdersCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "placeholders",
		Usage: "Export a placeholder for every failed transcription",
		Action: d.writer(func(c *cli.Context) error {
			output, err := ops.ExportPlaceholders(c.Context, d.db, d.cfg)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// listCmd creates the list command.
func listCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List captures, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Filter by status"},
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Filter by source: voice|email"},
			&cli.BoolFlag{Name: "quarantined", Usage: "Only quarantined captures (--quarantined=false for the rest)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
			&cli.BoolFlag{Name: "table", Usage: "Print a table instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ListInput{
				Status: c.String("status"),
				Source: c.String("source"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			}
			if c.IsSet("quarantined") {
				q := c.Bool("quarantined")
				input.Quarantined = &q
			}

			output, err := ops.List(c.Context, d.db, input)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("table") {
				fmt.Println(captureTable(output.Items))
				return nil
			}
			return outputJSON(output)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Summarize the ledger",
		Action: func(c *cli.Context) error {
			output, err := ops.Status(c.Context, d.db)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// errorsCmd creates the errors command.
func errorsCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "errors",
		Usage: "List error log entries",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "capture", Usage: "Only errors for this capture id"},
			&cli.StringFlag{Name: "operation", Usage: "poll|transcribe|export|auth|cursor_bootstrap"},
			&cli.BoolFlag{Name: "dlq", Usage: "Only dead-lettered entries"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
			&cli.BoolFlag{Name: "table", Usage: "Print a table instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListErrors(c.Context, d.db, ops.ListErrorsInput{
				CaptureID: c.String("capture"),
				Operation: c.String("operation"),
				DLQOnly:   c.Bool("dlq"),
				Limit:     c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("table") {
				fmt.Println(errorTable(output.Items))
				return nil
			}
			return outputJSON(output)
		},
	}
}

// backupCmd creates the backup command.
func backupCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Snapshot the ledger into the backup directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Backup file path (default: <backup_dir>/stash-<timestamp>.db)"},
		},
		Action: d.writer(func(c *cli.Context) error {
			output, err := ops.CreateBackup(c.Context, d.db, d.cfg, ops.CreateBackupInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// verifyBackupCmd creates the verify-backup command. A failed verification
// prints its report and exits non-zero.
func verifyBackupCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:      "verify-backup",
		Usage:     "Verify a backup and record the result (default: newest backup)",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "skip-restore-test", Usage: "Skip the copy-and-open restore test"},
		},
		Action: d.writer(func(c *cli.Context) error {
			cfg := *d.cfg
			if c.Bool("skip-restore-test") {
				cfg.SkipRestoreSmokeTest = true
			}

			output, err := ops.VerifyAndRecord(c.Context, d.db, &cfg, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(output); err != nil {
				return err
			}
			if !output.Verification.Success {
				d.logger.Warn("backup verification failed",
					"path", output.Verification.Path,
					"consecutive_failures", output.Health.ConsecutiveFailures,
					"status", output.Health.Status)
				return cli.Exit("", 2)
			}
			return nil
		}),
	}
}

// backupStatusCmd creates the backup-status command.
func backupStatusCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "backup-status",
		Usage: "Show backup verification health",
		Action: func(c *cli.Context) error {
			output, err := ops.BackupStatus(c.Context, d.db)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// pruneCmd creates the prune command.
func pruneCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Permanently delete old terminal captures",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: "Retention override in days (e.g., 30d)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Count without deleting"},
		},
		Action: d.writer(func(c *cli.Context) error {
			input := ops.PruneInput{DryRun: c.Bool("dry-run")}

			if olderThan := c.String("older-than"); olderThan != "" {
				days, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.OlderThanDays = &days
			}

			output, err := ops.Prune(c.Context, d.db, d.cfg, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// cursorCmd creates the cursor command with get and set subcommands.
func cursorCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Read or store a polling cursor",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				ArgsUsage: "<voice|email>",
				Action: func(c *cli.Context) error {
					value, err := ops.GetCursor(c.Context, d.db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]string{"source": c.Args().First(), "value": value})
				},
			},
			{
				Name:      "set",
				ArgsUsage: "<voice|email> <value>",
				Action: d.writer(func(c *cli.Context) error {
					source, value := c.Args().Get(0), c.Args().Get(1)
					if err := ops.SetCursor(c.Context, d.db, source, value); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]string{"source": source, "value": value})
				}),
			},
		},
	}
}

// authCmd creates the auth command with fail and reset subcommands.
func authCmd(d *cliDeps) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Record mail client auth outcomes",
		Subcommands: []*cli.Command{
			{
				Name:  "fail",
				Usage: "Record a failed poll",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Usage: "OAuth error code, e.g. invalid_grant"},
					&cli.IntFlag{Name: "http-status", Usage: "HTTP status of the failed call"},
					&cli.StringFlag{Name: "message", Usage: "Error text"},
					&cli.DurationFlag{Name: "retry-after", Usage: "Server-supplied retry-after (e.g., 30s)"},
				},
				Action: d.writer(func(c *cli.Context) error {
					apiErr := classify.APIErrorFromOAuth(c.String("code"), c.Int("http-status"))
					if msg := c.String("message"); msg != "" {
						apiErr.Message = msg
					}
					apiErr.RetryAfter = c.Duration("retry-after")

					output, err := ops.RecordAuthFailure(c.Context, d.db, apiErr)
					if err != nil {
						return outputError(err)
					}
					if output.PollingHalted {
						logging.OrDefault(d.logger).Error("polling halted after repeated auth failures",
							"consecutive_failures", output.ConsecutiveFailures)
					}
					return outputJSON(output)
				}),
			},
			{
				Name:  "reset",
				Usage: "Record a successful poll",
				Action: d.writer(func(c *cli.Context) error {
					if err := ops.RecordAuthSuccess(c.Context, d.db); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"consecutive_failures": 0, "polling_halted": false})
				}),
			},
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if stashErr, ok := err.(*errors.StashError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", stashErr.Code, stashErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin, up to limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("input exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}
