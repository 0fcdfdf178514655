// Package transcribe runs an external speech-to-text program for recovery.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hpungsan/stash/internal/classify"
)

// AudioPlaceholder in an argument is replaced by the audio path.
const AudioPlaceholder = "{audio}"

// Runner executes name with args and returns stdout and stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Command transcribes audio by running a configured program and reading the
// transcript from its stdout.
type Command struct {
	argv    []string
	timeout time.Duration
	runner  Runner
}

// NewCommand creates a Command from an argv. A zero timeout means no limit
// beyond the caller's context.
func NewCommand(argv []string, timeout time.Duration) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("transcribe command is empty")
	}
	return &Command{
		argv:    append([]string(nil), argv...),
		timeout: timeout,
		runner:  execRunner,
	}, nil
}

// WithRunner sets a custom command runner (for testing).
func (c *Command) WithRunner(r Runner) {
	c.runner = r
}

// Args returns the argument list for one audio file.
func (c *Command) Args(audioPath string) []string {
	args := make([]string, 0, len(c.argv))
	substituted := false
	for _, a := range c.argv[1:] {
		if strings.Contains(a, AudioPlaceholder) {
			a = strings.ReplaceAll(a, AudioPlaceholder, audioPath)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, audioPath)
	}
	return args
}

// Transcribe runs the program on audioPath. Failures come back as
// *classify.TranscriptionError built from the program's stderr.
func (c *Command) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stdout, stderr, err := c.runner(ctx, c.argv[0], c.Args(audioPath)...)
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		err = fmt.Errorf("%s: %w", c.argv[0], ctxErr)
	}
	if err != nil {
		return "", classify.TranscriptionErrorFromOutput(string(stderr), err)
	}

	text := strings.TrimSpace(string(stdout))
	if text == "" {
		return "", &classify.TranscriptionError{
			Kind:    classify.KindWhisperError,
			Message: fmt.Sprintf("%s produced an empty transcript", c.argv[0]),
		}
	}
	return text, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
