package ops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/classify"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/logging"
	"github.com/hpungsan/stash/internal/vault"
)

func TestRecover_StagedCaptureAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	c := env.email(t, "Pick up milk on the way home", time.Minute)

	out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{}))
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if out.CapturesFound != 1 || out.CapturesRecovered != 1 {
		t.Errorf("found=%d recovered=%d, want 1 and 1", out.CapturesFound, out.CapturesRecovered)
	}
	if out.CapturesFailed != 0 || out.CapturesQuarantined != 0 {
		t.Errorf("failed=%d quarantined=%d, want 0", out.CapturesFailed, out.CapturesQuarantined)
	}

	got := env.get(t, c.ID)
	if got.Status != capture.StatusExported {
		t.Errorf("Status = %s, want exported", got.Status)
	}
	if got.ContentHash == nil || *got.ContentHash != capture.HashEmail(c.RawContent) {
		t.Errorf("ContentHash = %v", got.ContentHash)
	}

	artifact, err := os.ReadFile(vault.ArtifactPath(env.cfg.VaultRoot, c.ID))
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if !strings.Contains(string(artifact), "Pick up milk") {
		t.Errorf("artifact missing body:\n%s", artifact)
	}

	audit, err := db.GetExportAudit(context.Background(), env.db, c.ID)
	if err != nil || audit == nil || audit.Mode != db.ExportInitial {
		t.Errorf("audit = %+v, %v", audit, err)
	}

	second, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{}))
	if err != nil {
		t.Fatal(err)
	}
	if second.CapturesFound != 0 {
		t.Errorf("second pass found %d, want 0", second.CapturesFound)
	}
}

func TestRecover_StaleDetection(t *testing.T) {
	tests := []struct {
		name         string
		age          time.Duration
		wantTimedOut int
	}{
		{"eleven minutes", 11 * time.Minute, 1},
		{"five minutes", 5 * time.Minute, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.email(t, "stale check "+tc.name, tc.age)

			out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{}))
			if err != nil {
				t.Fatalf("Recover failed: %v", err)
			}
			if out.CapturesTimedOut != tc.wantTimedOut {
				t.Errorf("CapturesTimedOut = %d, want %d", out.CapturesTimedOut, tc.wantTimedOut)
			}
			if out.CapturesRecovered != 1 {
				t.Errorf("stale captures are still processed: recovered = %d", out.CapturesRecovered)
			}
		})
	}
}

func TestRecover_StaleWarningIsLogged(t *testing.T) {
	env := newTestEnv(t)
	env.email(t, "old one", 30*time.Minute)

	var stderr, file bytes.Buffer
	logger := logging.SetupWithWriters(&stderr, &file, logging.ParseLevel("debug"))

	if _, err := Recover(context.Background(), env.db, env.cfg, RecoverInput{Logger: logger}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr.String(), "stuck in state") {
		t.Errorf("missing stale warning in:\n%s", stderr.String())
	}
	if !strings.Contains(file.String(), `"to":"scanning"`) {
		t.Errorf("missing phase log in:\n%s", file.String())
	}
}

func TestRecover_QuarantinesMissingVoiceFile(t *testing.T) {
	env := newTestEnv(t)
	missing := filepath.Join(env.dir, "gone.m4a")
	c := env.voice(t, missing, time.Minute)
	tr := &stubTranscriber{text: "never"}

	out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{Transcriber: tr}))
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if out.CapturesQuarantined != 1 || out.CapturesRecovered != 0 {
		t.Errorf("quarantined=%d recovered=%d, want 1 and 0", out.CapturesQuarantined, out.CapturesRecovered)
	}
	if tr.calls != 0 {
		t.Errorf("transcriber called %d times for a quarantined capture", tr.calls)
	}

	got := env.get(t, c.ID)
	if !got.Quarantined() || got.Meta.Integrity.QuarantineReason != capture.QuarantineMissingFile {
		t.Errorf("Integrity = %+v", got.Meta.Integrity)
	}
	if got.Status != capture.StatusStaged {
		t.Errorf("Status = %s, want staged", got.Status)
	}
	if got.Meta.FilePath != missing {
		t.Errorf("FilePath lost: %q", got.Meta.FilePath)
	}

	again, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{Transcriber: tr}))
	if err != nil {
		t.Fatal(err)
	}
	if again.CapturesFound != 0 {
		t.Errorf("quarantined capture picked up again: found = %d", again.CapturesFound)
	}
}

func TestRecover_VoiceTranscribedAndExported(t *testing.T) {
	env := newTestEnv(t)
	audio := writeAudio(t, env.dir, "memo.m4a", []byte("fake audio bytes"))
	c := env.voice(t, audio, time.Minute)
	tr := &stubTranscriber{text: "Call the dentist tomorrow"}

	out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{Transcriber: tr}))
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if out.CapturesRecovered != 1 {
		t.Fatalf("recovered = %d, want 1 (%+v)", out.CapturesRecovered, out)
	}

	got := env.get(t, c.ID)
	if got.Status != capture.StatusExported {
		t.Errorf("Status = %s, want exported", got.Status)
	}
	want, _ := capture.HashAudioPrefix(audio, env.cfg.AudioHashPrefixBytes)
	if got.ContentHash == nil || *got.ContentHash != want {
		t.Errorf("ContentHash = %v, want %s", got.ContentHash, want)
	}
	if got.Meta.Transcript != "Call the dentist tomorrow" {
		t.Errorf("Transcript = %q", got.Meta.Transcript)
	}
	assertHashInvariant(t, env.db)
}

func TestRecover_PermanentFailureExportsPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	audio := writeAudio(t, env.dir, "big.m4a", []byte("huge"))
	c := env.voice(t, audio, time.Minute)
	tr := &stubTranscriber{err: classify.TranscriptionErrorFromOutput("CUDA out of memory", nil)}

	out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{Transcriber: tr}))
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if out.CapturesRecovered != 1 || out.CapturesFailed != 0 {
		t.Errorf("recovered=%d failed=%d", out.CapturesRecovered, out.CapturesFailed)
	}

	got := env.get(t, c.ID)
	if got.Status != capture.StatusExportedPlaceholder {
		t.Fatalf("Status = %s, want exported_placeholder", got.Status)
	}
	if got.ContentHash != nil {
		t.Errorf("placeholder capture has hash %s", *got.ContentHash)
	}

	artifact, err := os.ReadFile(vault.ArtifactPath(env.cfg.VaultRoot, c.ID))
	if err != nil {
		t.Fatalf("placeholder not written: %v", err)
	}
	if !strings.HasPrefix(string(artifact), "# [TRANSCRIPTION_FAILED: OOM]") {
		t.Errorf("artifact header:\n%s", artifact)
	}
	if lint := vault.Lint(string(artifact), vault.KindPlaceholder); !lint.Valid {
		t.Errorf("placeholder failed lint: %+v", lint)
	}

	audit, _ := db.GetExportAudit(context.Background(), env.db, c.ID)
	if audit == nil || audit.Mode != db.ExportPlaceholder {
		t.Errorf("audit = %+v", audit)
	}
}

func TestRecover_RetryableFailureResolvedOnNextPass(t *testing.T) {
	env := newTestEnv(t)
	audio := writeAudio(t, env.dir, "slow.m4a", []byte("slow"))
	c := env.voice(t, audio, time.Minute)
	tr := &stubTranscriber{err: context.DeadlineExceeded}

	if _, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{Transcriber: tr})); err != nil {
		t.Fatal(err)
	}
	got := env.get(t, c.ID)
	if got.Status != capture.StatusFailedTranscription {
		t.Fatalf("after first pass Status = %s, want failed_transcription", got.Status)
	}
	if got.Meta.Error == nil || got.Meta.Error.Type != string(classify.KindTimeout) || got.Meta.Error.Permanent {
		t.Errorf("Meta.Error = %+v", got.Meta.Error)
	}

	logs, _ := db.ListErrorLogs(context.Background(), env.db, db.ErrorLogFilter{CaptureID: &c.ID})
	if len(logs) != 1 || logs[0].DLQ || logs[0].EscalationAction != nil {
		t.Errorf("error log = %+v", logs)
	}

	out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{Transcriber: tr}))
	if err != nil {
		t.Fatal(err)
	}
	if out.CapturesFound != 1 || out.CapturesRecovered != 1 {
		t.Errorf("second pass = %+v", out)
	}
	if got := env.get(t, c.ID); got.Status != capture.StatusExportedPlaceholder {
		t.Errorf("after second pass Status = %s, want exported_placeholder", got.Status)
	}
	if tr.calls != 1 {
		t.Errorf("transcriber calls = %d, want 1", tr.calls)
	}
}

func TestRecover_WithoutTranscriberCountsFailure(t *testing.T) {
	env := newTestEnv(t)
	audio := writeAudio(t, env.dir, "memo.m4a", []byte("audio"))
	c := env.voice(t, audio, time.Minute)

	out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{}))
	if err != nil {
		t.Fatal(err)
	}
	if out.CapturesFailed != 1 || out.CapturesRecovered != 0 {
		t.Errorf("failed=%d recovered=%d", out.CapturesFailed, out.CapturesRecovered)
	}
	if got := env.get(t, c.ID); got.Status != capture.StatusStaged {
		t.Errorf("Status = %s, want staged", got.Status)
	}
}

func TestRecover_Downloader(t *testing.T) {
	retry := 2 * time.Minute

	t.Run("retry after leaves capture staged", func(t *testing.T) {
		env := newTestEnv(t)
		c := env.voice(t, filepath.Join(env.dir, "cloud.m4a"), time.Minute)
		dl := stubDownloader{result: DownloadResult{Err: fmt.Errorf("throttled"), RetryAfter: &retry}}

		out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{Downloader: dl, Transcriber: &stubTranscriber{}}))
		if err != nil {
			t.Fatal(err)
		}
		if out.CapturesDeferred != 1 || out.CapturesQuarantined != 0 {
			t.Errorf("out = %+v", out)
		}
		got := env.get(t, c.ID)
		if got.Status != capture.StatusStaged || got.Quarantined() {
			t.Errorf("capture = %+v", got)
		}
	})

	t.Run("hard failure quarantines", func(t *testing.T) {
		env := newTestEnv(t)
		c := env.voice(t, filepath.Join(env.dir, "cloud.m4a"), time.Minute)
		dl := stubDownloader{result: DownloadResult{Err: fmt.Errorf("file evicted")}}

		out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{Downloader: dl, Transcriber: &stubTranscriber{}}))
		if err != nil {
			t.Fatal(err)
		}
		if out.CapturesQuarantined != 1 {
			t.Errorf("out = %+v", out)
		}
		got := env.get(t, c.ID)
		if got.Meta.Integrity == nil || got.Meta.Integrity.QuarantineReason != capture.QuarantineDownloadFailed {
			t.Errorf("Integrity = %+v", got.Meta.Integrity)
		}
	})
}

func TestRecover_DuplicateEmails(t *testing.T) {
	env := newTestEnv(t)
	first := env.email(t, "Same  body\r\nhere", 2*time.Minute)
	second := env.email(t, "Same body\nhere", time.Minute)

	out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{}))
	if err != nil {
		t.Fatal(err)
	}
	if out.CapturesRecovered != 2 {
		t.Errorf("recovered = %d, want 2", out.CapturesRecovered)
	}

	if got := env.get(t, first.ID); got.Status != capture.StatusExported {
		t.Errorf("first Status = %s, want exported", got.Status)
	}
	dup := env.get(t, second.ID)
	if dup.Status != capture.StatusExportedDuplicate {
		t.Errorf("second Status = %s, want exported_duplicate", dup.Status)
	}
	if _, err := os.Stat(vault.ArtifactPath(env.cfg.VaultRoot, second.ID)); !os.IsNotExist(err) {
		t.Errorf("duplicate should not get its own artifact (stat err = %v)", err)
	}

	audit, _ := db.GetExportAudit(context.Background(), env.db, second.ID)
	if audit == nil || audit.Mode != db.ExportDuplicateSkip || audit.VaultPath != vault.ArtifactPath(env.cfg.VaultRoot, first.ID) {
		t.Errorf("duplicate audit = %+v", audit)
	}
	assertHashInvariant(t, env.db)
}

func TestRecover_IsolatesPerItemFailures(t *testing.T) {
	env := newTestEnv(t)
	blocked := env.email(t, "first", 2*time.Minute)
	ok := env.email(t, "second", time.Minute)

	// A different artifact already sits where the first capture would go.
	if _, err := vault.WriteAtomic(blocked.ID, "# Something else\n", env.cfg.VaultRoot); err != nil {
		t.Fatal(err)
	}

	out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{}))
	if err != nil {
		t.Fatal(err)
	}
	if out.CapturesFailed != 1 || out.CapturesRecovered != 1 {
		t.Errorf("failed=%d recovered=%d, want 1 and 1", out.CapturesFailed, out.CapturesRecovered)
	}
	if got := env.get(t, blocked.ID); got.Status != capture.StatusTranscribed {
		t.Errorf("blocked Status = %s, want transcribed", got.Status)
	}
	if got := env.get(t, ok.ID); got.Status != capture.StatusExported {
		t.Errorf("second Status = %s, want exported", got.Status)
	}

	op := db.OpExport
	logs, _ := db.ListErrorLogs(context.Background(), env.db, db.ErrorLogFilter{CaptureID: &blocked.ID, Operation: &op})
	if len(logs) != 1 || logs[0].ErrorType != "conflict" {
		t.Errorf("export error log = %+v", logs)
	}
}

func TestRecover_ProcessesOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	audioDir := t.TempDir()
	for i := 3; i >= 1; i-- {
		env.voice(t, writeAudio(t, audioDir, fmt.Sprintf("%d.m4a", i), []byte{byte(i)}), time.Duration(i)*time.Minute)
	}

	tr := &orderTranscriber{}
	if _, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{Transcriber: tr})); err != nil {
		t.Fatal(err)
	}
	want := []string{"3.m4a", "2.m4a", "1.m4a"}
	if len(tr.seen) != len(want) {
		t.Fatalf("seen = %v", tr.seen)
	}
	for i := range want {
		if filepath.Base(tr.seen[i]) != want[i] {
			t.Errorf("order = %v, want %v", tr.seen, want)
			break
		}
	}
}

type orderTranscriber struct {
	seen []string
}

func (o *orderTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	o.seen = append(o.seen, path)
	return "text for " + filepath.Base(path), nil
}

func TestRecover_SmallBatchPerformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.email(t, fmt.Sprintf("batch item %d", i), time.Minute)
	}

	start := time.Now()
	out, err := Recover(context.Background(), env.db, env.cfg, quietRecover(RecoverInput{}))
	if err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if out.CapturesRecovered != 5 {
		t.Fatalf("recovered = %d, want 5", out.CapturesRecovered)
	}
	if elapsed >= 250*time.Millisecond {
		t.Errorf("recovery took %v, want < 250ms", elapsed)
	}
}

func TestQueryRecoverable_KeepsStagingOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var staged []string
	for i := range 50 {
		out, err := Stage(ctx, env.db, StageInput{Source: "email", RawContent: fmt.Sprintf("body %d", i)})
		if err != nil {
			t.Fatal(err)
		}
		staged = append(staged, out.ID)
	}

	items, err := db.QueryRecoverable(ctx, env.db)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != len(staged) {
		t.Fatalf("recoverable = %d, want %d", len(items), len(staged))
	}
	for i, c := range items {
		if c.ID != staged[i] {
			t.Fatalf("position %d: got %s, want %s", i, c.ID, staged[i])
		}
	}
}
