package ops

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/classify"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/health"
)

func TestList_FiltersAndPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.email(t, string(rune('a'+i)), time.Duration(10-i)*time.Minute)
	}
	v := env.voice(t, "/missing.m4a", time.Minute)
	v.Meta = v.Meta.WithQuarantine(capture.QuarantineMissingFile, capture.FormatTimestamp(time.Now()))
	if err := db.UpdateMeta(ctx, env.db, v.ID, v.Meta, time.Now()); err != nil {
		t.Fatal(err)
	}

	page, err := List(ctx, env.db, ListInput{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || !page.Pagination.HasMore || page.Pagination.Total != 6 {
		t.Errorf("page = %+v", page.Pagination)
	}
	if page.Sort != "created_at_asc" || page.Items[0].CreatedAt > page.Items[1].CreatedAt {
		t.Errorf("items not oldest first: %+v", page.Items)
	}

	last, _ := List(ctx, env.db, ListInput{Limit: 2, Offset: 4})
	if len(last.Items) != 2 || last.Pagination.HasMore {
		t.Errorf("last page = %+v", last.Pagination)
	}

	voice, _ := List(ctx, env.db, ListInput{Source: "voice"})
	if len(voice.Items) != 1 || !voice.Items[0].Quarantined || voice.Items[0].QuarantineReason != capture.QuarantineMissingFile {
		t.Errorf("voice = %+v", voice.Items)
	}

	no := false
	clean, _ := List(ctx, env.db, ListInput{Quarantined: &no, Status: "staged"})
	if clean.Pagination.Total != 5 {
		t.Errorf("unquarantined staged total = %d, want 5", clean.Pagination.Total)
	}

	clamped, _ := List(ctx, env.db, ListInput{Limit: 1000})
	if clamped.Pagination.Limit != MaxListLimit {
		t.Errorf("Limit = %d, want %d", clamped.Pagination.Limit, MaxListLimit)
	}
}

func TestList_InvalidFilters(t *testing.T) {
	env := newTestEnv(t)
	for _, in := range []ListInput{{Status: "done"}, {Source: "sms"}} {
		if _, err := List(context.Background(), env.db, in); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("List(%+v) error = %v", in, err)
		}
	}
}

func TestListErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.voice(t, writeAudio(t, env.dir, "e.m4a", []byte("e")), time.Minute)
	if _, err := RecordTranscriptionFailure(ctx, env.db, TranscriptionFailureInput{
		ID: c.ID, Err: &classify.TranscriptionError{Kind: classify.KindCorruptAudio},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := RecordAuthFailure(ctx, env.db, classify.APIErrorFromOAuth("", 503)); err != nil {
		t.Fatal(err)
	}

	all, err := ListErrors(ctx, env.db, ListErrorsInput{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Items) != 2 {
		t.Errorf("all = %d, want 2", len(all.Items))
	}

	dlq, _ := ListErrors(ctx, env.db, ListErrorsInput{DLQOnly: true})
	if len(dlq.Items) != 1 || dlq.Items[0].Operation != db.OpTranscribe {
		t.Errorf("dlq = %+v", dlq.Items)
	}

	byCapture, _ := ListErrors(ctx, env.db, ListErrorsInput{CaptureID: c.ID})
	if len(byCapture.Items) != 1 {
		t.Errorf("byCapture = %+v", byCapture.Items)
	}

	auth, _ := ListErrors(ctx, env.db, ListErrorsInput{Operation: "auth"})
	if len(auth.Items) != 1 || auth.Items[0].DLQ {
		t.Errorf("auth = %+v", auth.Items)
	}

	if _, err := ListErrors(ctx, env.db, ListErrorsInput{Operation: "launch"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad operation error = %v", err)
	}
	if _, err := ListErrors(ctx, env.db, ListErrorsInput{CaptureID: "nope"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad id error = %v", err)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	exported := env.email(t, "one", 3*time.Minute)
	env.email(t, "two", 2*time.Minute)
	q := env.voice(t, "/gone.m4a", time.Minute)
	q.Meta = q.Meta.WithQuarantine(capture.QuarantineMissingFile, capture.FormatTimestamp(time.Now()))
	if err := db.UpdateMeta(ctx, env.db, q.ID, q.Meta, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := CompleteTranscription(ctx, env.db, env.cfg, CompleteTranscriptionInput{ID: exported.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := ExportCapture(ctx, env.db, env.cfg, exported.ID); err != nil {
		t.Fatal(err)
	}

	out, err := Status(ctx, env.db)
	if err != nil {
		t.Fatal(err)
	}
	if out.Total != 3 || out.Counts[capture.StatusExported] != 1 || out.Counts[capture.StatusStaged] != 2 {
		t.Errorf("counts = %+v total = %d", out.Counts, out.Total)
	}
	if out.Recoverable != 1 || out.Quarantined != 1 || out.ExportAudits != 1 {
		t.Errorf("out = %+v", out)
	}
	if out.Backup.Status != health.StatusHealthy || out.PollingHalted {
		t.Errorf("backup = %+v halted = %v", out.Backup, out.PollingHalted)
	}
}
