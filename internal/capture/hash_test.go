package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"trims", "  hello  ", "hello"},
		{"collapses spaces", "a   b\t\tc", "a b c"},
		{"crlf", "line1\r\nline2\rline3", "line1\nline2\nline3"},
		{"blank lines", "a\n\n\n\nb", "a\n\nb"},
		{"leading blank lines", "\n\n  a", "a"},
		{"nfc", "cafe\u0301", "caf\u00e9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.input); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestHashEmail_IgnoresFormattingNoise(t *testing.T) {
	a := HashEmail("Hello there,\r\n\r\nSee you   soon.")
	b := HashEmail("Hello there,\n\nSee you soon.  ")
	if a != b {
		t.Errorf("hashes differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(a))
	}
}

func TestHash_DomainSeparation(t *testing.T) {
	if HashText("same") == HashEmail("same") {
		t.Error("text and email digests of identical content must differ")
	}
}

func TestHashAudioPrefix(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.m4a")
	b := filepath.Join(dir, "b.m4a")
	c := filepath.Join(dir, "c.m4a")
	if err := os.WriteFile(a, []byte("RIFF....audio-data-1234"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("RIFF....audio-data-1234"), 0600); err != nil {
		t.Fatal(err)
	}
	// same prefix, different total size
	if err := os.WriteFile(c, []byte("RIFF....audio-data-1234-and-more"), 0600); err != nil {
		t.Fatal(err)
	}

	ha, err := HashAudioPrefix(a, 8)
	if err != nil {
		t.Fatalf("HashAudioPrefix error = %v", err)
	}
	hb, _ := HashAudioPrefix(b, 8)
	hc, _ := HashAudioPrefix(c, 8)

	if ha != hb {
		t.Error("identical files should hash identically")
	}
	if ha == hc {
		t.Error("files with different sizes should not collide")
	}
}

func TestHashAudioPrefix_Missing(t *testing.T) {
	if _, err := HashAudioPrefix(filepath.Join(t.TempDir(), "nope.m4a"), 0); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewID_And_ValidID(t *testing.T) {
	id, err := NewID(time.Now())
	if err != nil {
		t.Fatalf("NewID error = %v", err)
	}
	if len(id) != 26 {
		t.Errorf("len(id) = %d, want 26", len(id))
	}
	if !ValidID(id) {
		t.Errorf("ValidID(%q) = false", id)
	}

	for _, bad := range []string{"", "short", "01ARZ3NDEKTSV4RRFFQ69G5FA", "01ARZ3NDEKTSV4RRFFQ69G5FAVX", "01ARZ3NDEKTSV4RRFFQ69G5FA!", "../../etc/passwd0000000000"} {
		if ValidID(bad) {
			t.Errorf("ValidID(%q) = true, want false", bad)
		}
	}
}

func TestNewID_Sortable(t *testing.T) {
	earlier, _ := NewID(time.UnixMilli(1_700_000_000_000))
	later, _ := NewID(time.UnixMilli(1_700_000_000_001))
	if earlier >= later {
		t.Errorf("ids not time-ordered: %s >= %s", earlier, later)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	raw := "2025-01-15T10:30:45.120Z"
	ts, err := ParseTimestamp(raw)
	if err != nil {
		t.Fatalf("ParseTimestamp error = %v", err)
	}
	if got := FormatTimestamp(ts); got != raw {
		t.Errorf("FormatTimestamp = %q, want %q", got, raw)
	}
}
