package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content addressing. The version suffix leaves room
// for a future algorithm change without colliding with old digests.
const (
	DomainText  = "stash/text/v1"
	DomainAudio = "stash/audio/v1"
	DomainEmail = "stash/email/v1"
)

// DefaultAudioPrefixBytes is how much of an audio file is hashed.
const DefaultAudioPrefixBytes = 4 << 20

var whitespaceRegex = regexp.MustCompile(`[ \t\f\v]+`)
var blankLinesRegex = regexp.MustCompile(`\n{3,}`)

// NormalizeText prepares text for hashing:
// 1. NFC normalization
// 2. CRLF and CR become LF
// 3. Runs of horizontal whitespace collapse to one space; lines are trimmed
// 4. More than one blank line collapses to one; leading/trailing blank lines removed
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRegex.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRegex.ReplaceAllString(s, "\n\n")
	return strings.Trim(s, "\n")
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashText returns the content address of normalized text.
func HashText(s string) string {
	return hashWithDomain(DomainText, []byte(NormalizeText(s)))
}

// HashEmail returns the content address of an email body.
// Formatting differences (line endings, spacing, Unicode composition) do not change it.
func HashEmail(body string) string {
	return hashWithDomain(DomainEmail, []byte(NormalizeText(body)))
}

// HashAudioPrefix hashes the first prefixBytes of an audio file together with
// its total size, so truncated copies do not collide with the original.
func HashAudioPrefix(path string, prefixBytes int64) (string, error) {
	if prefixBytes <= 0 {
		prefixBytes = DefaultAudioPrefixBytes
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat audio: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(DomainAudio))
	h.Write([]byte{0x00})
	fmt.Fprintf(h, "%d", info.Size())
	h.Write([]byte{0x00})
	if _, err := io.CopyN(h, f, prefixBytes); err != nil && err != io.EOF {
		return "", fmt.Errorf("read audio: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
