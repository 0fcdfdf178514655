package vault

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ArtifactKind selects the section rules an artifact must satisfy.
type ArtifactKind string

const (
	KindCapture     ArtifactKind = "capture"
	KindPlaceholder ArtifactKind = "placeholder"
)

// PlaceholderTitlePrefix starts the title of every placeholder artifact.
const PlaceholderTitlePrefix = "[TRANSCRIPTION_FAILED:"

// requiredSections lists the level-2 headings each kind must contain.
var requiredSections = map[ArtifactKind][]string{
	KindCapture:     {"Content"},
	KindPlaceholder: {"Failure reason", "Status"},
}

// LintResult contains the results of linting an artifact.
type LintResult struct {
	Valid           bool
	Title           string
	MissingTitle    bool
	MissingSections []string
}

var markdown = goldmark.New()

// Lint parses content as Markdown and checks it has a level-1 title and the
// kind's required sections. Placeholder titles must carry the failure marker.
func Lint(content string, kind ArtifactKind) *LintResult {
	src := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(src))

	result := &LintResult{Valid: true}
	found := make(map[string]bool)

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		title := strings.TrimSpace(headingText(h, src))
		switch {
		case h.Level == 1 && result.Title == "":
			result.Title = title
		case h.Level == 2:
			found[strings.ToLower(title)] = true
		}
		return ast.WalkSkipChildren, nil
	})

	if result.Title == "" {
		result.MissingTitle = true
		result.Valid = false
	} else if kind == KindPlaceholder && !strings.HasPrefix(result.Title, PlaceholderTitlePrefix) {
		result.MissingTitle = true
		result.Valid = false
	}

	for _, section := range requiredSections[kind] {
		if !found[strings.ToLower(section)] {
			result.MissingSections = append(result.MissingSections, section)
		}
	}
	if len(result.MissingSections) > 0 {
		result.Valid = false
	}
	return result
}

// headingText concatenates the literal text under a heading.
func headingText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(v.Value)
		default:
			buf.WriteString(headingText(c, src))
		}
	}
	return buf.String()
}
