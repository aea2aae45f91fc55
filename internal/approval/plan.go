// ABOUTME: Plan title extraction from approved-plan markdown.
// ABOUTME: Walks the goldmark AST for the first heading; falls back to the first line.

package approval

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const maxTitleLen = 80

var planParser = goldmark.New()

// Title returns a display title for a plan: the text of the first markdown
// heading, or the first non-empty line when the plan has no headings.
func Title(planMarkdown string) string {
	src := []byte(planMarkdown)
	doc := planParser.Parser().Parse(text.NewReader(src))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if _, ok := n.(*ast.Heading); !ok {
			return ast.WalkContinue, nil
		}
		title = headingText(n, src)
		return ast.WalkStop, nil
	})

	if title == "" {
		title = firstLine(planMarkdown)
	}
	return truncate(strings.TrimSpace(title), maxTitleLen)
}

// headingText concatenates the literal text segments under a heading node.
func headingText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
		}
	}
	return b.String()
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			return line
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
