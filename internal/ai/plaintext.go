package ai

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// PlainText strips markdown syntax from post content so that only the
// words a reader sees are embedded. Code blocks are kept verbatim.
func PlainText(source string) string {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	src := []byte(source)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var blocks []string
	var sb strings.Builder
	flush := func() {
		block := strings.Join(strings.Fields(sb.String()), " ")
		if block != "" {
			blocks = append(blocks, block)
		}
		sb.Reset()
	}
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := node.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if !entering {
				return ast.WalkContinue, nil
			}
			flush()
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				sb.Write(line.Value(src))
				sb.WriteByte(' ')
			}
			flush()
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				sb.Write(n.Segment.Value(src))
				if n.SoftLineBreak() || n.HardLineBreak() {
					sb.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				sb.Write(n.Value)
			}
		case *ast.AutoLink:
			if entering {
				sb.Write(n.Label(src))
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				flush()
			}
		}
		return ast.WalkContinue, nil
	})
	flush()
	return strings.Join(blocks, "\n")
}
