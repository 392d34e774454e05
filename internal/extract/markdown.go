package extract

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// extractMarkdown walks the goldmark AST. The first heading is the title;
// every text, code and link label node contributes to the content.
func (d *Default) extractMarkdown(src []byte) (Result, error) {
	doc := d.md.Parser().Parse(text.NewReader(src))

	var (
		title string
		body  strings.Builder
	)
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				body.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			if title == "" {
				title = collapseSpace(inlineText(node, src))
			}
		case *ast.Text:
			body.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				body.WriteByte(' ')
			}
		case *ast.String:
			body.Write(node.Value)
		case *ast.AutoLink:
			body.Write(node.Label(src))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				body.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Title: title, Content: collapseSpace(body.String())}, nil
}

// inlineText concatenates the text segments below n.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
