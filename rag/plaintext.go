package rag

import (
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// PlainText renders markdown (headings, emphasis, lists, tables) into
// plain text, one block per line. Raw HTML is dropped.
func PlainText(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	// Parsers carry state and cannot be reused across documents. CJK text
	// has no word spaces, so intra-word emphasis must stay enabled.
	p := parser.NewWithExtensions(parser.CommonExtensions &^ parser.NoIntraEmphasis)
	doc := markdown.Parse([]byte(md), p)

	var b strings.Builder
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		switch n := node.(type) {
		case *ast.Text:
			if entering {
				b.Write(n.Literal)
			}
		case *ast.Code:
			if entering {
				b.Write(n.Literal)
			}
		case *ast.CodeBlock:
			if entering {
				b.Write(n.Literal)
				b.WriteByte('\n')
			}
		case *ast.Softbreak, *ast.Hardbreak:
			if entering {
				b.WriteByte('\n')
			}
		case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.TableCell:
			if !entering {
				b.WriteByte('\n')
			}
		}
		return ast.GoToNext
	})

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
