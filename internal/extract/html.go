package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// boilerplate lists elements dropped with their whole subtree.
var boilerplate = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
}

// blocks separate their text from neighbouring text.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Tr: true, atom.Td: true, atom.Th: true,
	atom.Blockquote: true, atom.Pre: true, atom.Table: true,
	atom.Section: true, atom.Article: true, atom.Main: true,
}

// extractHTML returns the page title and its boilerplate-free text.
func extractHTML(data []byte) Result {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		// html.Parse only fails on reader errors.
		return Result{Content: collapseSpace(string(data))}
	}

	var text strings.Builder
	writeText(&text, doc)

	return Result{Title: htmlTitle(doc), Content: collapseSpace(text.String())}
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if boilerplate[n.DataAtom] {
			return
		}
	case html.CommentNode, html.DoctypeNode:
		return
	}

	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteByte(' ')
	}
}

// htmlTitle reads <title>, falling back to the first <meta> whose name or
// property mentions "title" (og:title, twitter:title, dc.title).
func htmlTitle(doc *html.Node) string {
	if n := findElement(doc, func(n *html.Node) bool { return n.DataAtom == atom.Title }); n != nil {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		if t := collapseSpace(b.String()); t != "" {
			return t
		}
	}

	meta := findElement(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Meta {
			return false
		}
		key := strings.ToLower(attr(n, "name") + " " + attr(n, "property"))
		return strings.Contains(key, "title") && collapseSpace(attr(n, "content")) != ""
	})
	if meta != nil {
		return collapseSpace(attr(meta, "content"))
	}
	return ""
}

// findElement returns the first element in document order matching match.
func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
