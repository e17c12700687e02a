package htmlutil

import (
	"strings"

	"golang.org/x/net/html"
)

// Fields returns the trimmed, non-empty text nodes under node in document
// order, markup ignored. Adjacent inline elements stay separate entries.
func Fields(node *html.Node) []string {
	var out []string
	fieldsRecursive(node, &out)
	return out
}

func fieldsRecursive(node *html.Node, out *[]string) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		if text := strings.TrimSpace(node.Data); text != "" {
			*out = append(*out, text)
		}
		return
	}
	if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		fieldsRecursive(child, out)
	}
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "ul": true, "ol": true,
	"table": true, "blockquote": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "footer": true, "pre": true, "dl": true,
}

var lineElements = map[string]bool{
	"li": true, "tr": true, "dt": true, "dd": true,
}

// BlockText concatenates the text under node with layout kept. Block elements
// are separated by a blank line, list items and rows start a new line and
// <br> breaks the line.
func BlockText(node *html.Node) string {
	var b strings.Builder
	blockTextRecursive(node, &b)
	return b.String()
}

func blockTextRecursive(node *html.Node, b *strings.Builder) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		b.WriteString(node.Data)
		return
	case html.ElementNode:
		switch {
		case node.Data == "script" || node.Data == "style":
			return
		case node.Data == "br":
			b.WriteString("\n")
			return
		case blockElements[node.Data]:
			b.WriteString("\n\n")
			defer b.WriteString("\n\n")
		case lineElements[node.Data]:
			b.WriteString("\n")
			defer b.WriteString("\n")
		case node.Data == "td" || node.Data == "th":
			defer b.WriteString(" ")
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		blockTextRecursive(child, b)
	}
}

// HeadingLevel returns 1-6 for <h1>..<h6> and 0 for anything else.
func HeadingLevel(node *html.Node) int {
	if node == nil || node.Type != html.ElementNode || len(node.Data) != 2 || node.Data[0] != 'h' {
		return 0
	}
	if l := int(node.Data[1] - '0'); l >= 1 && l <= 6 {
		return l
	}
	return 0
}

// Siblings calls yield for each sibling after start, in document order, until
// yield returns false or the siblings run out.
func Siblings(start *html.Node, yield func(*html.Node) bool) {
	if start == nil {
		return
	}
	for n := start.NextSibling; n != nil; n = n.NextSibling {
		if !yield(n) {
			return
		}
	}
}

// CollectUntil gathers the siblings after start up to, not including, the
// first one matching stop.
func CollectUntil(start *html.Node, stop func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	Siblings(start, func(n *html.Node) bool {
		if stop(n) {
			return false
		}
		out = append(out, n)
		return true
	})
	return out
}

// Section returns the nodes scoped by heading: its following siblings up to
// the next heading of the same or a higher level.
func Section(heading *html.Node) []*html.Node {
	level := HeadingLevel(heading)
	if level == 0 {
		return nil
	}
	return CollectUntil(heading, func(n *html.Node) bool {
		l := HeadingLevel(n)
		return l != 0 && l <= level
	})
}
