package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func mustDoc(t *testing.T, src string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

func TestSectionStopsAtSameOrHigherHeading(t *testing.T) {
	doc := mustDoc(t, `<body>
		<h2>Semester 1</h2>
		<p>one</p>
		<h3>Sub</h3>
		<p>two</p>
		<h2>Semester 2</h2>
		<p>three</p>
	</body>`)

	heading := doc.Find("h2").First().Nodes[0]
	var texts []string
	for _, n := range Section(heading) {
		if n.Type == html.ElementNode {
			texts = append(texts, strings.Join(Fields(n), " "))
		}
	}
	require.Equal(t, []string{"one", "Sub", "two"}, texts)
}

func TestSectionRunsToEndOfParent(t *testing.T) {
	doc := mustDoc(t, `<div><h3>Semester 1</h3>loose text<p>x</p></div>`)
	nodes := Section(doc.Find("h3").Nodes[0])
	require.Len(t, nodes, 2)
	require.Equal(t, html.TextNode, nodes[0].Type)
}

func TestSectionOfNonHeading(t *testing.T) {
	doc := mustDoc(t, `<p>a</p><p>b</p>`)
	require.Nil(t, Section(doc.Find("p").Nodes[0]))
}

func TestHeadingLevel(t *testing.T) {
	doc := mustDoc(t, `<h1>a</h1><h4>b</h4><hr><header>c</header>`)
	require.Equal(t, 1, HeadingLevel(doc.Find("h1").Nodes[0]))
	require.Equal(t, 4, HeadingLevel(doc.Find("h4").Nodes[0]))
	require.Equal(t, 0, HeadingLevel(doc.Find("hr").Nodes[0]))
	require.Equal(t, 0, HeadingLevel(doc.Find("header").Nodes[0]))
}

func TestBlockTextSeparatesBlocks(t *testing.T) {
	doc := mustDoc(t, `<div><p>First para</p><p>Second<br>line</p><ul><li>a</li><li>b</li></ul></div>`)
	text := BlockText(doc.Find("div").Nodes[0])
	require.Contains(t, text, "First para\n\n")
	require.Contains(t, text, "Second\nline")
	require.Contains(t, text, "a\n")
}

func TestFieldsSkipsScripts(t *testing.T) {
	doc := mustDoc(t, `<div>keep<script>var x = 1;</script></div>`)
	require.Equal(t, []string{"keep"}, Fields(doc.Find("div").Nodes[0]))
}

func TestFieldsKeepsInlineSiblingsApart(t *testing.T) {
	doc := mustDoc(t, `<div><span>Summer Term</span><span>Semester 1</span> <b> </b></div>`)
	require.Equal(t, []string{"Summer Term", "Semester 1"}, Fields(doc.Find("div").Nodes[0]))
}

func TestBlockTextSeparatesListItemsAndCells(t *testing.T) {
	doc := mustDoc(t, `<div><ul><li>a@x.au</li><li>b@x.au</li></ul><table><tr><td>c@x.au</td><td>d@x.au</td></tr></table></div>`)
	text := BlockText(doc.Find("div").Nodes[0])
	require.Equal(t, []string{"a@x.au", "b@x.au", "c@x.au", "d@x.au"}, strings.Fields(text))
}
