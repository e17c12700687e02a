
package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NewDocument parses already-decoded HTML and drops script and style content.
func NewDocument(src string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, err
	}
	doc.Find("script,noscript,style").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})
	return doc, nil
}

var (
	crlfRe       = regexp.MustCompile(`\r\n?`)
	spacesRe     = regexp.MustCompile(`[ \t\f\v]+`)
	newlineRe    = regexp.MustCompile(` ?\n ?`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize is the single text normalization applied to everything taken out
// of markup: whitespace around newlines is dropped, runs of spaces become one,
// three or more newlines become one blank line, and the ends are trimmed.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = crlfRe.ReplaceAllString(s, "\n")
	s = spacesRe.ReplaceAllString(s, " ")
	s = newlineRe.ReplaceAllString(s, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// singleLine collapses all whitespace, newlines included.
func singleLine(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ReplaceAll(s, "\u00a0", " "), " "))
}
