package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"handbook-scraper/internal/htmlutil"
	"handbook-scraper/internal/models"
)

const (
	// headings that may open a study period block on the assessment page
	periodTableHeadings = "h2, h3, h4"
	// period subsections listing staff and contacts
	periodEmailHeadings = "h3"
)

var emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,}`)

// findPeriodHeading returns the first heading matching selector whose text
// contains label, case-insensitively.
func findPeriodHeading(doc *goquery.Document, selector, label string) *html.Node {
	needle := strings.ToLower(strings.TrimSpace(label))
	if needle == "" {
		return nil
	}
	var found *html.Node
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(singleLine(s.Text())), needle) {
			found = s.Nodes[0]
			return false
		}
		return true
	})
	return found
}

// ParseAssessmentTables returns the tables in the section opened by the first
// heading mentioning periodLabel. Tables without body rows are dropped.
func ParseAssessmentTables(doc *goquery.Document, periodLabel string) []models.AssessmentTable {
	tables := []models.AssessmentTable{}
	heading := findPeriodHeading(doc, periodTableHeadings, periodLabel)
	if heading == nil {
		return tables
	}

	add := func(t *goquery.Selection) {
		if table, ok := parseTable(t); ok {
			tables = append(tables, table)
		}
	}
	for _, n := range htmlutil.Section(heading) {
		if n.Type != html.ElementNode {
			continue
		}
		sel := doc.FindNodes(n)
		if n.Data == "table" {
			add(sel)
			continue
		}
		sel.Find("table").Each(func(_ int, t *goquery.Selection) { add(t) })
	}
	return tables
}

func headerRow(t *goquery.Selection) *goquery.Selection {
	if h := t.Find("thead tr").First(); h.Length() > 0 {
		return h
	}
	var found *goquery.Selection
	t.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.ChildrenFiltered("td, th")
		if cells.Length() > 0 && cells.Length() == cells.Filter("th").Length() {
			found = tr
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	return t.Find("tr").First()
}

func columnLabel(columns []string, i int) string {
	if i < len(columns) && columns[i] != "" {
		return columns[i]
	}
	return fmt.Sprintf("Column %d", i+1)
}

func parseTable(t *goquery.Selection) (models.AssessmentTable, bool) {
	table := models.AssessmentTable{Columns: []string{}, Rows: []map[string]string{}}
	header := headerRow(t)
	if header.Length() == 0 {
		return table, false
	}

	header.ChildrenFiltered("td, th").Each(func(i int, cell *goquery.Selection) {
		label := singleLine(cell.Text())
		if label == "" {
			label = columnLabel(nil, i)
		}
		table.Columns = append(table.Columns, label)
	})

	headerNode := header.Nodes[0]
	t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Nodes[0] == headerNode {
			return
		}
		cells := tr.ChildrenFiltered("td, th")
		if cells.Length() == 0 {
			return
		}
		row := make(map[string]string, cells.Length())
		blank := true
		cells.Each(func(i int, cell *goquery.Selection) {
			value := Normalize(htmlutil.BlockText(cell.Nodes[0]))
			if value != "" {
				blank = false
			}
			row[columnLabel(table.Columns, i)] = value
		})
		// spacer rows carry no data
		if blank {
			return
		}
		table.Rows = append(table.Rows, row)
	})
	return table, len(table.Rows) > 0
}

// ExtractEmails returns the email addresses in text in order of first
// appearance, deduplicated case-insensitively. Case is preserved.
func ExtractEmails(text string) []string {
	return appendEmails(nil, map[string]bool{}, text)
}

func appendEmails(out []string, seen map[string]bool, text string) []string {
	for _, m := range emailRe.FindAllString(text, -1) {
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// ParseSemesterEmails collects the addresses found in the subsection opened by
// the first period heading matching periodLabel, mailto links included.
func ParseSemesterEmails(doc *goquery.Document, periodLabel string) []string {
	emails := []string{}
	heading := findPeriodHeading(doc, periodEmailHeadings, periodLabel)
	if heading == nil {
		return emails
	}
	seen := map[string]bool{}
	for _, n := range htmlutil.Section(heading) {
		emails = appendEmails(emails, seen, htmlutil.BlockText(n))
		if n.Type != html.ElementNode {
			continue
		}
		sel := doc.FindNodes(n)
		links := sel.Find("a[href^='mailto:']").AddSelection(sel.Filter("a[href^='mailto:']"))
		links.Each(func(_ int, a *goquery.Selection) {
			emails = appendEmails(emails, seen, a.AttrOr("href", ""))
		})
	}
	return emails
}
