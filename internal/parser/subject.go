package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"handbook-scraper/internal/htmlutil"
)

var (
	paragraphSplitRe = regexp.MustCompile(`\n[ \t]*\n`)
	headerPointsRe   = regexp.MustCompile(`(?i)points?\s*:\s*([0-9]+(?:\.[0-9]+)?)`)
	numberRe         = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)
)

// ParseOverview flattens the overview container into paragraphs, skipping
// the nested overview boxes.
func ParseOverview(doc *goquery.Document) []string {
	paragraphs := []string{}
	container := doc.Find(".course__overview-wrapper").First()
	if container.Length() == 0 {
		container = doc.Find("#overview").First()
	}
	container.Children().Each(func(_ int, block *goquery.Selection) {
		if block.HasClass("course__overview-box") {
			return
		}
		text := Normalize(htmlutil.BlockText(block.Nodes[0]))
		for _, p := range paragraphSplitRe.Split(text, -1) {
			if p = strings.TrimSpace(p); p != "" {
				paragraphs = append(paragraphs, p)
			}
		}
	})
	return paragraphs
}

// overviewRow finds the first overview-box table row whose header mentions label.
func overviewRow(doc *goquery.Document, label string) *goquery.Selection {
	label = strings.ToLower(label)
	var found *goquery.Selection
	doc.Find(".course__overview-box tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(tr.Find("th").First().Text()), label) {
			found = tr.Find("td").First()
			return false
		}
		return true
	})
	return found
}

// ParseAvailability returns the availability box text, or "" when absent.
func ParseAvailability(doc *goquery.Document) string {
	if td := overviewRow(doc, "availability"); td != nil && td.Length() > 0 {
		return Normalize(htmlutil.BlockText(td.Nodes[0]))
	}
	box := doc.Find("#availability, .course__availability").First()
	if box.Length() == 0 {
		return ""
	}
	return Normalize(htmlutil.BlockText(box.Nodes[0]))
}

// ParseCreditPoints reads "Points: 12.5" from the page header, falling back to
// a "Credit points" overview row. nil when neither is present.
func ParseCreditPoints(doc *goquery.Document) *float64 {
	if m := headerPointsRe.FindStringSubmatch(doc.Find(".header--course-and-subject__details").Text()); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return &v
		}
	}
	if td := overviewRow(doc, "points"); td != nil {
		if m := numberRe.FindString(td.Text()); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				return &v
			}
		}
	}
	return nil
}
