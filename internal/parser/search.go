package parser

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"handbook-scraper/internal/htmlutil"
	"handbook-scraper/internal/models"
)

var (
	codeRe      = regexp.MustCompile(`(?i)\b([a-z]{4}[0-9]{5})\b`)
	pageParamRe = regexp.MustCompile(`[?&](?:amp;)?page=([0-9]+)`)
)

// ParsePage turns one search-results page into stubs. Entries without a
// subject code are dropped.
func ParsePage(src string) []models.SubjectStub {
	doc, err := NewDocument(src)
	if err != nil {
		return nil
	}
	return ParsePageDocument(doc)
}

func ParsePageDocument(doc *goquery.Document) []models.SubjectStub {
	var stubs []models.SubjectStub
	doc.Find(".search-result-item").Each(func(_ int, item *goquery.Selection) {
		rawName := singleLine(item.Find(".search-result-item__name h3").First().Text())
		if rawName == "" {
			rawName = singleLine(item.Find(".search-result-item__name").First().Text())
		}

		anchor := item.Find("a.search-result-item__anchor").First()
		if anchor.Length() == 0 {
			anchor = item.Find("a[href]").First()
		}
		href := strings.TrimSpace(anchor.AttrOr("href", ""))
		if href == "" && goquery.NodeName(item) == "a" {
			href = strings.TrimSpace(item.AttrOr("href", ""))
		}

		code := subjectCode(singleLine(item.Find(".search-result-item__code").First().Text()), rawName, href)
		if code == "" {
			return
		}

		stubs = append(stubs, models.SubjectStub{
			Code:    code,
			Name:    stripCode(rawName, code),
			Href:    href,
			Offered: offeredHint(item.Find(".search-result-item__meta-secondary").First()),
		})
	})
	return stubs
}

// offeredHint keeps the periods listed in separate child elements apart so
// the word-boundary matching in the classifier still sees them.
func offeredHint(meta *goquery.Selection) string {
	if meta.Length() == 0 {
		return ""
	}
	return singleLine(strings.Join(htmlutil.Fields(meta.Nodes[0]), " "))
}

func subjectCode(candidates ...string) string {
	for i, c := range candidates {
		if c == "" {
			continue
		}
		// the last candidate is a link, only its final path segment counts
		if i == len(candidates)-1 {
			if u, err := url.Parse(c); err == nil {
				c = path.Base(u.Path)
			}
		}
		if m := codeRe.FindStringSubmatch(c); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

func stripCode(name, code string) string {
	if len(name) >= len(code) && strings.EqualFold(name[:len(code)], code) {
		name = name[len(code):]
	}
	return strings.TrimSpace(strings.TrimLeft(name, " -–—:|"))
}

// ParseMaxPage returns the highest page number linked from the pagination,
// or 1 when there is none.
func ParseMaxPage(src string) int {
	doc, err := NewDocument(src)
	if err != nil {
		return 1
	}
	return ParseMaxPageDocument(doc)
}

func ParseMaxPageDocument(doc *goquery.Document) int {
	max := 1
	doc.Find(".search-results__paginate a, .pagination a, a[href*='page=']").Each(func(_ int, a *goquery.Selection) {
		for _, m := range pageParamRe.FindAllStringSubmatch(a.AttrOr("href", ""), -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
		if n, err := strconv.Atoi(strings.TrimSpace(a.Text())); err == nil && n > max {
			max = n
		}
	})
	return max
}
