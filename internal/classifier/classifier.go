
package classifier

import (
	"regexp"
	"strings"
	"sync"
)

// Classifier recognises study period labels in free offering text.
type Classifier struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

func New() *Classifier { return &Classifier{patterns: map[string]*regexp.Regexp{}} }

// known periods, in the order the handbook lists them
var knownPeriods = []string{
	"Summer Term",
	"January",
	"February",
	"Semester 1",
	"April",
	"May",
	"June",
	"Winter Term",
	"July",
	"Semester 2",
	"September",
	"October",
	"November",
	"Year Long",
}

// pattern compiles label into a case-insensitive, whitespace-tolerant regexp
// anchored on word boundaries, so "Semester 1" never matches "Semester 10".
func (c *Classifier) pattern(label string) *regexp.Regexp {
	key := strings.ToLower(strings.Join(strings.Fields(label), " "))
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.patterns[key]; ok {
		return re
	}
	words := strings.Fields(key)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	re := regexp.MustCompile(`(?i)\b` + strings.Join(words, `[\s\-_]*`) + `\b`)
	c.patterns[key] = re
	return re
}

// Offers reports whether text mentions the study period label.
func (c *Classifier) Offers(text, label string) bool {
	if strings.TrimSpace(label) == "" {
		return false
	}
	return c.pattern(label).MatchString(text)
}

// Periods lists the known study periods mentioned in text.
func (c *Classifier) Periods(text string) []string {
	var out []string
	for _, p := range knownPeriods {
		if c.Offers(text, p) {
			out = append(out, p)
		}
	}
	return out
}
