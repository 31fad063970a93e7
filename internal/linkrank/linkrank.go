// Package linkrank picks the single hyperlink of a table row that most likely
// points at the row's subject (the composition itself).
package linkrank

import "strings"

// DefaultBaseURL is the site root that relative wiki links are resolved against.
const DefaultBaseURL = "https://en.wikipedia.org"

// DefaultWikiPrefix roots the relative links that get resolved.
const DefaultWikiPrefix = "/wiki/"

// Cell is a DOM-free view of one table cell: its text and the hrefs of the
// wiki links it contains, in document order.
type Cell struct {
	Text  string
	Links []string
}

var compositionTerms = []string{
	"symphony", "sonata", "concerto", "quartet", "quintet", "trio",
	"prelude", "fugue", "etude", "nocturne", "waltz", "mazurka",
	"overture", "suite", "variation", "fantasia", "rhapsody", "mass",
	"requiem", "cantata", "oratorio", "opera", "song", "lied", "chanson",
	"aria", "duet", "movement", "piece", "work", "composition",
	"op.", "opus", "no.", "number", "k.", "bwv", "hob.", "woo",
}

// metaTerms mark namespaces and index pages. They veto every tier.
var metaTerms = []string{
	"category:", "file:", "template:", "user:", "talk:", "wikipedia:",
	"portal:", "help:", "special:",
	"list_of", "discography", "biography", "chronology", "timeline",
}

// offTopicTerms mark pages about the surroundings of a work rather than the
// work. They only bar the last-resort tier.
var offTopicTerms = []string{
	"genre", "style", "period", "era", "instrument", "orchestra",
	"ensemble", "conservatory", "music_school", "university", "college",
}

// IsCompositionURL reports whether url looks like a page about a single work.
func IsCompositionURL(url string) bool {
	lower := strings.ToLower(url)
	return containsAny(lower, compositionTerms) && !containsAny(lower, metaTerms)
}

// IsNonCompositionURL reports whether url is clearly not about a work.
func IsNonCompositionURL(url string) bool {
	lower := strings.ToLower(url)
	return containsAny(lower, metaTerms) || containsAny(lower, offTopicTerms)
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

// Classifier resolves and ranks row links.
type Classifier struct {
	BaseURL    string
	WikiPrefix string
}

// New returns a Classifier for baseURL; empty values fall back to the defaults.
func New(baseURL string) Classifier {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Classifier{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		WikiPrefix: DefaultWikiPrefix,
	}
}

// Resolve turns a wiki-relative href into an absolute URL. Anything else is
// returned unchanged.
func (c Classifier) Resolve(href string) string {
	prefix := c.WikiPrefix
	if prefix == "" {
		prefix = DefaultWikiPrefix
	}
	if strings.HasPrefix(href, prefix) {
		base := c.BaseURL
		if base == "" {
			base = DefaultBaseURL
		}
		return base + href
	}
	return href
}

// strategy returns the chosen URL and true, or false to defer to the next one.
type strategy func(c Classifier, cells []Cell) (string, bool)

// strategies are evaluated in order; the first success wins.
var strategies = []strategy{
	firstCellComposition,
	anyCellComposition,
	anyCellNotExcluded,
}

// SourceURL returns the most relevant link of the row, falling back to
// pageURL when no link qualifies. It never fails.
func (c Classifier) SourceURL(cells []Cell, pageURL string) string {
	for _, s := range strategies {
		if url, ok := s(c, cells); ok {
			return url
		}
	}
	return pageURL
}

func firstCellComposition(c Classifier, cells []Cell) (string, bool) {
	if len(cells) == 0 || len(cells[0].Links) == 0 {
		return "", false
	}
	url := c.Resolve(cells[0].Links[0])
	return url, IsCompositionURL(url)
}

func anyCellComposition(c Classifier, cells []Cell) (string, bool) {
	return c.scan(cells, IsCompositionURL)
}

func anyCellNotExcluded(c Classifier, cells []Cell) (string, bool) {
	return c.scan(cells, func(url string) bool { return !IsNonCompositionURL(url) })
}

func (c Classifier) scan(cells []Cell, accept func(string) bool) (string, bool) {
	for _, cell := range cells {
		for _, href := range cell.Links {
			url := c.Resolve(href)
			if accept(url) {
				return url, true
			}
		}
	}
	return "", false
}
