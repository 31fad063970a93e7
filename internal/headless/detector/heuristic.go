// Package detector decides when a plainly fetched page must be re-fetched
// with the headless renderer.
package detector

import (
	"bytes"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
)

const (
	defaultThreshold = 2048
	// DefaultContentSelector matches the markup harvesting reads from.
	DefaultContentSelector = "table, li a[href]"
)

// spaMarkers are elements client-side frameworks mount into.
const spaMarkers = `#__next, #root, #app, [data-reactroot], [data-v-app]`

// Heuristic promotes pages that carry no harvestable markup but look like a
// script-rendered shell.
type Heuristic struct {
	BodyLengthThreshold int
	ContentSelector     string
}

// NewHeuristic creates a detector. Zero values select the defaults.
func NewHeuristic(threshold int, contentSelector string) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if contentSelector == "" {
		contentSelector = DefaultContentSelector
	}
	return &Heuristic{BodyLengthThreshold: threshold, ContentSelector: contentSelector}
}

// ShouldPromote reports whether the headless fetcher should retry resp.
func (h *Heuristic) ShouldPromote(resp catalog.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find(h.ContentSelector).Length() > 0 {
		return false
	}
	if doc.Find(spaMarkers).Length() > 0 {
		return true
	}
	return len(body) < h.BodyLengthThreshold && scriptHeavy(doc, len(body))
}

// scriptHeavy reports whether inline scripts make up at least a quarter of
// the document.
func scriptHeavy(doc *goquery.Document, total int) bool {
	scripts := doc.Find("script")
	if scripts.Length() == 0 {
		return false
	}
	coverage := 0
	scripts.Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			coverage += len(html)
		}
	})
	return coverage*100/total >= 25
}
