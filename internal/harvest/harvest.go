// Package harvest walks a parsed page's tables and emits one schema-free raw
// record per data row, preserving headers, cell text, cell links and markup.
package harvest

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
	"github.com/JakeFAU/worklist-harvester/internal/linkrank"
)

const (
	tableSelector  = "table"
	rowSelector    = "tr"
	headerSelector = "th"
	cellSelector   = "td"
	linkSelector   = `a[href^="/wiki"]`
)

// Subject identifies whose page is being harvested.
type Subject struct {
	Name    string
	URL     string
	PageURL string
}

// WorksSubject builds the subject and list-of-compositions page for a
// composer name such as "Igor Stravinsky".
func WorksSubject(baseURL, name string) Subject {
	base := strings.TrimRight(baseURL, "/")
	slug := strings.ReplaceAll(name, " ", "_")
	return Subject{
		Name:    name,
		URL:     fmt.Sprintf("%s/wiki/%s", base, slug),
		PageURL: fmt.Sprintf("%s/wiki/List_of_compositions_by_%s", base, slug),
	}
}

// Harvester extracts raw records from documents.
type Harvester struct {
	links linkrank.Classifier
}

// New returns a Harvester resolving links with the given classifier.
func New(links linkrank.Classifier) *Harvester {
	return &Harvester{links: links}
}

// Tables harvests every table of doc in document order.
func (h *Harvester) Tables(doc *goquery.Document, subject Subject) []catalog.RawRecord {
	var records []catalog.RawRecord
	doc.Find(tableSelector).Each(func(tableIndex int, table *goquery.Selection) {
		records = append(records, h.Table(table, subject, tableIndex)...)
	})
	return records
}

// Table harvests the data rows of a single table. Rows without data cells are
// skipped and do not consume a row index.
func (h *Harvester) Table(table *goquery.Selection, subject Subject, tableIndex int) []catalog.RawRecord {
	rows := table.Find(rowSelector)
	headers := tableHeaders(rows)

	var records []catalog.RawRecord
	rowIndex := 0
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(cellSelector)
		if cells.Length() == 0 {
			return
		}
		records = append(records, h.row(cells, headers, subject, tableIndex, rowIndex))
		rowIndex++
	})
	return records
}

func (h *Harvester) row(
	cells *goquery.Selection,
	headers []string,
	subject Subject,
	tableIndex, rowIndex int,
) catalog.RawRecord {
	n := cells.Length()
	cellData := make([]string, 0, n)
	cellLinks := make([]*string, 0, n)
	ranked := make([]linkrank.Cell, 0, n)
	var snippet strings.Builder
	snippet.WriteString("<tr>")

	cells.Each(func(_ int, cell *goquery.Selection) {
		text := strings.TrimSpace(cell.Text())
		hrefs := cellHrefs(cell)

		cellData = append(cellData, text)
		if len(hrefs) > 0 {
			resolved := h.links.Resolve(hrefs[0])
			cellLinks = append(cellLinks, &resolved)
		} else {
			cellLinks = append(cellLinks, nil)
		}
		ranked = append(ranked, linkrank.Cell{Text: text, Links: hrefs})

		if html, err := goquery.OuterHtml(cell); err == nil {
			snippet.WriteString(html)
		}
	})
	snippet.WriteString("</tr>")

	return catalog.RawRecord{
		ComposerName:   subject.Name,
		ComposerURL:    subject.URL,
		SourceURL:      h.links.SourceURL(ranked, subject.PageURL),
		TableIndex:     tableIndex,
		RowIndex:       rowIndex,
		Headers:        append([]string(nil), headers...),
		CellData:       cellData,
		CellLinks:      cellLinks,
		RawHTMLSnippet: snippet.String(),
	}
}

// tableHeaders returns the text of the first row holding header cells, or
// positional names sized to the widest data row.
func tableHeaders(rows *goquery.Selection) []string {
	var headers []string
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		ths := row.Find(headerSelector)
		if ths.Length() == 0 {
			return true
		}
		ths.Each(func(_ int, th *goquery.Selection) {
			headers = append(headers, strings.TrimSpace(th.Text()))
		})
		return false
	})
	if len(headers) > 0 {
		return headers
	}

	maxCols := 0
	rows.Each(func(_ int, row *goquery.Selection) {
		if n := row.Find(cellSelector).Length(); n > maxCols {
			maxCols = n
		}
	})
	headers = make([]string, maxCols)
	for i := range headers {
		headers[i] = fmt.Sprintf("column_%d", i)
	}
	return headers
}

func cellHrefs(cell *goquery.Selection) []string {
	var hrefs []string
	cell.Find(linkSelector).Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}
