// Package catalog defines core types shared across the harvesting subsystems.
package catalog

import "time"

// RawRecord is one table row pulled off a page, before any interpretation.
// CellData and CellLinks are positionally aligned; Headers is shared by every
// row of the same table and may be shorter or longer than CellData.
type RawRecord struct {
	ComposerName   string    `json:"composer_name"`
	ComposerURL    string    `json:"composer_url"`
	SourceURL      string    `json:"source_url"`
	TableIndex     int       `json:"table_index"`
	RowIndex       int       `json:"row_index"`
	Headers        []string  `json:"headers"`
	CellData       []string  `json:"cell_data"`
	CellLinks      []*string `json:"cell_links"`
	RawHTMLSnippet string    `json:"raw_html_snippet"`
}

// Clone returns a deep copy so the caller owns every slice.
func (r RawRecord) Clone() RawRecord {
	cp := r
	cp.Headers = append([]string(nil), r.Headers...)
	cp.CellData = append([]string(nil), r.CellData...)
	if r.CellLinks != nil {
		cp.CellLinks = make([]*string, len(r.CellLinks))
		for i, link := range r.CellLinks {
			if link != nil {
				v := *link
				cp.CellLinks[i] = &v
			}
		}
	}
	return cp
}

// Cell returns the text at idx, or "" when idx is out of range.
func (r RawRecord) Cell(idx int) string {
	if idx < 0 || idx >= len(r.CellData) {
		return ""
	}
	return r.CellData[idx]
}

// Link returns the link aligned with cell idx, or nil when absent.
func (r RawRecord) Link(idx int) *string {
	if idx < 0 || idx >= len(r.CellLinks) {
		return nil
	}
	return r.CellLinks[idx]
}

// CanonicalRecord is a RawRecord mapped onto the fixed composition schema.
type CanonicalRecord struct {
	ComposerName    string            `json:"composer_name"`
	ComposerURL     string            `json:"composer_url"`
	SourceURL       string            `json:"source_url"`
	Title           string            `json:"title"`
	WorkURL         *string           `json:"work_url"`
	Year            *string           `json:"year"`
	Key             *string           `json:"key"`
	Opus            *string           `json:"opus"`
	Genre           *string           `json:"genre"`
	CatalogNumber   *string           `json:"catalog_number"`
	Instrumentation *string           `json:"instrumentation"`
	Duration        *string           `json:"duration"`
	AdditionalInfo  map[string]string `json:"additional_info"`
	RawData         RawRecord         `json:"raw_data"`
}

// YearInfo is the parsed form of a years expression such as "c. 1600-1650".
type YearInfo struct {
	Start       int
	End         *int
	Approximate bool
	Flourished  bool
}

// YearsQualifier describes how trustworthy a composer's years are.
type YearsQualifier string

// Qualifier values persisted with every composer.
const (
	YearsExact       YearsQualifier = "Exact"
	YearsApproximate YearsQualifier = "Approximate"
	YearsFlourished  YearsQualifier = "Flourished"
	YearsLiving      YearsQualifier = "Living"
	YearsUnknown     YearsQualifier = "Unknown"
)

// Composer is one entry harvested from a list-of-composers page.
type Composer struct {
	URL                   string         `json:"url"`
	FullName              string         `json:"full_name"`
	ListOfCompositionsURL string         `json:"list_of_compositions_url"`
	BirthYear             *int           `json:"birth_year"`
	DeathYear             *int           `json:"death_year"`
	YearsQualifier        YearsQualifier `json:"years_qualifier"`
}

// RunKind identifies what a harvesting run produced.
type RunKind string

// Run kinds.
const (
	RunKindWorks     RunKind = "works"
	RunKindComposers RunKind = "composers"
	RunKindReplay    RunKind = "replay"
)

// RunStatus represents the terminal state of a run.
type RunStatus string

// Run status values.
const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunSummary is recorded and published for every harvesting run.
type RunSummary struct {
	ID              string            `json:"id"`
	Kind            RunKind           `json:"kind"`
	Subject         string            `json:"subject"`
	SourceURL       string            `json:"source_url"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	RawRecords      int               `json:"raw_records"`
	AcceptedRecords int               `json:"accepted_records"`
	RejectedRecords int               `json:"rejected_records"`
	DroppedRecords  int               `json:"dropped_records"`
	ContentHash     string            `json:"content_hash,omitempty"`
	UsedHeadless    bool              `json:"used_headless"`
	Outputs         map[string]string `json:"outputs,omitempty"`
	Archived        map[string]string `json:"archived,omitempty"`
	Status          RunStatus         `json:"status"`
	ErrorText       string            `json:"error_text,omitempty"`
}
