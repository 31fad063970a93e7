// Package canonical maps heterogeneous table headers onto the fixed
// composition schema and extracts normalized values per field.
package canonical

import (
	"unicode/utf8"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
)

// MinTitleLength is the number of characters a title must exceed to be kept.
const MinTitleLength = 2

// Canonicalize maps raw onto a CanonicalRecord. It is a pure function of its
// input and never fails; rows without a usable title come back with an empty
// Title for the caller to discard via Accept.
func Canonicalize(raw catalog.RawRecord) catalog.CanonicalRecord {
	rec := catalog.CanonicalRecord{
		ComposerName:   raw.ComposerName,
		ComposerURL:    raw.ComposerURL,
		SourceURL:      raw.SourceURL,
		AdditionalInfo: map[string]string{},
		RawData:        raw.Clone(),
	}

	for idx, header := range raw.Headers {
		field, ok := Classify(header)
		if !ok {
			if cell := raw.Cell(idx); cell != "" {
				rec.AdditionalInfo[header] = cell
			}
			continue
		}
		if idx >= len(raw.CellData) {
			continue
		}
		assign(&rec, field, raw.CellData[idx], raw.Link(idx))
	}

	if rec.Title == "" {
		titleFromLinkedCell(&rec, raw)
	}
	return rec
}

// Accept applies the title gate: a record is kept only when its title has
// more than MinTitleLength characters.
func Accept(rec catalog.CanonicalRecord) bool {
	return utf8.RuneCountInString(rec.Title) > MinTitleLength
}

func assign(rec *catalog.CanonicalRecord, field Field, cell string, link *string) {
	if field == FieldTitle {
		if rec.Title == "" && cell != "" {
			rec.Title = cell
			rec.WorkURL = copyString(link)
		}
		return
	}
	slot := fieldSlot(rec, field)
	if slot == nil || *slot != nil {
		return
	}
	extract, ok := extractors[field]
	if !ok {
		return
	}
	if value, ok := extract(cell); ok {
		*slot = &value
	}
}

func fieldSlot(rec *catalog.CanonicalRecord, field Field) **string {
	switch field {
	case FieldYear:
		return &rec.Year
	case FieldKey:
		return &rec.Key
	case FieldOpus:
		return &rec.Opus
	case FieldGenre:
		return &rec.Genre
	case FieldCatalogNumber:
		return &rec.CatalogNumber
	case FieldInstrumentation:
		return &rec.Instrumentation
	case FieldDuration:
		return &rec.Duration
	default:
		return nil
	}
}

// titleFromLinkedCell takes the first non-empty linked cell as the title when
// no header classified as one.
func titleFromLinkedCell(rec *catalog.CanonicalRecord, raw catalog.RawRecord) {
	for idx, cell := range raw.CellData {
		link := raw.Link(idx)
		if cell != "" && link != nil {
			rec.Title = cell
			rec.WorkURL = copyString(link)
			return
		}
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
