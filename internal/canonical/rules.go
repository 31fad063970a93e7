package canonical

import (
	"regexp"
	"strings"
)

// Field is a canonical column label.
type Field string

// Canonical fields, in classification priority order.
const (
	FieldTitle           Field = "title"
	FieldYear            Field = "year"
	FieldKey             Field = "key"
	FieldOpus            Field = "opus"
	FieldGenre           Field = "genre"
	FieldCatalogNumber   Field = "catalog_number"
	FieldInstrumentation Field = "instrumentation"
	FieldDuration        Field = "duration"
)

type rule struct {
	field    Field
	patterns []*regexp.Regexp
}

// rules is evaluated top to bottom; the first group with a matching pattern
// labels the header. Patterns are unanchored, so "Form" also satisfies the
// instrumentation group's "for" but genre is tested first.
var rules = []rule{
	{FieldTitle, compile(`(?i)title|work|composition|piece|name`)},
	{FieldYear, compile(`(?i)year|date|composed|written|created`)},
	{FieldKey, compile(`(?i)key|tonality`)},
	{FieldOpus, compile(`(?i)opus|op\.?|work number|woo|bwv|k\.?|hob\.?`)},
	{FieldGenre, compile(`(?i)genre|type|form|category`)},
	{FieldCatalogNumber, compile(`(?i)catalog|catalogue|cat\.?|thematic|index`)},
	{FieldInstrumentation, compile(`(?i)instrumentation|scoring|forces|ensemble|for`)},
	{FieldDuration, compile(`(?i)duration|length|time|minutes|mins`)},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Classify maps a raw column header onto a canonical field.
func Classify(header string) (Field, bool) {
	lower := strings.ToLower(header)
	for _, r := range rules {
		for _, p := range r.patterns {
			if p.MatchString(lower) {
				return r.field, true
			}
		}
	}
	return "", false
}

var (
	yearValue = regexp.MustCompile(`\b(1[5-9]\d{2}|20[0-2]\d)\b`)
	keyValue  = regexp.MustCompile(`\b([A-G](?:[\s-]*(?i:flat|sharp)|\s*[♭♯])?\s*(?i:major|minor))\b`)
	opusValue = regexp.MustCompile(`\b(?:Op\.|Opus|op\.)\s*(\d+(?:\s*[a-z])?)\b`)
)

// extractor normalizes a cell for one field. ok=false leaves the field unset
// so a later column mapped to the same field can fill it.
type extractor func(cell string) (value string, ok bool)

func verbatim(cell string) (string, bool) {
	return cell, cell != ""
}

func matchOrVerbatim(re *regexp.Regexp, group int) extractor {
	return func(cell string) (string, bool) {
		if m := re.FindStringSubmatch(cell); m != nil {
			return m[group], true
		}
		return verbatim(cell)
	}
}

var extractors = map[Field]extractor{
	FieldYear:            matchOrVerbatim(yearValue, 1),
	FieldKey:             matchOrVerbatim(keyValue, 1),
	FieldOpus:            matchOrVerbatim(opusValue, 1),
	FieldGenre:           verbatim,
	FieldCatalogNumber:   verbatim,
	FieldInstrumentation: verbatim,
	FieldDuration:        verbatim,
}
