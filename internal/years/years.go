// Package years parses approximate, flourished, single and ranged year
// expressions such as "c. 1600–1650", "fl. 1423" or "born 1685".
package years

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
)

var (
	rangePattern  = regexp.MustCompile(`(?i)(\d{3,4})\s*[-–]\s*(\d{3,4})`)
	singlePattern = regexp.MustCompile(`(?i)(\d{3,4})`)
)

// Parse interprets free text as a years expression. It returns false when no
// year information can be extracted; that is never an error.
func Parse(text string) (catalog.YearInfo, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.HasPrefix(normalized, "c.") || strings.HasPrefix(normalized, "c "):
		return parseRange(normalized, true, false)
	case strings.HasPrefix(normalized, "fl.") || strings.HasPrefix(normalized, "fl "):
		return parseRange(normalized, false, true)
	case strings.HasPrefix(normalized, "born "):
		year, err := strconv.Atoi(strings.TrimSpace(normalized[len("born "):]))
		if err != nil {
			return catalog.YearInfo{}, false
		}
		return catalog.YearInfo{Start: year}, true
	default:
		return parseRange(normalized, false, false)
	}
}

// FromParentheses parses the first parenthesized group of text, as found in
// list items like "Clamor Heinrich Abel (1634–1696)".
func FromParentheses(text string) (catalog.YearInfo, bool) {
	start := strings.IndexByte(text, '(')
	if start < 0 {
		return catalog.YearInfo{}, false
	}
	end := strings.IndexByte(text[start:], ')')
	if end < 0 {
		return catalog.YearInfo{}, false
	}
	return Parse(text[start+1 : start+end])
}

// Qualify maps a parse result onto the qualifier persisted with composers.
// A missing end year on an exact expression means the subject is still
// living; no year information at all is Unknown.
func Qualify(info catalog.YearInfo, ok bool) catalog.YearsQualifier {
	switch {
	case !ok:
		return catalog.YearsUnknown
	case info.Approximate:
		return catalog.YearsApproximate
	case info.Flourished:
		return catalog.YearsFlourished
	case info.End == nil:
		return catalog.YearsLiving
	default:
		return catalog.YearsExact
	}
}

func parseRange(s string, approximate, flourished bool) (catalog.YearInfo, bool) {
	if m := rangePattern.FindStringSubmatch(s); m != nil {
		start, err := strconv.Atoi(m[1])
		if err != nil {
			return catalog.YearInfo{}, false
		}
		end, err := strconv.Atoi(m[2])
		if err != nil {
			return catalog.YearInfo{}, false
		}
		return catalog.YearInfo{
			Start:       start,
			End:         &end,
			Approximate: approximate,
			Flourished:  flourished,
		}, true
	}
	m := singlePattern.FindStringSubmatch(s)
	if m == nil {
		return catalog.YearInfo{}, false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return catalog.YearInfo{}, false
	}
	return catalog.YearInfo{
		Start:       start,
		Approximate: approximate,
		Flourished:  flourished,
	}, true
}
