package harvest

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
	"github.com/JakeFAU/worklist-harvester/internal/years"
)

const (
	listItemSelector   = "li"
	titledLinkSelector = `a[href^="/wiki"][title]`
)

// Composers harvests a list-of-composers page. Each list item whose first
// titled wiki link reads exactly like its title becomes one composer; years
// come from the item's parenthetical, e.g. "(1634–1696)".
func Composers(doc *goquery.Document) []catalog.Composer {
	var composers []catalog.Composer
	doc.Find(listItemSelector).Each(func(_ int, li *goquery.Selection) {
		anchor := li.Find(titledLinkSelector).First()
		if anchor.Length() == 0 {
			return
		}
		title, _ := anchor.Attr("title")
		href, _ := anchor.Attr("href")
		if title == "" || title != anchor.Text() {
			return
		}

		info, ok := years.FromParentheses(li.Text())
		composer := catalog.Composer{
			URL:                   href,
			FullName:              title,
			ListOfCompositionsURL: strings.ReplaceAll(fmt.Sprintf("/wiki/List_of_compositions_by_%s", title), " ", "_"),
			YearsQualifier:        years.Qualify(info, ok),
		}
		if ok {
			start := info.Start
			composer.BirthYear = &start
			if info.End != nil {
				end := *info.End
				composer.DeathYear = &end
			}
		}
		composers = append(composers, composer)
	})
	return composers
}
