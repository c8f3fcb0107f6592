package snapshot

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pricefeed/internal/extract"
)

var bareNumber = regexp.MustCompile(`^[\d,.]+$`)

// heuristics mirrors the in-browser scripts of the same name.
var heuristics = map[string]func(*goquery.Document) string{
	extract.HeuristicKitcoLiveHeading:     kitcoLiveHeading,
	extract.HeuristicTradingViewLastValue: tradingViewLastValue,
}

func kitcoLiveHeading(doc *goquery.Document) string {
	var found string
	doc.Find("h2").EachWithBreak(func(_ int, h2 *goquery.Selection) bool {
		heading := h2.Text()
		if !strings.Contains(heading, "Live") || !strings.Contains(heading, "Price") {
			return true
		}
		h2.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
			if goquery.NodeName(sib) != "h3" {
				return true
			}
			t := strings.TrimSpace(sib.Text())
			if t != "" && extract.HasDigit(t) {
				found = t
				return false
			}
			return true
		})
		return found == ""
	})
	if found != "" {
		return found
	}

	doc.Find("h3").EachWithBreak(func(_ int, h3 *goquery.Selection) bool {
		t := strings.TrimSpace(h3.Text())
		if t != "" && bareNumber.MatchString(t) && len(t) < 15 {
			found = t
			return false
		}
		return true
	})
	return found
}

func tradingViewLastValue(doc *goquery.Document) string {
	var found string
	doc.Find(`span[class*="last-"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := strings.TrimSpace(s.Text())
		if t != "" && extract.HasDigit(t) && len(t) < 20 {
			found = t
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	if qa := doc.Find(`span[data-qa-id="symbol-last-value"]`).First(); qa.Length() > 0 {
		return strings.TrimSpace(qa.Text())
	}
	return ""
}
