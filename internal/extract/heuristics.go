package extract

import "github.com/JakeFAU/pricefeed/internal/ingest"

// Heuristic names referenced by script strategies.
const (
	HeuristicKitcoLiveHeading     = "kitco-live-heading"
	HeuristicTradingViewLastValue = "tradingview-last-value"
)

// kitcoLiveHeading finds the "Live ... Price" heading and returns the first
// following numeric h3, falling back to any bare numeric h3.
const kitcoLiveHeading = `() => {
  const h2s = document.querySelectorAll('h2');
  for (const h2 of h2s) {
    if (h2.innerText.includes('Live') && h2.innerText.includes('Price')) {
      let sibling = h2.nextElementSibling;
      while (sibling) {
        if (sibling.tagName === 'H3') {
          const t = sibling.innerText.trim();
          if (t && /\d/.test(t)) return t;
        }
        sibling = sibling.nextElementSibling;
      }
    }
  }
  for (const h3 of document.querySelectorAll('h3')) {
    const t = h3.innerText.trim();
    if (t && /^[\d,.]+$/.test(t) && t.length < 15) return t;
  }
  return null;
}`

// tradingViewLastValue scans last-value spans for numeric text.
const tradingViewLastValue = `() => {
  for (const s of document.querySelectorAll('span[class*="last-"]')) {
    const t = s.innerText.trim();
    if (t && /\d/.test(t) && t.length < 20) return t;
  }
  const qa = document.querySelector('span[data-qa-id="symbol-last-value"]');
  if (qa) return qa.innerText.trim();
  return null;
}`

var heuristics = map[string]string{
	HeuristicKitcoLiveHeading:     kitcoLiveHeading,
	HeuristicTradingViewLastValue: tradingViewLastValue,
}

// LookupHeuristic returns the named scripted heuristic.
func LookupHeuristic(name string) (ingest.Heuristic, bool) {
	script, ok := heuristics[name]
	if !ok {
		return ingest.Heuristic{}, false
	}
	return ingest.Heuristic{Name: name, Script: script}, true
}
