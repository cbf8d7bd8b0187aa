package actions

import (
	"fmt"
	"time"

	"funnel-agent/internal/lexicon"

	"github.com/playwright-community/playwright-go"
)

const popupSettle = 400 * time.Millisecond

// ClosePopups best-effort dismisses cookie/consent overlays. Stages: buttons
// whose entire visible text is a known consent phrase (substring matches on
// short words like "ok" would eat quiz options, so whole-text only), known
// consent-framework selectors, then generic close icons. Absence of a popup
// is the common case; this never raises.
func ClosePopups(page playwright.Page) []string {
	var trace []string

	buttons := page.Locator("button, [role='button']")
	if count, err := buttons.Count(); err == nil {
		for i := 0; i < count && i < 40; i++ {
			loc := buttons.Nth(i)
			if visible, err := loc.IsVisible(); err != nil || !visible {
				continue
			}
			text := controlText(loc)
			if !lexicon.EqualsAny(text, lexicon.ConsentPhrases) {
				continue
			}
			if err := resilientClick(loc); err == nil {
				trace = append(trace, fmt.Sprintf("closed consent button %s", quote(text)))
				time.Sleep(popupSettle)
				return trace
			}
		}
	}

	for _, sel := range lexicon.ConsentSelectors {
		loc := page.Locator(sel).First()
		if visible, err := loc.IsVisible(); err != nil || !visible {
			continue
		}
		if err := resilientClick(loc); err == nil {
			trace = append(trace, "closed consent element "+sel)
			time.Sleep(popupSettle)
			return trace
		}
	}

	for _, sel := range lexicon.CloseIconSelectors {
		loc := page.Locator(sel).First()
		if visible, err := loc.IsVisible(); err != nil || !visible {
			continue
		}
		if err := resilientClick(loc); err == nil {
			trace = append(trace, "closed overlay via "+sel)
			time.Sleep(popupSettle)
			return trace
		}
	}

	return trace
}
