package actions

import (
	"strings"

	"funnel-agent/internal/browser"
	"funnel-agent/internal/lexicon"

	"github.com/playwright-community/playwright-go"
)

const shortTimeout = 2000 // ms, per individual locator attempt

// nativeSetScript forces a value through the platform's native property
// setter and fires synthetic input/change events. Reactive front-ends ignore
// programmatic assignment unless their own change detection sees these events.
const nativeSetScript = `(el, value) => {
	const proto = el.tagName === 'TEXTAREA'
		? window.HTMLTextAreaElement.prototype
		: window.HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) desc.set.call(el, value);
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
}`

// labelClickScript clicks the label associated with a form control.
const labelClickScript = `el => {
	const lab = (el.labels && el.labels[0]) || el.closest('label');
	if (!lab) return false;
	lab.click();
	return true;
}`

// ancestorClickScript walks up from a control looking for something styled
// clickable, capped at a fixed depth.
const ancestorClickScript = `el => {
	let cur = el.parentElement;
	for (let depth = 0; cur && depth < 5; depth++) {
		const st = window.getComputedStyle(cur);
		if (st.cursor === 'pointer' || cur.onclick) {
			cur.click();
			return true;
		}
		cur = cur.parentElement;
	}
	return false;
}`

// resilientClick escalates: normal click, forced click (bypasses
// actionability checks such as occlusion), then direct element invocation in
// page. Only a closed session propagates.
func resilientClick(loc playwright.Locator) error {
	err := loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(shortTimeout)})
	if err == nil || browser.IsSessionClosed(err) {
		return err
	}
	err = loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(shortTimeout),
		Force:   playwright.Bool(true),
	})
	if err == nil || browser.IsSessionClosed(err) {
		return err
	}
	_, err = loc.Evaluate("el => el.click()", nil)
	return err
}

// resilientFill focuses, clears, types per character, then forces the value
// through the native setter so framework-bound inputs pick it up.
func resilientFill(loc playwright.Locator, value string) error {
	loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(shortTimeout)})
	loc.Fill("", playwright.LocatorFillOptions{Timeout: playwright.Float(shortTimeout)})
	err := loc.PressSequentially(value, playwright.LocatorPressSequentiallyOptions{
		Delay:   playwright.Float(25),
		Timeout: playwright.Float(10000),
	})
	if err != nil {
		if browser.IsSessionClosed(err) {
			return err
		}
		err = loc.Fill(value, playwright.LocatorFillOptions{Timeout: playwright.Float(shortTimeout)})
		if err != nil {
			return err
		}
	}
	_, err = loc.Evaluate(nativeSetScript, value)
	if browser.IsSessionClosed(err) {
		return err
	}
	return nil
}

// controlText extracts the best visible label for a control.
func controlText(loc playwright.Locator) string {
	if text, err := loc.TextContent(playwright.LocatorTextContentOptions{Timeout: playwright.Float(shortTimeout)}); err == nil {
		if t := collapse(text); t != "" {
			return t
		}
	}
	for _, attr := range []string{"value", "aria-label"} {
		if v, err := loc.GetAttribute(attr, playwright.LocatorGetAttributeOptions{Timeout: playwright.Float(shortTimeout)}); err == nil {
			if t := collapse(v); t != "" {
				return t
			}
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// optionLabelScript extracts a radio/checkbox option's visible label text.
const optionLabelScript = `el => {
	if (el.labels && el.labels.length) return el.labels[0].innerText;
	const lab = el.closest('label');
	if (lab) return lab.innerText;
	return el.getAttribute('aria-label') || el.value || '';
}`

// PickOption chooses a candidate index by the shared selection policy: a
// smart-keyword match wins outright; otherwise ambiguous choices rotate via
// the cursor modulo min(len, 4); a sole candidate is simply taken. The
// returned reason feeds the action trace.
func PickOption(texts []string, cursor *Cursor) (int, string) {
	for i, t := range texts {
		if kw := lexicon.MatchAny(t, lexicon.SmartOptionKeywords); kw != "" {
			return i, "smart keyword \"" + kw + "\" in " + quote(t)
		}
	}
	if len(texts) >= 2 {
		idx := cursor.Next(min(len(texts), 4))
		return idx, "rotation pick " + quote(texts[idx])
	}
	return 0, "sole candidate"
}

func quote(s string) string {
	if r := []rune(s); len(r) > 40 {
		s = string(r[:40]) + "…"
	}
	return "\"" + s + "\""
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
