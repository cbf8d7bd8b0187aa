package classifier

import (
	"encoding/json"
	"fmt"

	"funnel-agent/internal/browser"
)

// Facts is a read-only snapshot of the document, gathered by one in-page
// script so the extraction is atomic with respect to the page's main thread.
// Classification rules run over Facts in Go and never touch the DOM again.
type Facts struct {
	URL           string   `json:"-"`
	BodyText      string   `json:"bodyText"`
	EmailInputs   int      `json:"emailInputs"`
	InputHints    []string `json:"inputHints"`
	RadioCount    int      `json:"radioCount"`
	CheckboxCount int      `json:"checkboxCount"`
	ButtonTexts   []string `json:"buttonTexts"`
	LinkTexts     []string `json:"linkTexts"`
	CardTexts     []string `json:"cardTexts"`
}

// OptionControls is the combined count of radio/checkbox-like controls.
func (f *Facts) OptionControls() int {
	return f.RadioCount + f.CheckboxCount
}

// factsScript walks the live document once and returns everything the
// classifier needs. Visibility means rendered size > 0 and neither
// display:none nor visibility:hidden; hidden form controls are never counted.
const factsScript = `() => {
	const out = {
		bodyText: '', emailInputs: 0, inputHints: [],
		radioCount: 0, checkboxCount: 0,
		buttonTexts: [], linkTexts: [], cardTexts: []
	};
	const visible = (el) => {
		const st = window.getComputedStyle(el);
		if (st.display === 'none' || st.visibility === 'hidden') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const clip = (s) => (s || '').replace(/\s+/g, ' ').trim().slice(0, 120);

	out.bodyText = (document.body ? document.body.innerText : '').slice(0, 20000);

	for (const el of document.querySelectorAll('input, textarea')) {
		if (!visible(el)) continue;
		const type = (el.getAttribute('type') || 'text').toLowerCase();
		if (type === 'radio') { out.radioCount++; continue; }
		if (type === 'checkbox') { out.checkboxCount++; continue; }
		if (type === 'email') { out.emailInputs++; continue; }
		if (el.tagName === 'TEXTAREA' || ['text', 'number', 'tel', 'search', ''].includes(type)) {
			const hint = [
				el.getAttribute('placeholder'), el.getAttribute('name'),
				el.id, el.getAttribute('aria-label'), el.getAttribute('autocomplete')
			].filter(Boolean).join(' ');
			out.inputHints.push(clip(hint));
		}
	}
	for (const el of document.querySelectorAll('[role="radio"]')) {
		if (visible(el)) out.radioCount++;
	}
	for (const el of document.querySelectorAll('[role="checkbox"]')) {
		if (visible(el)) out.checkboxCount++;
	}

	for (const el of document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]')) {
		if (!visible(el)) continue;
		const text = clip(el.innerText || el.value || el.getAttribute('aria-label'));
		if (text) out.buttonTexts.push(text);
	}
	for (const el of document.querySelectorAll('a')) {
		if (!visible(el)) continue;
		const text = clip(el.innerText);
		if (text) out.linkTexts.push(text);
	}

	// Card detector: non-control elements styled as clickable tiles. Scan is
	// capped so pathological pages stay cheap.
	const seen = new Set();
	const candidates = document.querySelectorAll('div, span, section, li, label');
	const limit = Math.min(candidates.length, 1500);
	for (let i = 0; i < limit; i++) {
		const el = candidates[i];
		if (el.querySelector('button, a, input, textarea, select')) continue;
		const st = window.getComputedStyle(el);
		if (st.cursor !== 'pointer') continue;
		const text = clip(el.innerText);
		if (text.length < 1 || text.length > 59) continue;
		const r = el.getBoundingClientRect();
		if (r.width < 40 || r.height < 30) continue;
		if (st.display === 'none' || st.visibility === 'hidden') continue;
		if (seen.has(text)) continue;
		seen.add(text);
		out.cardTexts.push(text);
	}
	return out;
}`

// Collect gathers a fresh Facts snapshot from the session's current document.
func Collect(s *browser.Session) (*Facts, error) {
	raw, err := s.Evaluate(factsScript)
	if err != nil {
		return nil, fmt.Errorf("probe document: %w", err)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode probe result: %w", err)
	}
	facts := &Facts{}
	if err := json.Unmarshal(data, facts); err != nil {
		return nil, fmt.Errorf("decode probe result: %w", err)
	}
	facts.URL = s.URL()
	return facts, nil
}
