// Package actions turns a classified screen archetype into an interaction.
// Every strategy escalates through ordered fallbacks and absorbs transient
// failures; only a closed browser session propagates as an error.
package actions

import (
	"context"
	"fmt"
	"strings"

	"funnel-agent/internal/browser"
	"funnel-agent/internal/classifier"
	"funnel-agent/internal/config"
	"funnel-agent/internal/lexicon"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Outcome reports whether a meaningful action was performed plus an ordered
// audit trace of what was attempted. The trace is diagnostic only.
type Outcome struct {
	Performed bool
	Trace     []string
}

// Dispatcher routes archetypes to interaction procedures over one page.
type Dispatcher struct {
	session    *browser.Session
	page       playwright.Page
	form       config.FormValues
	cursor     *Cursor
	log        *zap.Logger
	confirmKey string
}

func NewDispatcher(session *browser.Session, form config.FormValues, cursor *Cursor, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		session:    session,
		page:       session.Page(),
		form:       form,
		cursor:     cursor,
		log:        log.Named("dispatcher"),
		confirmKey: "Enter",
	}
}

// Dispatch runs the procedure for the classified archetype. Paywall is a
// terminal signal, never an interaction target.
func (d *Dispatcher) Dispatch(ctx context.Context, archetype classifier.Archetype) (Outcome, error) {
	out := Outcome{}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	var err error
	switch archetype {
	case classifier.Paywall:
		out.Trace = append(out.Trace, "paywall reached, no action")
		return out, nil
	case classifier.Question:
		err = d.handleQuestion(&out)
	case classifier.Input:
		err = d.handleInput(&out)
	case classifier.Email:
		err = d.handleEmail(&out)
	case classifier.Info:
		err = d.handleInfo(&out)
	default:
		err = d.handleOther(&out)
	}
	if err != nil {
		if browser.IsSessionClosed(err) {
			return out, err
		}
		// Transient failures never escape the dispatcher.
		out.Trace = append(out.Trace, "absorbed failure: "+err.Error())
	}
	d.log.Debug("dispatched",
		zap.String("archetype", string(archetype)),
		zap.Bool("performed", out.Performed),
		zap.Strings("trace", out.Trace))
	return out, nil
}

// attempt is one entry in an ordered fallback chain. run reports whether it
// acted; an error is soft unless the session is gone.
type attempt struct {
	name string
	run  func() (bool, error)
}

// runChain executes attempts in order and stops at the first that acts.
func runChain(out *Outcome, attempts []attempt) (bool, error) {
	for _, a := range attempts {
		acted, err := a.run()
		if err != nil {
			if browser.IsSessionClosed(err) {
				return false, err
			}
			out.Trace = append(out.Trace, a.name+" failed: "+err.Error())
			continue
		}
		if acted {
			out.Trace = append(out.Trace, a.name)
			return true, nil
		}
	}
	return false, nil
}

// -- Per-archetype procedures --

func (d *Dispatcher) handleQuestion(out *Outcome) error {
	selected, err := d.selectAnyOption(out)
	if err != nil {
		return err
	}
	// Some screens need both an option and an explicit continue.
	cta, err := d.clickCTA(out)
	if err != nil {
		return err
	}
	keySent := false
	if !cta {
		if err := d.session.Press(d.confirmKey); err == nil {
			out.Trace = append(out.Trace, "sent confirm key")
			keySent = true
		} else if browser.IsSessionClosed(err) {
			return err
		}
	}
	out.Performed = selected || cta || keySent
	return nil
}

func (d *Dispatcher) handleInput(out *Outcome) error {
	fields, err := d.collectInputFields()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		out.Trace = append(out.Trace, "no fillable fields, treating as info screen")
		return d.handleInfo(out)
	}
	bodyGuess := d.bodyGuess()
	filled := 0
	for _, f := range fields {
		value := d.valueForHint(f.hint, bodyGuess)
		if err := resilientFill(f.loc, value); err != nil {
			if browser.IsSessionClosed(err) {
				return err
			}
			out.Trace = append(out.Trace, fmt.Sprintf("fill %s failed: %v", quote(f.hint), err))
			continue
		}
		filled++
		out.Trace = append(out.Trace, fmt.Sprintf("filled %s with %s", quote(f.hint), quote(value)))
	}
	cta, err := d.clickCTA(out)
	if err != nil {
		return err
	}
	if !cta && filled > 0 {
		// A still-disabled continue button usually means the framework did
		// not see our input; resync every filled field and retry once.
		for _, f := range fields {
			f.loc.Evaluate(resyncScript, nil)
		}
		out.Trace = append(out.Trace, "resynced field events, retrying call to action")
		cta, err = d.clickCTA(out)
		if err != nil {
			return err
		}
	}
	out.Performed = filled > 0 || cta
	return nil
}

func (d *Dispatcher) handleEmail(out *Outcome) error {
	emailLoc, err := d.findEmailField(out)
	if err != nil {
		return err
	}
	if emailLoc == nil {
		out.Trace = append(out.Trace, "no email-like field, falling back to descriptor filling")
		return d.handleInput(out)
	}
	filledEmail := false
	if err := resilientFill(emailLoc, d.form.Email); err != nil {
		if browser.IsSessionClosed(err) {
			return err
		}
		out.Trace = append(out.Trace, "email fill failed: "+err.Error())
	} else {
		filledEmail = true
		out.Trace = append(out.Trace, "filled email field")
	}

	before, _ := d.session.CurrentFingerprint()
	submitted, err := d.submitEmail(out, before)
	if err != nil {
		return err
	}

	consented, err := d.satisfyConsentCheckboxes(out)
	if err != nil {
		return err
	}

	cta, err := d.clickCTA(out)
	if err != nil {
		return err
	}
	out.Performed = filledEmail || submitted || consented || cta
	return nil
}

// submitEmail walks the submission fallback chain, stopping the moment the
// document fingerprint changes.
func (d *Dispatcher) submitEmail(out *Outcome, before string) (bool, error) {
	changed := func() bool {
		fp, err := d.session.CurrentFingerprint()
		return err == nil && before != "" && fp != before
	}
	attempts := []attempt{
		{"blurred email field via tab", func() (bool, error) {
			return true, d.session.Press("Tab")
		}},
		{"sent confirm key", func() (bool, error) {
			return true, d.session.Press(d.confirmKey)
		}},
		{"clicked submit control", func() (bool, error) {
			return d.clickByVocabulary(lexicon.SubmitVocab)
		}},
		{"clicked generic submit control", func() (bool, error) {
			loc := d.page.Locator("button[type='submit'], input[type='submit']").First()
			if visible, err := loc.IsVisible(); err != nil || !visible {
				return false, err
			}
			return true, resilientClick(loc)
		}},
		{"submitted form in page", func() (bool, error) {
			res, err := d.page.Evaluate(`() => { const f = document.querySelector('form'); if (!f) return false; f.submit(); return true; }`)
			b, _ := res.(bool)
			return b, err
		}},
	}
	for _, a := range attempts {
		acted, err := a.run()
		if err != nil {
			if browser.IsSessionClosed(err) {
				return false, err
			}
			out.Trace = append(out.Trace, a.name+" failed: "+err.Error())
			continue
		}
		if !acted {
			continue
		}
		out.Trace = append(out.Trace, a.name)
		if changed() {
			out.Trace = append(out.Trace, "document changed, submission accepted")
			return true, nil
		}
	}
	return false, nil
}

// consentCheckboxScript ticks every unchecked checkbox: wrapping label first,
// then the nearest pointer-styled ancestor via a synthetic event, then a
// direct event dispatch on the control itself.
const consentCheckboxScript = `() => {
	let acted = 0;
	for (const box of document.querySelectorAll('input[type="checkbox"]')) {
		if (box.checked) continue;
		const lab = (box.labels && box.labels[0]) || box.closest('label');
		if (lab) { lab.click(); acted++; continue; }
		let cur = box.parentElement;
		let clicked = false;
		for (let depth = 0; cur && depth < 5; depth++) {
			if (window.getComputedStyle(cur).cursor === 'pointer' || cur.onclick) {
				cur.dispatchEvent(new MouseEvent('click', { bubbles: true }));
				clicked = true;
				break;
			}
			cur = cur.parentElement;
		}
		if (!clicked) box.dispatchEvent(new MouseEvent('click', { bubbles: true }));
		acted++;
	}
	return acted;
}`

func (d *Dispatcher) satisfyConsentCheckboxes(out *Outcome) (bool, error) {
	res, err := d.page.Evaluate(consentCheckboxScript)
	if err != nil {
		if browser.IsSessionClosed(err) {
			return false, err
		}
		return false, nil
	}
	if n, ok := res.(int); ok && n > 0 {
		out.Trace = append(out.Trace, fmt.Sprintf("ticked %d consent checkbox(es)", n))
		return true, nil
	}
	if n, ok := res.(float64); ok && n > 0 {
		out.Trace = append(out.Trace, fmt.Sprintf("ticked %d consent checkbox(es)", int(n)))
		return true, nil
	}
	return false, nil
}

func (d *Dispatcher) handleInfo(out *Outcome) error {
	cta, err := d.clickCTA(out)
	if err != nil {
		return err
	}
	if !cta {
		acted, err := runChain(out, []attempt{
			{"clicked first visible button", func() (bool, error) {
				loc := d.page.Locator("button").First()
				if visible, err := loc.IsVisible(); err != nil || !visible {
					return false, err
				}
				return true, resilientClick(loc)
			}},
		})
		if err != nil {
			return err
		}
		cta = acted
	}
	out.Performed = cta
	return nil
}

func (d *Dispatcher) handleOther(out *Outcome) error {
	cta, err := d.clickCTA(out)
	if err != nil {
		return err
	}
	if cta {
		out.Performed = true
		return nil
	}
	// Possibly a misclassified question.
	selected, err := d.selectAnyOption(out)
	if err != nil {
		return err
	}
	if selected {
		out.Performed = true
		return nil
	}
	acted, err := runChain(out, []attempt{
		{"clicked broad fallback control", func() (bool, error) {
			for _, sel := range []string{"button", "[role='button']", "a[href]", "[class*='btn']", "[onclick]"} {
				loc := d.page.Locator(sel).First()
				if visible, err := loc.IsVisible(); err != nil || !visible {
					continue
				}
				if err := resilientClick(loc); err != nil {
					if browser.IsSessionClosed(err) {
						return false, err
					}
					continue
				}
				return true, nil
			}
			return false, nil
		}},
	})
	if err != nil {
		return err
	}
	out.Performed = acted
	return nil
}

// -- Option selection --

// selectAnyOption tries radio/checkbox controls, then answer buttons, then
// clickable cards.
func (d *Dispatcher) selectAnyOption(out *Outcome) (bool, error) {
	checks, err := d.collectControls(
		"input[type='radio'], input[type='checkbox'], [role='radio'], [role='checkbox']",
		optionLabelScript)
	if err != nil {
		return false, err
	}
	if len(checks) > 0 {
		return d.activatePicked(out, checks, "option control")
	}

	buttons, err := d.collectOptionButtons()
	if err != nil {
		return false, err
	}
	if len(buttons) > 0 {
		return d.activatePicked(out, buttons, "answer button")
	}

	cards, err := d.collectCards()
	if err != nil {
		return false, err
	}
	if len(cards) > 0 {
		return d.activatePicked(out, cards, "option card")
	}
	return false, nil
}

type candidate struct {
	loc  playwright.Locator
	text string
}

func (d *Dispatcher) activatePicked(out *Outcome, candidates []candidate, kind string) (bool, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.text
	}
	idx, reason := PickOption(texts, d.cursor)
	chosen := candidates[idx]
	if err := d.activateControl(chosen); err != nil {
		if browser.IsSessionClosed(err) {
			return false, err
		}
		out.Trace = append(out.Trace, fmt.Sprintf("%s %s activation failed: %v", kind, quote(chosen.text), err))
		return false, nil
	}
	out.Trace = append(out.Trace, fmt.Sprintf("selected %s %s (%s)", kind, quote(chosen.text), reason))
	return true, nil
}

// activateControl escalates: native check/click, associated label, clickable
// ancestor, direct click.
func (d *Dispatcher) activateControl(c candidate) error {
	err := c.loc.Check(playwright.LocatorCheckOptions{Timeout: playwright.Float(shortTimeout)})
	if err == nil || browser.IsSessionClosed(err) {
		return err
	}
	if res, evalErr := c.loc.Evaluate(labelClickScript, nil); evalErr == nil {
		if b, ok := res.(bool); ok && b {
			return nil
		}
	} else if browser.IsSessionClosed(evalErr) {
		return evalErr
	}
	if res, evalErr := c.loc.Evaluate(ancestorClickScript, nil); evalErr == nil {
		if b, ok := res.(bool); ok && b {
			return nil
		}
	} else if browser.IsSessionClosed(evalErr) {
		return evalErr
	}
	return resilientClick(c.loc)
}

func (d *Dispatcher) collectControls(selector, labelScript string) ([]candidate, error) {
	locs := d.page.Locator(selector)
	count, err := locs.Count()
	if err != nil {
		if browser.IsSessionClosed(err) {
			return nil, err
		}
		return nil, nil
	}
	var out []candidate
	for i := 0; i < count && i < 40; i++ {
		loc := locs.Nth(i)
		if visible, err := loc.IsVisible(); err != nil || !visible {
			continue
		}
		text := ""
		if res, err := loc.Evaluate(labelScript, nil); err == nil {
			if s, ok := res.(string); ok {
				text = collapse(s)
			}
		}
		out = append(out, candidate{loc: loc, text: text})
	}
	return out, nil
}

func (d *Dispatcher) collectOptionButtons() ([]candidate, error) {
	locs := d.page.Locator("button, [role='button']")
	count, err := locs.Count()
	if err != nil {
		if browser.IsSessionClosed(err) {
			return nil, err
		}
		return nil, nil
	}
	var all []candidate
	for i := 0; i < count && i < 40; i++ {
		loc := locs.Nth(i)
		if visible, err := loc.IsVisible(); err != nil || !visible {
			continue
		}
		text := controlText(loc)
		if text == "" || len([]rune(text)) > 59 {
			continue
		}
		all = append(all, candidate{loc: loc, text: text})
	}
	texts := make([]string, len(all))
	for i, c := range all {
		texts[i] = c.text
	}
	if lexicon.IsLanguageSwitcher(texts) {
		return nil, nil
	}
	var options []candidate
	for _, c := range all {
		if lexicon.IsNavText(c.text) {
			continue
		}
		options = append(options, c)
	}
	return options, nil
}

func (d *Dispatcher) collectCards() ([]candidate, error) {
	facts, err := classifier.Collect(d.session)
	if err != nil {
		if browser.IsSessionClosed(err) {
			return nil, err
		}
		return nil, nil
	}
	var out []candidate
	for _, text := range facts.CardTexts {
		loc := d.page.GetByText(text, playwright.PageGetByTextOptions{Exact: playwright.Bool(true)}).First()
		out = append(out, candidate{loc: loc, text: text})
	}
	return out, nil
}

// -- Call-to-action search --

// clickCTA searches typed controls by the curated verb list, then verbs
// anywhere in clickable text, then structural fallbacks.
func (d *Dispatcher) clickCTA(out *Outcome) (bool, error) {
	ctas, err := d.collectControls("button, [role='button'], a, input[type='submit']", controlTextScript)
	if err != nil {
		return false, err
	}
	for _, verb := range lexicon.CTAVerbs {
		for _, c := range ctas {
			if !strings.Contains(strings.ToLower(c.text), verb) {
				continue
			}
			if err := resilientClick(c.loc); err != nil {
				if browser.IsSessionClosed(err) {
					return false, err
				}
				continue
			}
			out.Trace = append(out.Trace, fmt.Sprintf("clicked call to action %s", quote(c.text)))
			return true, nil
		}
	}

	acted, err := d.clickByVocabulary(lexicon.CTAVerbs)
	if err != nil {
		if browser.IsSessionClosed(err) {
			return false, err
		}
	} else if acted {
		out.Trace = append(out.Trace, "clicked clickable text matching call-to-action vocabulary")
		return true, nil
	}

	for _, sel := range []string{
		"button[type='submit']", "input[type='submit']",
		"[class*='next']", "[class*='continue']",
		"[data-testid*='next']", "[id*='next']",
	} {
		loc := d.page.Locator(sel).First()
		if visible, err := loc.IsVisible(); err != nil || !visible {
			continue
		}
		if err := resilientClick(loc); err != nil {
			if browser.IsSessionClosed(err) {
				return false, err
			}
			continue
		}
		out.Trace = append(out.Trace, "clicked structural fallback "+sel)
		return true, nil
	}
	return false, nil
}

// clickByVocabulary clicks the first visible clickable element whose text
// contains one of the given words.
func (d *Dispatcher) clickByVocabulary(words []string) (bool, error) {
	clickable := d.page.Locator("button, a, [role='button'], label, [onclick]")
	for _, word := range words {
		loc := clickable.Filter(playwright.LocatorFilterOptions{HasText: word}).First()
		if visible, err := loc.IsVisible(); err != nil || !visible {
			continue
		}
		if err := resilientClick(loc); err != nil {
			if browser.IsSessionClosed(err) {
				return false, err
			}
			continue
		}
		return true, nil
	}
	return false, nil
}

// -- Form filling --

type inputField struct {
	loc  playwright.Locator
	hint string
}

const descriptorScript = `el => [
	el.getAttribute('placeholder'), el.getAttribute('name'), el.id,
	el.getAttribute('aria-label'), el.getAttribute('autocomplete')
].filter(Boolean).join(' ')`

const controlTextScript = `el => el.innerText || el.value || el.getAttribute('aria-label') || ''`

const resyncScript = `el => {
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
}`

func (d *Dispatcher) collectInputFields() ([]inputField, error) {
	locs := d.page.Locator("input[type='text'], input[type='number'], input[type='tel'], input:not([type]), textarea")
	count, err := locs.Count()
	if err != nil {
		if browser.IsSessionClosed(err) {
			return nil, err
		}
		return nil, nil
	}
	var out []inputField
	for i := 0; i < count && i < 20; i++ {
		loc := locs.Nth(i)
		if visible, err := loc.IsVisible(); err != nil || !visible {
			continue
		}
		hint := ""
		if res, err := loc.Evaluate(descriptorScript, nil); err == nil {
			if s, ok := res.(string); ok {
				hint = collapse(s)
			}
		}
		out = append(out, inputField{loc: loc, hint: hint})
	}
	return out, nil
}

func (d *Dispatcher) findEmailField(out *Outcome) (playwright.Locator, error) {
	loc := d.page.Locator("input[type='email']").First()
	if visible, err := loc.IsVisible(); err == nil && visible {
		return loc, nil
	}
	fields, err := d.collectInputFields()
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if lexicon.ContainsAny(f.hint, lexicon.EmailTokens) {
			out.Trace = append(out.Trace, fmt.Sprintf("using email-like text input %s", quote(f.hint)))
			return f.loc, nil
		}
	}
	return nil, nil
}

// valueForHint picks what to type into a field from its descriptor, falling
// back to a guess from the surrounding body text.
func (d *Dispatcher) valueForHint(hint, bodyGuess string) string {
	if lexicon.ContainsAny(hint, lexicon.EmailTokens) {
		return d.form.Email
	}
	for _, category := range []string{"height", "weight", "age", "name"} {
		if lexicon.ContainsAny(hint, lexicon.FieldHints[category]) {
			return d.formValue(category)
		}
	}
	if bodyGuess != "" {
		return d.formValue(bodyGuess)
	}
	return d.form.Name
}

// bodyGuess scans visible body text for a field category when descriptors
// say nothing.
func (d *Dispatcher) bodyGuess() string {
	res, err := d.page.Evaluate(`() => document.body ? document.body.innerText.slice(0, 2000) : ''`)
	if err != nil {
		return ""
	}
	text, _ := res.(string)
	for _, category := range []string{"height", "weight", "age", "name"} {
		if lexicon.ContainsAny(text, lexicon.FieldHints[category]) {
			return category
		}
	}
	return ""
}

func (d *Dispatcher) formValue(category string) string {
	switch category {
	case "height":
		return d.form.Height
	case "weight":
		return d.form.Weight
	case "age":
		return d.form.Age
	case "email":
		return d.form.Email
	default:
		return d.form.Name
	}
}
