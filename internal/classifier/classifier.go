// Package classifier assigns one of a small set of screen archetypes to the
// current document. Rules form a priority chain: they are not mutually
// exclusive, so order encodes precedence: commit to the strongest, most
// specific signal first.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"funnel-agent/internal/browser"
	"funnel-agent/internal/lexicon"

	"go.uber.org/zap"
)

// Archetype labels a screen's structural role.
type Archetype string

const (
	Question Archetype = "question"
	Info     Archetype = "info"
	Input    Archetype = "input"
	Email    Archetype = "email"
	Paywall  Archetype = "paywall"
	Other    Archetype = "other"
)

// Result pairs an archetype with a human-readable justification. Produced
// fresh on every classification; never cached across navigation.
type Result struct {
	Archetype Archetype
	Reason    string
}

// PageClassifier binds the rule chain to a live session.
type PageClassifier struct {
	session *browser.Session
	log     *zap.Logger
}

func New(session *browser.Session, log *zap.Logger) *PageClassifier {
	return &PageClassifier{session: session, log: log.Named("classifier")}
}

// Classify probes the current document and runs the rule chain. The probe
// must complete before any mutating action runs against the same page.
func (c *PageClassifier) Classify(ctx context.Context, step int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Archetype: Other, Reason: "cancelled"}, err
	}
	facts, err := Collect(c.session)
	if err != nil {
		if browser.IsSessionClosed(err) {
			return Result{}, err
		}
		c.log.Warn("document probe failed, treating screen as unclassified", zap.Error(err))
		return Result{Archetype: Other, Reason: "document probe failed"}, nil
	}
	res := Classify(facts, step)
	c.log.Info("classified screen",
		zap.Int("step", step),
		zap.String("archetype", string(res.Archetype)),
		zap.String("reason", res.Reason))
	return res, nil
}

// Classify runs the priority chain over a facts snapshot. Pure and
// deterministic for a given snapshot.
func Classify(f *Facts, step int) Result {
	if r, ok := classifyPaywall(f, step); ok {
		return r
	}
	if r, ok := classifyEmail(f); ok {
		return r
	}
	if r, ok := classifyInput(f); ok {
		return r
	}
	if r, ok := classifyQuestion(f); ok {
		return r
	}
	if r, ok := classifyInfo(f); ok {
		return r
	}
	return Result{Archetype: Other, Reason: "no rule matched"}
}

// classifyPaywall applies staged thresholds that grow more permissive as the
// run gets deeper: early screens rarely sell, late screens usually do. Never
// matches on the very first screen.
func classifyPaywall(f *Facts, step int) (Result, bool) {
	if step <= 1 {
		return Result{}, false
	}
	prices := lexicon.Prices(f.BodyText)
	purchase := purchaseControls(f)
	subVocab := lexicon.MatchAny(f.BodyText, lexicon.SubscriptionVocab)
	switch {
	case len(purchase) >= 1 && len(prices) >= 2:
		return Result{Paywall, fmt.Sprintf("%d price tokens with purchase control %q", len(prices), purchase[0])}, true
	case len(purchase) >= 1 && len(prices) >= 1 && subVocab != "":
		return Result{Paywall, fmt.Sprintf("price token %q with purchase control %q and billing vocabulary %q", prices[0], purchase[0], subVocab)}, true
	case step >= 10 && len(prices) >= 1 && len(purchase) >= 1 && lexicon.ContainsAny(f.BodyText, lexicon.CommerceVocab):
		return Result{Paywall, fmt.Sprintf("step %d: price token with purchase control and commerce vocabulary", step)}, true
	case step >= 15 && len(prices) >= 1 && lexicon.ContainsAny(f.BodyText, lexicon.UrgencyVocab):
		return Result{Paywall, fmt.Sprintf("step %d: price token with urgency vocabulary", step)}, true
	case step >= 20 && len(purchase) >= 1 && subVocab != "":
		return Result{Paywall, fmt.Sprintf("step %d: purchase control %q with subscription vocabulary %q", step, purchase[0], subVocab)}, true
	}
	return Result{}, false
}

func purchaseControls(f *Facts) []string {
	var out []string
	for _, t := range f.ButtonTexts {
		if lexicon.ContainsAny(t, lexicon.PurchaseKeywords) {
			out = append(out, t)
		}
	}
	return out
}

// classifyEmail runs before the generic input rule so a stray text field on
// an email-capture screen never downgrades it to plain data entry.
func classifyEmail(f *Facts) (Result, bool) {
	if f.EmailInputs >= 1 {
		return Result{Email, "email-typed input present"}, true
	}
	for _, hint := range f.InputHints {
		if lexicon.ContainsAny(hint, lexicon.EmailTokens) {
			return Result{Email, fmt.Sprintf("input descriptor %q looks like an email field", hint)}, true
		}
	}
	return Result{}, false
}

// classifyInput matches data-entry screens. Radio/checkbox presence always
// defers to the question rule, even when text inputs coexist.
func classifyInput(f *Facts) (Result, bool) {
	if f.OptionControls() > 0 {
		return Result{}, false
	}
	if len(f.InputHints) >= 1 {
		return Result{Input, fmt.Sprintf("%d visible free-text controls, no option controls", len(f.InputHints))}, true
	}
	return Result{}, false
}

func classifyQuestion(f *Facts) (Result, bool) {
	if f.OptionControls() >= 2 {
		return Result{Question, fmt.Sprintf("%d radio/checkbox controls", f.OptionControls())}, true
	}
	options := OptionButtons(f)
	if len(options) >= 2 {
		return Result{Question, fmt.Sprintf("%d short answer buttons", len(options))}, true
	}
	if len(f.CardTexts) >= 2 {
		return Result{Question, fmt.Sprintf("%d clickable option cards", len(f.CardTexts))}, true
	}
	return Result{}, false
}

// OptionButtons filters button texts down to plausible quiz answers: short,
// non-navigational, and not part of a language-switcher cluster.
func OptionButtons(f *Facts) []string {
	var short []string
	for _, t := range f.ButtonTexts {
		trimmed := strings.TrimSpace(t)
		if trimmed == "" || len([]rune(trimmed)) > 59 {
			continue
		}
		short = append(short, trimmed)
	}
	if lexicon.IsLanguageSwitcher(short) {
		return nil
	}
	var options []string
	for _, t := range short {
		if lexicon.IsNavText(t) {
			continue
		}
		options = append(options, t)
	}
	return options
}

func classifyInfo(f *Facts) (Result, bool) {
	if len(f.InputHints) > 0 || f.EmailInputs > 0 || f.OptionControls() > 0 {
		return Result{}, false
	}
	if len(f.ButtonTexts) == 1 && len(strings.TrimSpace(f.BodyText)) > 20 {
		return Result{Info, fmt.Sprintf("single call to action %q over body text", f.ButtonTexts[0])}, true
	}
	return Result{}, false
}
