// Package lexicon holds the shared keyword tables and patterns the classifier
// and action strategies match against. Everything here is shallow lexical
// matching over visible text or attribute values; there is no semantic
// understanding of page content.
package lexicon

import (
	"regexp"
	"strings"
)

// PricePattern matches a currency symbol or code followed by digits, e.g.
// "$49", "€ 9.99", "USD 12".
var PricePattern = regexp.MustCompile(`(?i)([$€£₹]\s?\d+(?:[.,]\d+)*|\b(?:USD|EUR|GBP|CAD|AUD)\s?\d+(?:[.,]\d+)*)`)

// NavPattern matches button text that is navigational or consent chrome
// rather than a quiz option. Anchored so option labels that merely contain
// one of these words are not excluded.
var NavPattern = regexp.MustCompile(`(?i)^(next|back|continue|skip|close|cancel|accept|accept all|agree|i agree|got it|ok|okay|allow|allow all|deny|decline|submit|menu|login|log in|sign in|sign up|privacy|terms)\W*$`)

// CTAVerbs is the ordered call-to-action vocabulary. Earlier entries are
// stronger progress signals and are tried first.
var CTAVerbs = []string{
	"continue", "next", "start", "get started", "let's go", "begin",
	"unlock", "claim", "yes", "submit", "see my", "see results", "see",
	"get my", "get", "show", "reveal", "try", "proceed", "go", "ok",
}

// PurchaseKeywords flag a control as a purchase/subscription call to action.
var PurchaseKeywords = []string{
	"buy", "subscribe", "purchase", "checkout", "order", "pay",
	"start trial", "try free", "get plan", "get my plan", "claim",
	"unlock", "upgrade", "activate", "start now",
}

// SubscriptionVocab is billing/subscription vocabulary looked up in page text.
var SubscriptionVocab = []string{
	"per month", "per week", "per year", "/mo", "/week", "/year",
	"monthly", "weekly", "yearly", "billed", "billing", "subscription",
	"trial", "cancel anytime", "money-back", "money back", "plan",
}

// CommerceVocab is the broader commerce vocabulary used by the deep-funnel
// paywall stages.
var CommerceVocab = []string{
	"price", "offer", "discount", "premium", "plan", "deal", "sale",
	"guarantee", "refund", "payment", "secure checkout",
}

// UrgencyVocab signals limited-time offer framing.
var UrgencyVocab = []string{
	"limited", "only today", "today only", "expires", "last chance",
	"% off", "percent off", "save", "hurry", "ends in", "left",
}

// SmartOptionKeywords mark an option as leading to a premium or personalized
// path; such options are preferred over rotation. English-biased by design:
// on non-English funnels nothing matches and selection falls back to the
// rotation cursor.
var SmartOptionKeywords = []string{
	"personal", "plan", "result", "unlock", "recommend", "custom",
	"premium", "tailored", "for me", "my ",
}

// EmailTokens are descriptor fragments that mark an input as an email field.
var EmailTokens = []string{"email", "e-mail", "mail", "@"}

// FieldHints maps form-field categories to descriptor fragments used when
// deciding what to type into an unlabeled input.
var FieldHints = map[string][]string{
	"name":   {"name", "first", "last", "nick"},
	"height": {"height", "cm", "feet", "ft"},
	"weight": {"weight", "kg", "lbs", "lb", "pound"},
	"age":    {"age", "year", "old", "birth", "dob"},
}

// ConsentPhrases are full-phrase consent button texts. Matching is against
// the entire trimmed text, never a substring, so a quiz option that happens
// to contain "ok" is not swallowed.
var ConsentPhrases = []string{
	"accept", "accept all", "accept cookies", "accept all cookies",
	"i accept", "i agree", "agree", "agree and continue", "allow",
	"allow all", "got it", "ok", "okay", "understood", "consent",
}

// ConsentSelectors are element selectors of known consent frameworks.
var ConsentSelectors = []string{
	"#onetrust-accept-btn-handler",
	".cc-allow",
	".cc-dismiss",
	"[aria-label='Accept cookies']",
	"#cookie-accept",
	".cookie-consent-accept",
	"[data-testid='cookie-accept']",
	".js-cookie-consent-agree",
	"#didomi-notice-agree-button",
	".fc-cta-consent",
}

// CloseIconSelectors are generic dismiss controls for overlays.
var CloseIconSelectors = []string{
	"[aria-label='Close']",
	"[aria-label='close']",
	".modal-close",
	".popup-close",
	".close-button",
	"button.close",
	"[data-dismiss='modal']",
}

// LanguageNames is the closed set used to recognize language-switcher button
// clusters. Four or more short buttons that are all language names are
// treated as a switcher, not as quiz options.
var LanguageNames = map[string]bool{
	"english": true, "español": true, "spanish": true, "deutsch": true,
	"german": true, "français": true, "french": true, "italiano": true,
	"italian": true, "português": true, "portuguese": true, "polski": true,
	"polish": true, "nederlands": true, "dutch": true, "русский": true,
	"russian": true, "türkçe": true, "turkish": true, "日本語": true,
	"한국어": true, "中文": true, "svenska": true, "norsk": true,
	"dansk": true, "suomi": true, "čeština": true, "magyar": true,
	"română": true, "українська": true,
}

// SubmitVocab scopes explicit submit-control searches on email screens.
var SubmitVocab = []string{"submit", "continue", "next", "send", "join", "sign up", "subscribe", "get"}

// ContainsAny reports whether s contains any of the given fragments,
// case-insensitively.
func ContainsAny(s string, fragments []string) bool {
	return MatchAny(s, fragments) != ""
}

// MatchAny returns the first fragment contained in s, case-insensitively,
// or "" when none match.
func MatchAny(s string, fragments []string) string {
	low := strings.ToLower(s)
	for _, f := range fragments {
		if strings.Contains(low, f) {
			return f
		}
	}
	return ""
}

// EqualsAny reports whether the trimmed, lowercased s equals one of the
// given phrases exactly.
func EqualsAny(s string, phrases []string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	for _, p := range phrases {
		if t == p {
			return true
		}
	}
	return false
}

// IsNavText reports whether text looks like navigational/consent chrome.
func IsNavText(text string) bool {
	return NavPattern.MatchString(strings.TrimSpace(text))
}

// IsLanguageSwitcher reports whether a cluster of button texts looks like a
// language selector: at least four short texts, all recognized language names.
func IsLanguageSwitcher(texts []string) bool {
	if len(texts) < 4 {
		return false
	}
	for _, t := range texts {
		if !LanguageNames[strings.ToLower(strings.TrimSpace(t))] {
			return false
		}
	}
	return true
}

// Prices returns the distinct price tokens found in text, in order of first
// appearance.
func Prices(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range PricePattern.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
