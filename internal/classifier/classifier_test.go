package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyIsDeterministic(t *testing.T) {
	f := &Facts{
		BodyText:    "Pick the option that describes you best",
		RadioCount:  3,
		ButtonTexts: []string{"Continue"},
		InputHints:  []string{"text||your name"},
	}
	first := Classify(f, 5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(f, 5))
	}
}

func TestRadiosDominateTextInputs(t *testing.T) {
	f := &Facts{
		BodyText:   "How often do you exercise? Other:",
		RadioCount: 4,
		InputHints: []string{"text||other"},
	}
	res := Classify(f, 3)
	assert.Equal(t, Question, res.Archetype)
}

func TestEmailBeatsGenericInput(t *testing.T) {
	f := &Facts{
		BodyText:    "Where should we send your results?",
		EmailInputs: 1,
		InputHints:  []string{"email||your email address"},
		ButtonTexts: []string{"Continue"},
	}
	assert.Equal(t, Email, Classify(f, 6).Archetype)

	// No email-typed input, but the descriptor gives it away.
	f2 := &Facts{
		BodyText:    "Where should we send your results?",
		InputHints:  []string{"text||enter your e-mail"},
		ButtonTexts: []string{"Continue"},
	}
	assert.Equal(t, Email, Classify(f2, 6).Archetype)
}

func TestInputScreen(t *testing.T) {
	f := &Facts{
		BodyText:    "Tell us about yourself",
		InputHints:  []string{"number||height-cm", "number||weight-kg"},
		ButtonTexts: []string{"Next"},
	}
	assert.Equal(t, Input, Classify(f, 4).Archetype)
}

func TestQuestionFromShortButtons(t *testing.T) {
	f := &Facts{
		BodyText:    "What is your goal?",
		ButtonTexts: []string{"Lose weight", "Build muscle", "Stay fit", "Back"},
	}
	res := Classify(f, 2)
	require.Equal(t, Question, res.Archetype)
}

func TestLanguageSwitcherIsNotAQuestion(t *testing.T) {
	f := &Facts{
		BodyText:    "Welcome! Choose your language to get started with the quiz today.",
		ButtonTexts: []string{"English", "Deutsch", "Français", "Español"},
	}
	res := Classify(f, 1)
	assert.NotEqual(t, Question, res.Archetype)
}

func TestQuestionFromCards(t *testing.T) {
	f := &Facts{
		BodyText:  "Which body type is closest to yours?",
		CardTexts: []string{"Slim", "Average", "Heavy"},
	}
	assert.Equal(t, Question, Classify(f, 3).Archetype)
}

func TestInfoScreen(t *testing.T) {
	f := &Facts{
		BodyText:    "Great news! People with your profile lost on average 12 kg with our method.",
		ButtonTexts: []string{"Continue"},
	}
	assert.Equal(t, Info, Classify(f, 7).Archetype)
}

func TestPaywallNeverOnFirstStep(t *testing.T) {
	f := &Facts{
		BodyText:    "Special launch offer: $49 or $29 per month, cancel anytime.",
		ButtonTexts: []string{"Subscribe Now"},
	}
	assert.NotEqual(t, Paywall, Classify(f, 1).Archetype)
	assert.Equal(t, Paywall, Classify(f, 2).Archetype)
}

func TestPaywallTwoPricesWithPurchaseControl(t *testing.T) {
	f := &Facts{
		BodyText:    "Choose your plan: $19.99 for one month or $49.99 for three months.",
		ButtonTexts: []string{"Buy now"},
	}
	res := Classify(f, 5)
	require.Equal(t, Paywall, res.Archetype)
}

func TestPaywallSinglePriceNeedsBillingVocab(t *testing.T) {
	// A single price without billing vocabulary is not enough early on.
	f := &Facts{
		BodyText:    "Your score is 87 out of 100. Compare with $10 average spend.",
		ButtonTexts: []string{"Claim result"},
	}
	assert.NotEqual(t, Paywall, Classify(f, 5).Archetype)

	f2 := &Facts{
		BodyText:    "Just $10, billed monthly, cancel anytime.",
		ButtonTexts: []string{"Subscribe"},
	}
	assert.Equal(t, Paywall, Classify(f2, 5).Archetype)
}

func TestPaywallDeepFunnelRelaxation(t *testing.T) {
	// Price plus urgency framing only matches deep in the run.
	urgency := &Facts{
		BodyText:    "Limited offer, expires soon! Only $15 today.",
		ButtonTexts: []string{"Maybe later"},
	}
	assert.NotEqual(t, Paywall, Classify(urgency, 9).Archetype)
	assert.Equal(t, Paywall, Classify(urgency, 15).Archetype)

	// Purchase control plus subscription vocabulary, no visible price.
	deep := &Facts{
		BodyText:    "Choose your plan and start your trial.",
		ButtonTexts: []string{"Start Trial"},
	}
	assert.NotEqual(t, Paywall, Classify(deep, 12).Archetype)
	assert.Equal(t, Paywall, Classify(deep, 22).Archetype)
}

func TestOptionButtonsFiltersNavAndLongText(t *testing.T) {
	f := &Facts{
		ButtonTexts: []string{
			"Yes, definitely",
			"No, not really",
			"Back",
			"Accept all",
			"This is a very long descriptive sentence that could not possibly be a quiz answer option",
		},
	}
	options := OptionButtons(f)
	assert.Equal(t, []string{"Yes, definitely", "No, not really"}, options)
}

func TestNoRuleMatchedFallsThroughToOther(t *testing.T) {
	f := &Facts{BodyText: "..."}
	res := Classify(f, 3)
	assert.Equal(t, Other, res.Archetype)
}
