package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"funnel-agent/internal/actions"
	"funnel-agent/internal/classifier"
	"funnel-agent/internal/config"
	"funnel-agent/internal/evidence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSurface fabricates fingerprints instead of talking to a browser. The
// fingerprint function sees how many times the confirm key was pressed, so
// tests can model screens that advance only on a keypress.
type fakeSurface struct {
	mu       sync.Mutex
	navErr   error
	bodyText string
	fpCalls  int
	presses  int
	fpFn     func(fpCalls, presses int) string
}

func (f *fakeSurface) Navigate(string) error { return f.navErr }
func (f *fakeSurface) URL() string           { return "https://quiz.example.com/q" }
func (f *fakeSurface) BodyText() (string, error) {
	return f.bodyText, nil
}
func (f *fakeSurface) Press(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presses++
	return nil
}
func (f *fakeSurface) Screenshot(string) error { return nil }
func (f *fakeSurface) CurrentFingerprint() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fpCalls++
	if f.fpFn == nil {
		return fmt.Sprintf("fp-%d", f.fpCalls), nil
	}
	return f.fpFn(f.fpCalls, f.presses), nil
}
func (f *fakeSurface) WaitLoadComplete(time.Duration) error      { return nil }
func (f *fakeSurface) WaitURLChange(string, time.Duration) error { return nil }
func (f *fakeSurface) Settle(time.Duration)                      {}

func (f *fakeSurface) pressCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presses
}

// fakeClassifier replays a scripted sequence, repeating the final entry.
type fakeClassifier struct {
	seq []classifier.Result
	i   int
}

func (f *fakeClassifier) Classify(context.Context, int) (classifier.Result, error) {
	res := f.seq[f.i]
	if f.i < len(f.seq)-1 {
		f.i++
	}
	return res, nil
}

type fakeDispatcher struct {
	performed bool
	err       error
	seen      []classifier.Archetype
}

func (f *fakeDispatcher) Dispatch(_ context.Context, a classifier.Archetype) (actions.Outcome, error) {
	f.seen = append(f.seen, a)
	return actions.Outcome{Performed: f.performed}, f.err
}

type recordingSink struct {
	archetypes []string
	finished   *evidence.Summary
}

func (r *recordingSink) StepObserved(step int, archetype, reason, pageURL string) {
	r.archetypes = append(r.archetypes, archetype)
}
func (r *recordingSink) TraceObserved([]string)             {}
func (r *recordingSink) ScreenshotTarget(int, string) string { return "" }
func (r *recordingSink) ScreenshotSaved(string)             {}
func (r *recordingSink) RunFinished(sum *evidence.Summary)  { r.finished = sum }

func fastConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.SettleDelay = 0
	cfg.TransitionTimeout = time.Millisecond
	return cfg
}

func result(a classifier.Archetype) classifier.Result {
	return classifier.Result{Archetype: a, Reason: "scripted"}
}

func TestRunStopsAtPaywall(t *testing.T) {
	cfg := fastConfig()
	sink := &recordingSink{}
	disp := &fakeDispatcher{performed: true}
	cls := &fakeClassifier{seq: []classifier.Result{
		result(classifier.Question),
		result(classifier.Paywall),
	}}
	surface := &fakeSurface{bodyText: "Premium plan $9.99 per month or $79 per year"}
	drv := NewDriver(cfg, zap.NewNop(), surface, cls, disp, sink)

	sum := drv.Run(context.Background(), "https://quiz.example.com")

	assert.True(t, sum.ReachedPaywall)
	assert.Equal(t, "paywall reached", sum.StopReason)
	assert.Equal(t, 2, sum.TotalSteps)
	assert.Equal(t, []string{"paywall", "question"}, sum.DetectedTypes)
	assert.Equal(t, []string{"$9.99", "$79"}, sum.Prices)
	// Paywall is a terminal observation, never dispatched.
	assert.Equal(t, []classifier.Archetype{classifier.Question}, disp.seen)
	require.NotNil(t, sink.finished)
}

func TestFirstScreenPaywallIsDowngraded(t *testing.T) {
	cfg := fastConfig()
	sink := &recordingSink{}
	disp := &fakeDispatcher{performed: true}
	cls := &fakeClassifier{seq: []classifier.Result{
		result(classifier.Paywall),
		result(classifier.Paywall),
	}}
	drv := NewDriver(cfg, zap.NewNop(), &fakeSurface{}, cls, disp, sink)

	sum := drv.Run(context.Background(), "https://quiz.example.com")

	require.Equal(t, 2, sum.TotalSteps)
	assert.Equal(t, []string{"other", "paywall"}, sink.archetypes)
	assert.True(t, sum.ReachedPaywall)
}

func TestRunStopsAtStepBudget(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxSteps = 5
	cfg.MaxStepsAfterEmail = 5
	cls := &fakeClassifier{seq: []classifier.Result{result(classifier.Question)}}
	drv := NewDriver(cfg, zap.NewNop(), &fakeSurface{}, cls, &fakeDispatcher{performed: true}, &recordingSink{})

	sum := drv.Run(context.Background(), "https://quiz.example.com")

	assert.Equal(t, 5, sum.TotalSteps)
	assert.Equal(t, "step budget exhausted", sum.StopReason)
	assert.False(t, sum.ReachedPaywall)
}

func TestEmailExtendsStepBudget(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxSteps = 3
	cfg.MaxStepsAfterEmail = 6
	cls := &fakeClassifier{seq: []classifier.Result{
		result(classifier.Email),
		result(classifier.Question),
	}}
	drv := NewDriver(cfg, zap.NewNop(), &fakeSurface{}, cls, &fakeDispatcher{performed: true}, &recordingSink{})

	sum := drv.Run(context.Background(), "https://quiz.example.com")

	assert.Equal(t, 6, sum.TotalSteps)
	assert.Equal(t, "step budget exhausted", sum.StopReason)
}

func TestConsecutiveNoActionStops(t *testing.T) {
	cfg := fastConfig()
	cfg.NoActionLimit = 2
	cls := &fakeClassifier{seq: []classifier.Result{result(classifier.Other)}}
	drv := NewDriver(cfg, zap.NewNop(), &fakeSurface{}, cls, &fakeDispatcher{performed: false}, &recordingSink{})

	sum := drv.Run(context.Background(), "https://quiz.example.com")

	assert.Equal(t, 2, sum.TotalSteps)
	assert.Equal(t, "no actionable elements", sum.StopReason)
}

func TestStagnantFingerprintWithNoActionIsALoop(t *testing.T) {
	cfg := fastConfig()
	cfg.SameFingerprintLimit = 3
	cfg.NoActionLimit = 5
	surface := &fakeSurface{fpFn: func(int, int) string { return "frozen" }}
	cls := &fakeClassifier{seq: []classifier.Result{result(classifier.Other)}}
	drv := NewDriver(cfg, zap.NewNop(), surface, cls, &fakeDispatcher{performed: false}, &recordingSink{})

	sum := drv.Run(context.Background(), "https://quiz.example.com")

	assert.Equal(t, "loop detected", sum.StopReason)
	assert.Equal(t, 3, sum.TotalSteps)
}

func TestFrozenFingerprintAloneDoesNotStopRun(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxSteps = 10
	cfg.MaxStepsAfterEmail = 10
	cfg.SameFingerprintLimit = 3
	// The fingerprint never changes, but every step performs an action, so
	// the no-action counter never corroborates and the run must end on the
	// step budget rather than loop detection.
	surface := &fakeSurface{fpFn: func(int, int) string { return "frozen" }}
	cls := &fakeClassifier{seq: []classifier.Result{result(classifier.Question)}}
	drv := NewDriver(cfg, zap.NewNop(), surface, cls, &fakeDispatcher{performed: true}, &recordingSink{})

	sum := drv.Run(context.Background(), "https://quiz.example.com")

	assert.Equal(t, "step budget exhausted", sum.StopReason)
	assert.Equal(t, 10, sum.TotalSteps)
}

func TestConfirmKeyRescueBreaksDeepLoop(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxSteps = 15
	cfg.MaxStepsAfterEmail = 15
	cfg.SameFingerprintLimit = 3
	cfg.NoActionLimit = 100
	// Fresh fingerprints for the first seven probes, then frozen until a
	// confirm keypress mints a new one.
	surface := &fakeSurface{fpFn: func(calls, presses int) string {
		if calls <= 7 {
			return fmt.Sprintf("fp-%d", calls)
		}
		return fmt.Sprintf("stuck-%d", presses)
	}}
	cls := &fakeClassifier{seq: []classifier.Result{result(classifier.Other)}}
	drv := NewDriver(cfg, zap.NewNop(), surface, cls, &fakeDispatcher{performed: false}, &recordingSink{})

	sum := drv.Run(context.Background(), "https://quiz.example.com")

	assert.GreaterOrEqual(t, surface.pressCount(), 1)
	assert.Equal(t, "step budget exhausted", sum.StopReason)
	assert.Equal(t, 15, sum.TotalSteps)
}

func TestSessionClosedDuringDispatchAborts(t *testing.T) {
	cfg := fastConfig()
	cls := &fakeClassifier{seq: []classifier.Result{result(classifier.Question)}}
	disp := &fakeDispatcher{performed: false, err: errors.New("page has been closed")}
	drv := NewDriver(cfg, zap.NewNop(), &fakeSurface{}, cls, disp, &recordingSink{})

	sum := drv.Run(context.Background(), "https://quiz.example.com")

	assert.Equal(t, "session closed", sum.StopReason)
	assert.Equal(t, 1, sum.TotalSteps)
}

func TestNavigationFailureProducesSummary(t *testing.T) {
	cfg := fastConfig()
	surface := &fakeSurface{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	cls := &fakeClassifier{seq: []classifier.Result{result(classifier.Question)}}
	sink := &recordingSink{}
	drv := NewDriver(cfg, zap.NewNop(), surface, cls, &fakeDispatcher{}, sink)

	sum := drv.Run(context.Background(), "https://bad.example.com")

	assert.Equal(t, 0, sum.TotalSteps)
	assert.Contains(t, sum.StopReason, "navigation failed")
	require.NotNil(t, sink.finished)
}

func TestCancelledContextStopsRun(t *testing.T) {
	cfg := fastConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cls := &fakeClassifier{seq: []classifier.Result{result(classifier.Question)}}
	drv := NewDriver(cfg, zap.NewNop(), &fakeSurface{}, cls, &fakeDispatcher{performed: true}, &recordingSink{})

	sum := drv.Run(ctx, "https://quiz.example.com")

	assert.Equal(t, "cancelled", sum.StopReason)
	assert.Equal(t, 0, sum.TotalSteps)
}
