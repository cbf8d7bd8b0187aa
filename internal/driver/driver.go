// Package driver runs the closed control loop over one funnel: classify the
// current screen, act on it, wait for the document to move, repeat until a
// paywall, a loop, or a budget ends the run.
package driver

import (
	"context"
	"sort"
	"time"

	"funnel-agent/internal/actions"
	"funnel-agent/internal/browser"
	"funnel-agent/internal/classifier"
	"funnel-agent/internal/config"
	"funnel-agent/internal/evidence"
	"funnel-agent/internal/lexicon"

	"go.uber.org/zap"
)

// Surface is the slice of a browser session the loop needs. *browser.Session
// satisfies it; tests substitute a fake.
type Surface interface {
	Navigate(url string) error
	URL() string
	BodyText() (string, error)
	Press(key string) error
	Screenshot(path string) error
	CurrentFingerprint() (string, error)
	WaitLoadComplete(timeout time.Duration) error
	WaitURLChange(prev string, timeout time.Duration) error
	Settle(d time.Duration)
}

// Classifier assigns an archetype to the current screen.
type Classifier interface {
	Classify(ctx context.Context, step int) (classifier.Result, error)
}

// Dispatcher performs the action appropriate for an archetype.
type Dispatcher interface {
	Dispatch(ctx context.Context, archetype classifier.Archetype) (actions.Outcome, error)
}

// Sink receives run evidence. All methods are best-effort from the loop's
// point of view; a sink must never block progress.
type Sink interface {
	StepObserved(step int, archetype, reason, pageURL string)
	TraceObserved(lines []string)
	ScreenshotTarget(step int, archetype string) string
	ScreenshotSaved(path string)
	RunFinished(sum *evidence.Summary)
}

// StepEvent is the live notification emitted after each classification.
type StepEvent struct {
	URL       string `json:"url"`
	Step      int    `json:"step"`
	Archetype string `json:"archetype"`
	Reason    string `json:"reason"`
}

// Observer receives step events as they happen, e.g. for streaming to
// connected clients.
type Observer interface {
	OnStep(ev StepEvent)
}

const confirmKey = "Enter"

// Driver executes the per-funnel loop. One driver per run; never reused.
type Driver struct {
	cfg        *config.Config
	log        *zap.Logger
	surface    Surface
	classifier Classifier
	dispatcher Dispatcher
	sink       Sink

	// Popups dismisses overlays before each action, returning trace lines.
	// Optional.
	Popups func() []string
	// Observer streams step events. Optional.
	Observer Observer
}

func NewDriver(cfg *config.Config, log *zap.Logger, surface Surface, cls Classifier, disp Dispatcher, sink Sink) *Driver {
	return &Driver{
		cfg:        cfg,
		log:        log.Named("driver"),
		surface:    surface,
		classifier: cls,
		dispatcher: disp,
		sink:       sink,
	}
}

// Run drives one funnel to completion and always returns a summary, whatever
// ended the run.
func (d *Driver) Run(ctx context.Context, funnelURL string) *evidence.Summary {
	start := time.Now()
	sum := &evidence.Summary{URL: funnelURL}
	seen := make(map[string]bool)
	defer func() {
		sum.ExecutionTimeSeconds = time.Since(start).Seconds()
		sum.DetectedTypes = make([]string, 0, len(seen))
		for t := range seen {
			sum.DetectedTypes = append(sum.DetectedTypes, t)
		}
		sort.Strings(sum.DetectedTypes)
		if d.sink != nil {
			d.sink.RunFinished(sum)
		}
		d.log.Info("run finished",
			zap.String("url", funnelURL),
			zap.Int("steps", sum.TotalSteps),
			zap.Bool("paywall", sum.ReachedPaywall),
			zap.String("reason", sum.StopReason),
			zap.Float64("seconds", sum.ExecutionTimeSeconds))
	}()

	if err := d.surface.Navigate(funnelURL); err != nil {
		d.log.Error("navigation failed", zap.String("url", funnelURL), zap.Error(err))
		sum.StopReason = "navigation failed: " + err.Error()
		return sum
	}

	prevFP := ""
	sameFP := 0
	noAction := 0
	emailSeen := false

	for step := 1; ; step++ {
		if ctx.Err() != nil {
			sum.StopReason = "cancelled"
			return sum
		}
		budget := d.cfg.MaxSteps
		if emailSeen {
			budget = d.cfg.MaxStepsAfterEmail
		}
		if step > budget {
			sum.StopReason = "step budget exhausted"
			return sum
		}

		d.surface.Settle(d.cfg.SettleDelay)

		res, err := d.classifier.Classify(ctx, step)
		if err != nil {
			if browser.IsSessionClosed(err) {
				sum.StopReason = "session closed"
				return sum
			}
			if ctx.Err() != nil {
				sum.StopReason = "cancelled"
				return sum
			}
			res = classifier.Result{Archetype: classifier.Other, Reason: "classification failed"}
		}
		// A sales pitch cannot be the entry screen; a first-screen paywall
		// match is a landing page with pricing on it.
		if step == 1 && res.Archetype == classifier.Paywall {
			res = classifier.Result{Archetype: classifier.Other, Reason: "pricing on entry screen, not a paywall"}
		}

		sum.TotalSteps = step
		seen[string(res.Archetype)] = true
		if res.Archetype == classifier.Email {
			emailSeen = true
		}

		pageURL := d.surface.URL()
		if d.sink != nil {
			d.sink.StepObserved(step, string(res.Archetype), res.Reason, pageURL)
			if target := d.sink.ScreenshotTarget(step, string(res.Archetype)); target != "" {
				if err := d.surface.Screenshot(target); err != nil {
					d.log.Warn("screenshot failed", zap.Int("step", step), zap.Error(err))
				} else {
					d.sink.ScreenshotSaved(target)
				}
			}
		}
		if d.Observer != nil {
			d.Observer.OnStep(StepEvent{
				URL:       pageURL,
				Step:      step,
				Archetype: string(res.Archetype),
				Reason:    res.Reason,
			})
		}

		if res.Archetype == classifier.Paywall {
			if text, err := d.surface.BodyText(); err == nil {
				sum.Prices = lexicon.Prices(text)
			}
			sum.ReachedPaywall = true
			sum.StopReason = "paywall reached"
			return sum
		}

		if d.Popups != nil {
			if trace := d.Popups(); len(trace) > 0 && d.sink != nil {
				d.sink.TraceObserved(trace)
			}
		}

		fp := d.currentFingerprint()
		if fp != "" && fp == prevFP {
			sameFP++
		} else {
			sameFP = 1
		}
		prevFP = fp

		// Email screens that swallow the submit sometimes advance only on a
		// raw confirm keypress.
		if res.Archetype == classifier.Email && sameFP >= 3 {
			if err := d.surface.Press(confirmKey); err == nil {
				if next := d.currentFingerprint(); next != "" && next != prevFP {
					d.log.Info("stuck email screen advanced by confirm key", zap.Int("step", step))
					prevFP = next
					sameFP = 1
					noAction = 0
				}
			}
		}

		if sameFP >= d.cfg.SameFingerprintLimit && noAction >= 2 {
			if step >= 8 {
				if err := d.surface.Press(confirmKey); err == nil {
					if next := d.currentFingerprint(); next != "" && next != prevFP {
						d.log.Info("confirm-key rescue broke the loop", zap.Int("step", step))
						prevFP = next
						sameFP = 1
						continue
					}
				}
			}
			sum.StopReason = "loop detected"
			return sum
		}

		urlBefore := pageURL
		out, err := d.dispatcher.Dispatch(ctx, res.Archetype)
		if d.sink != nil && len(out.Trace) > 0 {
			d.sink.TraceObserved(out.Trace)
		}
		if err != nil {
			if browser.IsSessionClosed(err) {
				sum.StopReason = "session closed"
				return sum
			}
			d.log.Warn("dispatch failed", zap.Int("step", step),
				zap.String("archetype", string(res.Archetype)), zap.Error(err))
		}

		if !out.Performed {
			noAction++
			if noAction >= d.cfg.NoActionLimit {
				sum.StopReason = "no actionable elements"
				return sum
			}
			continue
		}
		noAction = 0
		d.waitForTransition(urlBefore)
	}
}

func (d *Driver) currentFingerprint() string {
	fp, err := d.surface.CurrentFingerprint()
	if err != nil {
		return ""
	}
	return fp
}

// waitForTransition gives the document a chance to move after an action. An
// address change is a hard navigation; otherwise a single-page transition is
// waited out by racing load completion against an address change, bounded by
// the transition timeout either way.
func (d *Driver) waitForTransition(urlBefore string) {
	d.surface.Settle(d.cfg.SettleDelay)
	if d.surface.URL() != urlBefore {
		if err := d.surface.WaitLoadComplete(d.cfg.TransitionTimeout); err != nil {
			d.log.Debug("load wait after navigation timed out", zap.Error(err))
		}
		return
	}
	done := make(chan struct{}, 2)
	go func() {
		d.surface.WaitLoadComplete(d.cfg.TransitionTimeout)
		done <- struct{}{}
	}()
	go func() {
		d.surface.WaitURLChange(urlBefore, d.cfg.TransitionTimeout)
		done <- struct{}{}
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.TransitionTimeout):
	}
}
