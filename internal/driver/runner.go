package driver

import (
	"context"
	"fmt"

	"funnel-agent/internal/actions"
	"funnel-agent/internal/browser"
	"funnel-agent/internal/classifier"
	"funnel-agent/internal/config"
	"funnel-agent/internal/evidence"

	"go.uber.org/zap"
)

// SessionFactory opens a fresh browser session. Each funnel gets its own so
// cookies and storage from one run never leak into the next.
type SessionFactory func() (*browser.Session, error)

// Runner executes a batch of funnels sequentially and produces the aggregate.
// The option-rotation cursor is shared across the whole batch on purpose:
// restarting rotation per funnel would retrace identical paths through
// funnels that share a frontend.
type Runner struct {
	cfg     *config.Config
	log     *zap.Logger
	factory SessionFactory
	cursor  *actions.Cursor

	// Observer streams step events from every run. Optional.
	Observer Observer
}

func NewRunner(cfg *config.Config, log *zap.Logger, factory SessionFactory) *Runner {
	return &Runner{
		cfg:     cfg,
		log:     log.Named("runner"),
		factory: factory,
		cursor:  actions.NewCursor(),
	}
}

// RunAll drives every URL in order. A funnel that fails to open is recorded
// and skipped; only context cancellation aborts the batch early. The
// aggregate is written to the results directory before returning.
func (r *Runner) RunAll(ctx context.Context, urls []string) (*evidence.Aggregate, []*evidence.Summary, error) {
	if len(urls) == 0 {
		return nil, nil, fmt.Errorf("no funnel urls given")
	}
	summaries := make([]*evidence.Summary, 0, len(urls))
	for i, url := range urls {
		if ctx.Err() != nil {
			break
		}
		r.log.Info("starting funnel",
			zap.Int("index", i+1), zap.Int("total", len(urls)), zap.String("url", url))
		summaries = append(summaries, r.runOne(ctx, url))
	}
	agg := evidence.Summarize(summaries)
	if err := evidence.WriteAggregate(r.cfg.ResultsDir, agg); err != nil {
		r.log.Error("write aggregate failed", zap.Error(err))
		return agg, summaries, err
	}
	return agg, summaries, nil
}

func (r *Runner) runOne(ctx context.Context, url string) *evidence.Summary {
	sink := evidence.NewRunSink(r.cfg.ResultsDir, url, r.log)

	session, err := r.factory()
	if err != nil {
		r.log.Error("open session failed", zap.String("url", url), zap.Error(err))
		sum := &evidence.Summary{URL: url, StopReason: "session open failed: " + err.Error()}
		sink.RunFinished(sum)
		return sum
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.log.Warn("close session failed", zap.Error(err))
		}
	}()

	cls := classifier.New(session, r.log)
	disp := actions.NewDispatcher(session, r.cfg.Form, r.cursor, r.log)
	drv := NewDriver(r.cfg, r.log, session, cls, disp, sink)
	drv.Popups = func() []string { return actions.ClosePopups(session.Page()) }
	drv.Observer = r.Observer

	return drv.Run(ctx, url)
}
