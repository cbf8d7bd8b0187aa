// Package evidence persists what a run saw: an append-only step log,
// screenshots keyed by step and archetype (per funnel plus a global mirror),
// and JSON summaries. Failures here never interrupt a run.
package evidence

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Summary is the per-run JSON record.
type Summary struct {
	URL                  string   `json:"url"`
	TotalSteps           int      `json:"totalSteps"`
	DetectedTypes        []string `json:"detectedTypes"`
	ReachedPaywall       bool     `json:"reachedPaywall"`
	ExecutionTimeSeconds float64  `json:"executionTimeSeconds"`
	StopReason           string   `json:"stopReason,omitempty"`
	Prices               []string `json:"prices,omitempty"`
}

// Aggregate is the whole-batch JSON record.
type Aggregate struct {
	TotalFunnels           int     `json:"totalFunnels"`
	FunnelsReachedPaywall  int     `json:"funnelsReachedPaywall"`
	AverageSteps           float64 `json:"averageSteps"`
	TotalPaywallsCollected int     `json:"totalPaywallsCollected"`
}

// Slug derives a filesystem-safe name from a funnel URL: host plus path,
// lowercased, runs of non-alphanumerics collapsed to a single dash.
func Slug(raw string) string {
	u, err := url.Parse(raw)
	base := raw
	if err == nil && u.Host != "" {
		base = u.Host + u.Path
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(base) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "funnel"
	}
	if len(slug) > 80 {
		slug = slug[:80]
	}
	return slug
}

// RunSink collects evidence for a single funnel run.
type RunSink struct {
	root    string
	slug    string
	logFile *os.File
	log     *zap.Logger
}

func NewRunSink(resultsDir, funnelURL string, log *zap.Logger) *RunSink {
	s := &RunSink{
		root: resultsDir,
		slug: Slug(funnelURL),
		log:  log.Named("evidence"),
	}
	runDir := filepath.Join(resultsDir, s.slug)
	for _, dir := range []string{
		filepath.Join(runDir, "screenshots"),
		filepath.Join(resultsDir, "all_screenshots"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.log.Warn("create evidence dir failed", zap.String("dir", dir), zap.Error(err))
		}
	}
	f, err := os.OpenFile(filepath.Join(runDir, "run.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.log.Warn("open run log failed", zap.Error(err))
	} else {
		s.logFile = f
	}
	return s
}

func (s *RunSink) StepObserved(step int, archetype, reason, pageURL string) {
	s.writeLine(fmt.Sprintf("[STEP %02d] %s: %s (%s)", step, archetype, reason, pageURL))
}

func (s *RunSink) TraceObserved(lines []string) {
	for _, line := range lines {
		s.writeLine("    " + line)
	}
}

// ScreenshotTarget is where the driver should save the step's screenshot.
func (s *RunSink) ScreenshotTarget(step int, archetype string) string {
	return filepath.Join(s.root, s.slug, "screenshots",
		fmt.Sprintf("step_%02d_%s.png", step, archetype))
}

// ScreenshotSaved mirrors a captured screenshot into the global aggregate
// directory.
func (s *RunSink) ScreenshotSaved(path string) {
	dst := filepath.Join(s.root, "all_screenshots", s.slug+"_"+filepath.Base(path))
	if err := copyFile(path, dst); err != nil {
		s.log.Warn("mirror screenshot failed", zap.Error(err))
	}
}

func (s *RunSink) RunFinished(sum *Summary) {
	s.writeLine(fmt.Sprintf("run finished: %d steps, paywall=%v, reason=%s",
		sum.TotalSteps, sum.ReachedPaywall, sum.StopReason))
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(s.root, s.slug, "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn("write summary failed", zap.Error(err))
	}
}

func (s *RunSink) writeLine(line string) {
	if s.logFile == nil {
		return
	}
	if _, err := s.logFile.WriteString(line + "\n"); err != nil {
		s.log.Warn("append run log failed", zap.Error(err))
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Summarize folds per-run summaries into the batch aggregate.
func Summarize(summaries []*Summary) *Aggregate {
	agg := &Aggregate{TotalFunnels: len(summaries)}
	totalSteps := 0
	for _, s := range summaries {
		totalSteps += s.TotalSteps
		if s.ReachedPaywall {
			agg.FunnelsReachedPaywall++
			agg.TotalPaywallsCollected++
		}
	}
	if len(summaries) > 0 {
		agg.AverageSteps = float64(totalSteps) / float64(len(summaries))
	}
	return agg
}

// WriteAggregate stores the batch aggregate at the results root.
func WriteAggregate(resultsDir string, agg *Aggregate) error {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	data, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(resultsDir, "aggregate.json"), data, 0o644)
}
