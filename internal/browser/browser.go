package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Options are the browser-level tunables a Session is launched with.
type Options struct {
	Headless   bool
	SlowMo     float64
	NavTimeout time.Duration
	NavRetries int
}

// Session owns one browser page for the lifetime of a funnel run. All waits
// are bounded; nothing here blocks indefinitely.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	opts    Options
	log     *zap.Logger
}

func NewSession(log *zap.Logger, opts Options) (*Session, error) {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 45 * time.Second
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		SlowMo:   playwright.Float(opts.SlowMo),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1280, Height: 900},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create page: %w", err)
	}

	return &Session{
		pw:      pw,
		browser: browser,
		context: context,
		page:    page,
		opts:    opts,
		log:     log.Named("browser"),
	}, nil
}

// Page exposes the underlying playwright page for locator-based strategies.
func (s *Session) Page() playwright.Page {
	return s.page
}

// Navigate loads a URL waiting for the load event, retrying with the more
// lenient domcontentloaded strategy when the strict wait times out.
func (s *Session) Navigate(url string) error {
	timeout := playwright.Float(float64(s.opts.NavTimeout.Milliseconds()))
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeout,
	})
	for attempt := 0; err != nil && attempt < s.opts.NavRetries; attempt++ {
		if IsSessionClosed(err) {
			return err
		}
		s.log.Warn("navigation timed out, retrying with lenient wait",
			zap.String("url", url), zap.Error(err))
		_, err = s.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   timeout,
		})
	}
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) URL() string {
	return s.page.URL()
}

func (s *Session) Content() (string, error) {
	return s.page.Content()
}

func (s *Session) Title() (string, error) {
	return s.page.Title()
}

// BodyText returns the document's rendered text, as opposed to its markup, so
// callers matching on visible content never see script or attribute noise.
func (s *Session) BodyText() (string, error) {
	res, err := s.page.Evaluate(`() => document.body ? document.body.innerText : ''`)
	if err != nil {
		return "", err
	}
	text, _ := res.(string)
	return text, nil
}

func (s *Session) Evaluate(script string, args ...interface{}) (interface{}, error) {
	return s.page.Evaluate(script, args...)
}

// Press sends a key to whatever currently has focus.
func (s *Session) Press(key string) error {
	return s.page.Keyboard().Press(key)
}

func (s *Session) Screenshot(path string) error {
	_, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Path:     playwright.String(path),
	})
	return err
}

// WaitLoadComplete waits for the load event, bounded by timeout. A timeout
// here means "page did not finish loading", which callers absorb.
func (s *Session) WaitLoadComplete(timeout time.Duration) error {
	return s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

// WaitURLChange polls until the address differs from prev or the timeout
// elapses. Polling is deliberate: funnel screens route client-side as often
// as they navigate, and playwright's URL matcher wants a known destination.
func (s *Session) WaitURLChange(prev string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.page.URL() != prev {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("url unchanged after %v", timeout)
}

func (s *Session) Settle(d time.Duration) {
	time.Sleep(d)
}

func (s *Session) Close() error {
	if s.page != nil {
		s.page.Close()
	}
	if s.context != nil {
		s.context.Close()
	}
	if s.browser != nil {
		s.browser.Close()
	}
	if s.pw != nil {
		return s.pw.Stop()
	}
	return nil
}

// IsSessionClosed reports whether an error indicates the page, context, or
// browser was closed out from under us, the only failure that aborts a run.
func IsSessionClosed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"target closed",
		"has been closed",
		"browser closed",
		"context closed",
		"page closed",
		"connection closed",
		"websocket: close",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
