package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog/log"
)

// Playwright launches local browsers through the Playwright driver. Browsers
// must be installed beforehand with the playwright CLI.
type Playwright struct {
	opts Options

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywright creates a Playwright backend
func NewPlaywright(opts Options) *Playwright {
	return &Playwright{opts: opts}
}

func (d *Playwright) Name() string { return "playwright" }

func (d *Playwright) run() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw != nil {
		return d.pw, nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}
	d.pw = pw
	return pw, nil
}

func (d *Playwright) browserType(pw *playwright.Playwright, name string) (playwright.BrowserType, string, error) {
	switch strings.ToLower(name) {
	case "chrome", "chromium":
		channel := ""
		if strings.ToLower(name) == "chrome" {
			channel = "chrome"
		}
		return pw.Chromium, channel, nil
	case "firefox":
		return pw.Firefox, "", nil
	case "webkit", "safari":
		return pw.WebKit, "", nil
	default:
		return nil, "", fmt.Errorf("playwright does not support browser %q", name)
	}
}

func (d *Playwright) NewSession(ctx context.Context, c Capability) (Session, error) {
	pw, err := d.run()
	if err != nil {
		return nil, err
	}

	bt, channel, err := d.browserType(pw, c.Browser)
	if err != nil {
		return nil, err
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.opts.Headless),
		Args:     d.opts.Args,
	}
	if channel != "" {
		launch.Channel = playwright.String(channel)
	}

	log.Debug().Str("capability", c.Name).Str("browser", bt.Name()).Msg("launching playwright browser")
	b, err := bt.Launch(launch)
	if err != nil {
		return nil, fmt.Errorf("launching %s: %w", c.Name, err)
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("opening page for %s: %w", c.Name, err)
	}

	return &playwrightSession{browser: b, page: page}, nil
}

func (d *Playwright) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

type playwrightSession struct {
	browser playwright.Browser
	page    playwright.Page
}

// timeout converts the context deadline into a playwright timeout in ms
func timeout(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return playwright.Float(ms)
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeout(ctx),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	return err
}

func (s *playwrightSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.Title()
}

func (s *playwrightSession) Evaluate(ctx context.Context, script string, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := s.page.Evaluate(script)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	// Round-trip through JSON so callers get typed values
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func (s *playwrightSession) SendKeys(ctx context.Context, selector, text string) error {
	input := s.page.Locator(selector).First()
	lines, submits := splitSubmits(text)
	for i, line := range lines {
		if line != "" {
			if err := input.Fill(line, playwright.LocatorFillOptions{Timeout: timeout(ctx)}); err != nil {
				return fmt.Errorf("filling %s: %w", selector, err)
			}
		}
		if i < submits {
			if err := input.Press("Enter", playwright.LocatorPressOptions{Timeout: timeout(ctx)}); err != nil {
				return fmt.Errorf("submitting %s: %w", selector, err)
			}
		}
	}
	return nil
}

func (s *playwrightSession) Texts(ctx context.Context, selector string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	texts, err := s.page.Locator(selector).AllInnerTexts()
	if err != nil {
		return nil, err
	}
	for i := range texts {
		texts[i] = strings.TrimSpace(texts[i])
	}
	return texts, nil
}

func (s *playwrightSession) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.page.Locator(selector).Count()
}

func (s *playwrightSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Screenshot(playwright.PageScreenshotOptions{
		Timeout: timeout(ctx),
		Type:    playwright.ScreenshotTypePng,
	})
}

func (s *playwrightSession) Close() error {
	if err := s.page.Close(); err != nil {
		s.browser.Close()
		return err
	}
	return s.browser.Close()
}
