package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sclevine/agouti"
)

// WebDriver drives browsers over the W3C WebDriver protocol. With a RemoteURL
// every session is requested from a Selenium Grid; otherwise a local
// chromedriver or geckodriver is started on demand.
type WebDriver struct {
	opts Options

	mu     sync.Mutex
	locals map[string]*agouti.WebDriver
}

// NewWebDriver creates a WebDriver backend
func NewWebDriver(opts Options) *WebDriver {
	return &WebDriver{
		opts:   opts,
		locals: make(map[string]*agouti.WebDriver),
	}
}

func (d *WebDriver) Name() string { return "webdriver" }

func (d *WebDriver) capabilities(c Capability) agouti.Capabilities {
	caps := agouti.NewCapabilities().Browser(c.Browser)
	if c.Version != "" {
		caps = caps.Version(c.Version)
	}
	for k, v := range c.Options {
		caps[k] = v
	}

	args := append([]string{}, d.opts.Args...)
	if d.opts.Headless {
		args = append(args, "--headless")
	}
	if len(args) > 0 {
		switch strings.ToLower(c.Browser) {
		case "chrome", "chromium":
			if _, ok := caps["goog:chromeOptions"]; !ok {
				caps["goog:chromeOptions"] = map[string]any{"args": args}
			}
		case "firefox":
			if _, ok := caps["moz:firefoxOptions"]; !ok {
				caps["moz:firefoxOptions"] = map[string]any{"args": args}
			}
		}
	}
	return caps
}

func (d *WebDriver) NewSession(ctx context.Context, c Capability) (Session, error) {
	caps := d.capabilities(c)

	if d.opts.RemoteURL != "" {
		log.Debug().Str("capability", c.Name).Str("grid", d.opts.RemoteURL).Msg("requesting remote webdriver session")
		page, err := agouti.NewPage(d.opts.RemoteURL, agouti.Desired(caps))
		if err != nil {
			return nil, fmt.Errorf("opening remote session for %s: %w", c.Name, err)
		}
		return &webDriverSession{page: page}, nil
	}

	wd, err := d.local(c.Browser)
	if err != nil {
		return nil, err
	}
	page, err := wd.NewPage(agouti.Desired(caps))
	if err != nil {
		return nil, fmt.Errorf("opening local session for %s: %w", c.Name, err)
	}
	return &webDriverSession{page: page}, nil
}

// local starts (once) the vendor driver binary for browser
func (d *WebDriver) local(browserName string) (*agouti.WebDriver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := strings.ToLower(browserName)
	if wd, ok := d.locals[key]; ok {
		return wd, nil
	}

	var wd *agouti.WebDriver
	switch key {
	case "chrome", "chromium":
		wd = agouti.ChromeDriver()
	case "firefox":
		wd = agouti.GeckoDriver()
	default:
		return nil, fmt.Errorf("no local webdriver for browser %q, set browser.remote_url", browserName)
	}

	log.Debug().Str("browser", key).Msg("starting local webdriver")
	if err := wd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s webdriver: %w", key, err)
	}
	d.locals[key] = wd
	return wd, nil
}

func (d *WebDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, wd := range d.locals {
		if err := wd.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s webdriver: %w", name, err))
		}
		delete(d.locals, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("webdriver cleanup errors: %v", errs)
	}
	return nil
}

// webDriverSession adapts an agouti page. WebDriver calls are synchronous
// HTTP round trips so ctx is only checked before each command.
type webDriverSession struct {
	page *agouti.Page
}

func (s *webDriverSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.page.Navigate(url)
}

func (s *webDriverSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.Title()
}

func (s *webDriverSession) Evaluate(ctx context.Context, script string, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := script
	if result != nil {
		body = "return " + strings.TrimSuffix(strings.TrimSpace(script), ";") + ";"
	}
	return s.page.RunScript(body, map[string]interface{}{}, result)
}

func (s *webDriverSession) SendKeys(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.page.First(selector).SendKeys(text)
}

func (s *webDriverSession) Texts(ctx context.Context, selector string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := s.page.All(selector)
	n, err := all.Count()
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", selector, err)
	}

	texts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		text, err := all.At(i).Text()
		if err != nil {
			return nil, fmt.Errorf("reading text of %s[%d]: %w", selector, i, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func (s *webDriverSession) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.page.All(selector).Count()
}

func (s *webDriverSession) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.page.Session().GetScreenshot()
}

func (s *webDriverSession) Close() error {
	return s.page.Destroy()
}
