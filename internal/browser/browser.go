// Package browser abstracts the automation backend that drives the app under
// test. Page objects only see Session; Driver hides whether commands travel
// over WebDriver, Playwright or the Chrome DevTools protocol.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoElement is returned when a selector matches nothing
var ErrNoElement = errors.New("no element matches selector")

// Session is one live browser window
type Session interface {
	// Navigate loads url and waits for the backend's notion of load completion
	Navigate(ctx context.Context, url string) error

	// Title returns the current document title
	Title(ctx context.Context) (string, error)

	// Evaluate runs a script in the page. When result is non-nil the script's
	// return value is decoded into it.
	Evaluate(ctx context.Context, script string, result any) error

	// SendKeys types text into the first element matching selector.
	// A "\n" in text submits, the same as pressing Enter.
	SendKeys(ctx context.Context, selector, text string) error

	// Texts returns the visible text of every element matching selector in
	// document order
	Texts(ctx context.Context, selector string) ([]string, error)

	// Count returns how many elements match selector
	Count(ctx context.Context, selector string) (int, error)

	// Screenshot captures the viewport as PNG
	Screenshot(ctx context.Context) ([]byte, error)

	Close() error
}

// Capability is a named browser engine configuration
type Capability struct {
	Name    string
	Browser string
	Version string
	Options map[string]any
}

// Driver opens sessions against one automation backend
type Driver interface {
	Name() string
	NewSession(ctx context.Context, capability Capability) (Session, error)
	Close() error
}

// Options configures a driver
type Options struct {
	// RemoteURL points at a Selenium Grid (webdriver) or a DevTools websocket
	// (chromedp). Empty means launch a local browser.
	RemoteURL string
	Headless  bool
	Args      []string
}

// New returns the driver registered under name
func New(name string, opts Options) (Driver, error) {
	switch strings.ToLower(name) {
	case "webdriver", "selenium":
		return NewWebDriver(opts), nil
	case "playwright":
		return NewPlaywright(opts), nil
	case "chromedp", "cdp":
		return NewChromedp(opts), nil
	default:
		return nil, fmt.Errorf("unknown browser driver: %s", name)
	}
}

// querySelectorAllText builds a script returning the innerText of every
// element matching selector
func querySelectorAllText(selector string) string {
	return fmt.Sprintf(
		`Array.prototype.map.call(document.querySelectorAll(%s), function (el) { return el.innerText.trim(); })`,
		jsString(selector),
	)
}

func querySelectorAllCount(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// splitSubmits breaks text on newlines so each line can be typed and then
// submitted. A trailing newline yields a final empty segment.
func splitSubmits(text string) (lines []string, submits int) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines = strings.Split(text, "\n")
	return lines, len(lines) - 1
}
