// Package browsertest provides an in-memory browser session that behaves like
// the TodoMVC app, for testing page objects and step definitions without a
// real browser.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tomatool/todospec/internal/browser"
)

// PNG is the payload returned by Screenshot
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Selectors tells the fake which CSS selectors address which parts of the app
type Selectors struct {
	NewTodo string
	Items   string
	Labels  string
}

// App is a fake TodoMVC page. Todos persist in a fake localStorage across
// navigations until the storage is cleared.
type App struct {
	mu sync.Mutex

	title     string
	selectors Selectors

	url     string
	loaded  bool
	input   strings.Builder
	todos   []string
	storage []string
	closed  bool

	// Number of localStorage.length reads that still report entries after a
	// clear, to exercise settle polling
	lagAfterClear int
	lagRemaining  int

	failures map[string]error
	hangs    map[string]bool

	calls       []string
	screenshots int
}

var _ browser.Session = (*App)(nil)

// NewApp returns a fake app with the given document title
func NewApp(title string, sel Selectors) *App {
	return &App{
		title:     title,
		selectors: sel,
		failures:  make(map[string]error),
		hangs:     make(map[string]bool),
	}
}

// WithStoredTodos seeds localStorage as if a previous visit left todos behind
func (a *App) WithStoredTodos(todos ...string) *App {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.storage = append([]string{}, todos...)
	return a
}

// WithClearLag makes localStorage.length report stale entries n times after a clear
func (a *App) WithClearLag(n int) *App {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lagAfterClear = n
	return a
}

// Fail makes every call to method return err
func (a *App) Fail(method string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[method] = err
}

// Hang makes every call to method block until its context is done
func (a *App) Hang(method string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hangs[method] = true
}

func (a *App) hang(ctx context.Context, method string) error {
	a.mu.Lock()
	hangs := a.hangs[method]
	a.mu.Unlock()
	if !hangs {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Calls returns the commands issued so far, e.g. "Navigate http://x"
func (a *App) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.calls...)
}

// Screenshots returns how many screenshots were taken
func (a *App) Screenshots() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.screenshots
}

// Todos returns the todos currently rendered
func (a *App) Todos() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.todos...)
}

// Stored returns the todos persisted in localStorage
func (a *App) Stored() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.storage...)
}

// Closed reports whether Close was called
func (a *App) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *App) record(ctx context.Context, method, detail string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.closed {
		return errors.New("session closed")
	}
	call := method
	if detail != "" {
		call += " " + detail
	}
	a.calls = append(a.calls, call)
	return a.failures[method]
}

func (a *App) Navigate(ctx context.Context, url string) error {
	if err := a.hang(ctx, "Navigate"); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(ctx, "Navigate", url); err != nil {
		return err
	}
	if url == "" {
		return errors.New("navigate: empty url")
	}
	a.url = url
	a.loaded = true
	a.input.Reset()
	a.todos = append([]string{}, a.storage...)
	return nil
}

func (a *App) Title(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(ctx, "Title", ""); err != nil {
		return "", err
	}
	if !a.loaded {
		return "", nil
	}
	return a.title, nil
}

func (a *App) Evaluate(ctx context.Context, script string, result any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(ctx, "Evaluate", script); err != nil {
		return err
	}

	var value any
	switch {
	case strings.Contains(script, "localStorage.clear()"):
		a.storage = nil
		a.lagRemaining = a.lagAfterClear
		value = nil
	case strings.Contains(script, "localStorage.length"):
		n := 0
		if len(a.storage) > 0 {
			n = 1
		}
		if a.lagRemaining > 0 {
			a.lagRemaining--
			n = 1
		}
		value = n
	case strings.Contains(script, "document.readyState"):
		value = "loading"
		if a.loaded {
			value = "complete"
		}
	default:
		return fmt.Errorf("browsertest: unsupported script %q", script)
	}

	if result == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func (a *App) SendKeys(ctx context.Context, selector, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(ctx, "SendKeys", selector+" "+text); err != nil {
		return err
	}
	if !a.loaded || selector != a.selectors.NewTodo {
		return fmt.Errorf("%w: %s", browser.ErrNoElement, selector)
	}

	for _, r := range text {
		if r == '\n' {
			a.submit()
			continue
		}
		if r == '\r' {
			continue
		}
		a.input.WriteRune(r)
	}
	return nil
}

// submit mirrors TodoMVC: trimmed, non-empty input becomes a todo and is persisted
func (a *App) submit() {
	title := strings.TrimSpace(a.input.String())
	a.input.Reset()
	if title == "" {
		return
	}
	a.todos = append(a.todos, title)
	a.storage = append([]string{}, a.todos...)
}

func (a *App) Texts(ctx context.Context, selector string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(ctx, "Texts", selector); err != nil {
		return nil, err
	}
	if !a.loaded {
		return []string{}, nil
	}
	switch selector {
	case a.selectors.Labels, a.selectors.Items:
		return append([]string{}, a.todos...), nil
	default:
		return []string{}, nil
	}
}

func (a *App) Count(ctx context.Context, selector string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(ctx, "Count", selector); err != nil {
		return 0, err
	}
	if !a.loaded {
		return 0, nil
	}
	switch selector {
	case a.selectors.Labels, a.selectors.Items:
		return len(a.todos), nil
	default:
		return 0, nil
	}
}

func (a *App) Screenshot(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.record(ctx, "Screenshot", ""); err != nil {
		return nil, err
	}
	a.screenshots++
	return append([]byte{}, PNG...), nil
}

func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Driver hands out fake sessions built by New, one per capability
type Driver struct {
	New func(capability browser.Capability) *App

	mu       sync.Mutex
	sessions map[string]*App
	closed   bool
}

var _ browser.Driver = (*Driver)(nil)

func (d *Driver) Name() string { return "browsertest" }

func (d *Driver) NewSession(ctx context.Context, capability browser.Capability) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessions == nil {
		d.sessions = make(map[string]*App)
	}
	app := d.New(capability)
	d.sessions[capability.Name] = app
	return app, nil
}

// Session returns the fake opened for the named capability
func (d *Driver) Session(name string) *App {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[name]
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
