package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog/log"
)

// Chromedp drives Chrome over the DevTools protocol. With a RemoteURL it
// attaches to an existing browser (ws://host:9222), otherwise it spawns one.
type Chromedp struct {
	opts Options

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// NewChromedp creates a DevTools backend
func NewChromedp(opts Options) *Chromedp {
	return &Chromedp{opts: opts}
}

func (d *Chromedp) Name() string { return "chromedp" }

func (d *Chromedp) NewSession(ctx context.Context, c Capability) (Session, error) {
	switch strings.ToLower(c.Browser) {
	case "chrome", "chromium", "":
	default:
		return nil, fmt.Errorf("chromedp only drives chrome, got %q", c.Browser)
	}

	// The session outlives the caller's context, so allocate from Background
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if d.opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), d.opts.RemoteURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts, chromedp.Flag("headless", d.opts.Headless))
		for _, arg := range d.opts.Args {
			name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
			if hasValue {
				opts = append(opts, chromedp.Flag(name, value))
			} else {
				opts = append(opts, chromedp.Flag(name, true))
			}
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// First Run starts the browser
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome for %s: %w", c.Name, err)
	}
	log.Debug().Str("capability", c.Name).Msg("chromedp session started")

	cancel := func() {
		tabCancel()
		allocCancel()
	}
	d.mu.Lock()
	d.cancels = append(d.cancels, cancel)
	d.mu.Unlock()

	return &chromedpSession{tab: tabCtx, cancel: cancel}, nil
}

func (d *Chromedp) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil
	return nil
}

type chromedpSession struct {
	tab    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab. Cancelling ctx aborts the actions but
// leaves the tab open.
func (s *chromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromedpSession) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, chromedp.Title(&title))
	return title, err
}

func (s *chromedpSession) Evaluate(ctx context.Context, script string, result any) error {
	if result == nil {
		// Statements evaluate to undefined, which chromedp refuses to decode
		var ok bool
		wrapped := "(function () { " + script + "; return true; })()"
		return s.run(ctx, chromedp.Evaluate(wrapped, &ok))
	}
	return s.run(ctx, chromedp.Evaluate(script, result))
}

func (s *chromedpSession) SendKeys(ctx context.Context, selector, text string) error {
	lines, submits := splitSubmits(text)
	var actions []chromedp.Action
	for i, line := range lines {
		keys := line
		if i < submits {
			keys += kb.Enter
		}
		if keys == "" {
			continue
		}
		actions = append(actions, chromedp.SendKeys(selector, keys, chromedp.ByQuery))
	}
	return s.run(ctx, actions...)
}

func (s *chromedpSession) Texts(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	if err := s.run(ctx, chromedp.Evaluate(querySelectorAllText(selector), &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

func (s *chromedpSession) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := s.run(ctx, chromedp.Evaluate(querySelectorAllCount(selector), &n))
	return n, err
}

func (s *chromedpSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (s *chromedpSession) Close() error {
	s.cancel()
	return nil
}
