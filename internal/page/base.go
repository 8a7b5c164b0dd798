// Package page holds the page objects used by step definitions. Page objects
// know the app's URL and DOM locators; steps only talk to them.
package page

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/tomatool/todospec/internal/browser"
)

// ErrNoURL is returned when a page has no URL to navigate to
var ErrNoURL = errors.New("page url is not configured")

var errNotSettled = errors.New("condition not met yet")

// Navigator is the navigation behaviour shared by every page
type Navigator interface {
	Get(ctx context.Context) error
	PageTitle(ctx context.Context) (string, error)
	ClearLocalStorage(ctx context.Context) error
	GoToHomePage(ctx context.Context) error
}

// Settle bounds how long the page is polled for a browser-side condition
type Settle struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultSettle is used for zero fields of a Settle
var DefaultSettle = Settle{
	Interval: 100 * time.Millisecond,
	Timeout:  10 * time.Second,
}

func (s Settle) withDefaults() Settle {
	if s.Interval <= 0 {
		s.Interval = DefaultSettle.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultSettle.Timeout
	}
	return s
}

// Base is the page descriptor every page builds on
type Base struct {
	sess   browser.Session
	url    string
	settle Settle
}

var _ Navigator = (*Base)(nil)

// NewBase binds a session to url
func NewBase(sess browser.Session, url string, settle Settle) *Base {
	return &Base{
		sess:   sess,
		url:    url,
		settle: settle.withDefaults(),
	}
}

// URL returns the address the page navigates to
func (b *Base) URL() string { return b.url }

// Settle returns the polling bounds in effect
func (b *Base) Settle() Settle { return b.settle }

func (b *Base) Get(ctx context.Context) error {
	if b.url == "" {
		return ErrNoURL
	}
	log.Debug().Str("url", b.url).Msg("navigating")
	if err := b.sess.Navigate(ctx, b.url); err != nil {
		return fmt.Errorf("navigating to %s: %w", b.url, err)
	}
	return nil
}

func (b *Base) PageTitle(ctx context.Context) (string, error) {
	title, err := b.sess.Title(ctx)
	if err != nil {
		return "", fmt.Errorf("reading page title: %w", err)
	}
	return title, nil
}

func (b *Base) ClearLocalStorage(ctx context.Context) error {
	if err := b.sess.Evaluate(ctx, "window.localStorage.clear()", nil); err != nil {
		return fmt.Errorf("clearing local storage: %w", err)
	}
	return b.wait(ctx, "local storage to empty", func(ctx context.Context) (bool, error) {
		var n int
		if err := b.sess.Evaluate(ctx, "window.localStorage.length", &n); err != nil {
			return false, err
		}
		return n == 0, nil
	})
}

func (b *Base) GoToHomePage(ctx context.Context) error {
	if err := b.Get(ctx); err != nil {
		return err
	}
	return b.wait(ctx, "document to load", func(ctx context.Context) (bool, error) {
		var state string
		if err := b.sess.Evaluate(ctx, "document.readyState", &state); err != nil {
			return false, err
		}
		return state == "complete", nil
	})
}

func (b *Base) wait(ctx context.Context, what string, cond func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, b.settle.Timeout)
	defer cancel()

	if err := Eventually(ctx, b.settle.Interval, cond); err != nil {
		return fmt.Errorf("waiting for %s: %w", what, err)
	}
	return nil
}

// Eventually polls cond every interval until it reports true or ctx ends.
// Errors from cond are retried; the last one is reported if ctx ends first.
func Eventually(ctx context.Context, interval time.Duration, cond func(context.Context) (bool, error)) error {
	var last error
	op := func() error {
		ok, err := cond(ctx)
		if err != nil {
			last = err
			return err
		}
		if !ok {
			return errNotSettled
		}
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	err := backoff.Retry(op, b)
	if err == nil {
		return nil
	}
	if last != nil && !errors.Is(err, last) {
		return fmt.Errorf("%w (last error: %v)", err, last)
	}
	return err
}
