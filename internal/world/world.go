// Package world carries per-scenario state between step definitions.
package world

import (
	"context"
	"errors"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/tomatool/todospec/internal/page"
)

// ErrNoWorld is returned when a step runs outside a scenario created by the
// Before hook
var ErrNoWorld = errors.New("scenario has no world")

// AttachFunc receives artifacts produced during a scenario
type AttachFunc func(ctx context.Context, body []byte, mediaType string) error

// Attachment describes an artifact handed to the sink
type Attachment struct {
	MediaType string
	Size      int
}

// World is the state of one running scenario
type World struct {
	Attach     AttachFunc
	Parameters map[string]string
	Capability string
	Scenario   string

	// Recorded by When steps, checked by Then steps
	ExpectedTodoText      string
	ExpectedNumberOfTodos int

	nav         page.Navigator
	attachments []Attachment
}

// New creates the world for one scenario. A nil attach discards artifacts.
func New(attach AttachFunc, params map[string]string, nav page.Navigator) *World {
	if attach == nil {
		attach = func(context.Context, []byte, string) error { return nil }
	}
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &World{
		Attach:     attach,
		Parameters: p,
		nav:        nav,
	}
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying w
func NewContext(ctx context.Context, w *World) context.Context {
	return context.WithValue(ctx, ctxKey{}, w)
}

// FromContext returns the world stored in ctx
func FromContext(ctx context.Context) (*World, error) {
	w, ok := ctx.Value(ctxKey{}).(*World)
	if !ok || w == nil {
		return nil, ErrNoWorld
	}
	return w, nil
}

// ClearLocalStorage wipes the app's browser-side storage
func (w *World) ClearLocalStorage(ctx context.Context) error {
	if w.nav == nil {
		return errors.New("world has no page to clear")
	}
	return w.nav.ClearLocalStorage(ctx)
}

// AttachArtifact forwards body to the sink and records it on the world
func (w *World) AttachArtifact(ctx context.Context, body []byte, mediaType string) error {
	if err := w.Attach(ctx, body, mediaType); err != nil {
		return fmt.Errorf("attaching %s: %w", mediaType, err)
	}
	w.attachments = append(w.attachments, Attachment{MediaType: mediaType, Size: len(body)})
	return nil
}

// Attachments returns the artifacts attached so far
func (w *World) Attachments() []Attachment {
	return append([]Attachment{}, w.attachments...)
}

// FlattenTable reads a table row by row, left to right
func FlattenTable(table *godog.Table) []string {
	out := []string{}
	if table == nil {
		return out
	}
	for _, row := range table.Rows {
		for _, cell := range row.Cells {
			out = append(out, cell.Value)
		}
	}
	return out
}
