package page

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomatool/todospec/internal/browser"
)

// ErrNoTodos is returned when a todo is read from an empty list
var ErrNoTodos = errors.New("todo list is empty")

// Locators are the CSS selectors of the home page
type Locators struct {
	NewTodo string
	Items   string
	Label   string
}

// DefaultLocators match the AngularJS TodoMVC markup
var DefaultLocators = Locators{
	NewTodo: `input[ng-model="newTodo"]`,
	Items:   `li[ng-repeat^="todo in todos"]`,
	Label:   "label",
}

// WithDefaults fills empty selectors from DefaultLocators
func (l Locators) WithDefaults() Locators {
	if l.NewTodo == "" {
		l.NewTodo = DefaultLocators.NewTodo
	}
	if l.Items == "" {
		l.Items = DefaultLocators.Items
	}
	if l.Label == "" {
		l.Label = DefaultLocators.Label
	}
	return l
}

// Labels is the selector of every todo's label
func (l Locators) Labels() string {
	return l.Items + " " + l.Label
}

// Home is the todo list page. It is shared by all scenarios of a session and
// keeps no scenario state.
type Home struct {
	nav  Navigator
	sess browser.Session
	loc  Locators
}

var _ Navigator = (*Home)(nil)

// NewHome builds the home page on top of nav
func NewHome(nav Navigator, sess browser.Session, loc Locators) *Home {
	return &Home{
		nav:  nav,
		sess: sess,
		loc:  loc.WithDefaults(),
	}
}

// Locators returns the selectors in use
func (h *Home) Locators() Locators { return h.loc }

func (h *Home) Get(ctx context.Context) error {
	return h.nav.Get(ctx)
}

func (h *Home) PageTitle(ctx context.Context) (string, error) {
	return h.nav.PageTitle(ctx)
}

func (h *Home) ClearLocalStorage(ctx context.Context) error {
	return h.nav.ClearLocalStorage(ctx)
}

func (h *Home) GoToHomePage(ctx context.Context) error {
	return h.nav.GoToHomePage(ctx)
}

// CreateTodo types text into the new todo input and submits it. Every line
// of a multi-line text becomes its own todo.
func (h *Home) CreateTodo(ctx context.Context, text string) error {
	if err := h.sess.SendKeys(ctx, h.loc.NewTodo, text+"\n"); err != nil {
		return fmt.Errorf("creating todo %q: %w", text, err)
	}
	return nil
}

// FirstTodoText returns the label of the first todo
func (h *Home) FirstTodoText(ctx context.Context) (string, error) {
	texts, err := h.AllTodoText(ctx)
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		return "", ErrNoTodos
	}
	return texts[0], nil
}

// AllTodoText returns every todo label in display order
func (h *Home) AllTodoText(ctx context.Context) ([]string, error) {
	texts, err := h.sess.Texts(ctx, h.loc.Labels())
	if err != nil {
		return nil, fmt.Errorf("reading todos: %w", err)
	}
	return texts, nil
}

func (h *Home) NumberOfTodos(ctx context.Context) (int, error) {
	n, err := h.sess.Count(ctx, h.loc.Items)
	if err != nil {
		return 0, fmt.Errorf("counting todos: %w", err)
	}
	return n, nil
}

// Screenshot captures the page as PNG
func (h *Home) Screenshot(ctx context.Context) ([]byte, error) {
	png, err := h.sess.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("taking screenshot: %w", err)
	}
	return png, nil
}
