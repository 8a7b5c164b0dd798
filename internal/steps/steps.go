// Package steps binds the Gherkin vocabulary of the todo suite to the home
// page object.
package steps

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/go-cmp/cmp"

	"github.com/tomatool/todospec/internal/page"
	"github.com/tomatool/todospec/internal/world"
)

// DefaultTitle is the document title of the AngularJS TodoMVC app
const DefaultTitle = "AngularJS • TodoMVC"

var lineBreak = regexp.MustCompile(`\r?\n`)

// Options configures the step definitions of one capability
type Options struct {
	Capability string
	Title      string
	Parameters map[string]string

	// Attach receives screenshots of failed scenarios
	Attach world.AttachFunc

	// StepTimeout bounds every step. Zero leaves steps unbounded.
	StepTimeout time.Duration

	// Settle drives polling of the page title
	Settle page.Settle

	// Skip reports scenarios that must not run. They are skipped before the
	// app is reset.
	Skip func(*godog.Scenario) bool
}

// Steps holds the step definitions for one browser session
type Steps struct {
	home *page.Home
	opts Options
}

// New creates the step definitions driving home
func New(home *page.Home, opts Options) *Steps {
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.Settle.Interval <= 0 {
		opts.Settle.Interval = page.DefaultSettle.Interval
	}
	if opts.Settle.Timeout <= 0 {
		opts.Settle.Timeout = page.DefaultSettle.Timeout
	}
	return &Steps{home: home, opts: opts}
}

// Catalog returns the step vocabulary without binding it to a page, for
// listing and validation
func Catalog() []StepCategory {
	return (&Steps{}).Categories()
}

// Register installs hooks and steps on a godog scenario
func (s *Steps) Register(sc *godog.ScenarioContext) {
	s.registerHooks(sc)
	s.registerDeadlines(sc.StepContext())
	RegisterSteps(sc, s.Categories())
}

// Categories returns the step definitions, in matching order
func (s *Steps) Categories() []StepCategory {
	return []StepCategory{
		{
			Name:        "Navigation",
			Description: "Steps for reaching the todo app",
			Steps: []StepDef{
				{
					Keyword:     "Given",
					Pattern:     `^I am on the app home page\.?$`,
					Description: "Waits until the page title equals the configured app title",
					Example:     "Given I am on the app home page.",
					Handler:     s.iAmOnTheAppHomePage,
				},
			},
		},
		{
			Name:        "Adding Todos",
			Description: "Steps that type todos into the new todo input",
			Steps: []StepDef{
				{
					Keyword:     "When",
					Pattern:     `^I add a todo called "([^"]*)"\.?$`,
					Description: "Adds one todo and remembers its text",
					Example:     `When I add a todo called "Get Milk".`,
					Handler:     s.iAddATodoCalled,
				},
				{
					Keyword:     "When",
					Pattern:     `^I add the todos\.?$`,
					Description: "Adds one todo per line of the doc string and remembers the text",
					Example:     "When I add the todos\n  \"\"\"\n  Buy milk\n  Walk the dog\n  \"\"\"",
					Handler:     s.iAddTheTodos,
				},
				{
					Keyword:     "When",
					Pattern:     `^I add multiple todos:$`,
					Description: "Adds every cell of the table in order and remembers how many",
					Example:     "When I add multiple todos:\n  | Buy milk |\n  | Walk the dog |",
					Handler:     s.iAddMultipleTodos,
				},
			},
		},
		{
			Name:        "Todo Assertions",
			Description: "Steps that check what the todo list shows",
			Steps: []StepDef{
				{
					Keyword:     "Then",
					Pattern:     `^I should see it added to the todo list\.?$`,
					Description: "Asserts the first todo is the one just added",
					Example:     "Then I should see it added to the todo list.",
					Handler:     s.iShouldSeeItAdded,
				},
				{
					Keyword:     "Then",
					Pattern:     `^I should see a todo called "([^"]*)"\.?$`,
					Description: "Asserts the first todo has the given text",
					Example:     `Then I should see a todo called "Get Milk".`,
					Handler:     s.iShouldSeeATodoCalled,
				},
				{
					Keyword:     "Then",
					Pattern:     `^I should see them added to the todo list\.$`,
					Description: "Asserts the list shows the doc string lines, in order",
					Example:     "Then I should see them added to the todo list.",
					Handler:     s.iShouldSeeThemAdded,
				},
				{
					Keyword:     "Then",
					Pattern:     `^there should be that number of todos in the list\.?$`,
					Description: "Asserts the list holds as many todos as were added from a table",
					Example:     "Then there should be that number of todos in the list.",
					Handler:     s.thereShouldBeThatNumberOfTodos,
				},
				{
					Keyword:     "Then",
					Pattern:     `^it should (.*) in the list\.$`,
					Description: `Asserts one todo is listed for "appear" and none otherwise`,
					Example:     "Then it should appear in the list.",
					Handler:     s.itShouldBeInTheList,
				},
			},
		},
	}
}

func (s *Steps) iAmOnTheAppHomePage(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Settle.Timeout)
		defer cancel()
	}

	var (
		title string
		read  bool
	)
	err := page.Eventually(ctx, s.opts.Settle.Interval, func(ctx context.Context) (bool, error) {
		t, err := s.home.PageTitle(ctx)
		if err != nil {
			return false, err
		}
		title, read = t, true
		return t == s.opts.Title, nil
	})
	if err != nil {
		if !read {
			return fmt.Errorf("opening home page: %w", err)
		}
		return &ErrMismatch{Field: "page title", Expected: s.opts.Title, Actual: title, Diff: err.Error()}
	}
	return nil
}

func (s *Steps) iAddATodoCalled(ctx context.Context, text string) error {
	w, err := world.FromContext(ctx)
	if err != nil {
		return err
	}
	w.ExpectedTodoText = text
	return s.home.CreateTodo(ctx, text)
}

func (s *Steps) iAddTheTodos(ctx context.Context, doc *godog.DocString) error {
	w, err := world.FromContext(ctx)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("step needs a doc string")
	}
	w.ExpectedTodoText = doc.Content
	return s.home.CreateTodo(ctx, doc.Content)
}

func (s *Steps) iAddMultipleTodos(ctx context.Context, table *godog.Table) error {
	w, err := world.FromContext(ctx)
	if err != nil {
		return err
	}
	todos := world.FlattenTable(table)
	for _, todo := range todos {
		if err := s.home.CreateTodo(ctx, todo); err != nil {
			return err
		}
	}
	w.ExpectedNumberOfTodos = len(todos)
	return nil
}

func (s *Steps) iShouldSeeItAdded(ctx context.Context) error {
	w, err := world.FromContext(ctx)
	if err != nil {
		return err
	}
	return s.firstTodoShouldBe(ctx, w.ExpectedTodoText)
}

func (s *Steps) iShouldSeeATodoCalled(ctx context.Context, text string) error {
	return s.firstTodoShouldBe(ctx, text)
}

func (s *Steps) firstTodoShouldBe(ctx context.Context, expected string) error {
	got, err := s.home.FirstTodoText(ctx)
	if err != nil {
		return err
	}
	if got != expected {
		return &ErrMismatch{Field: "first todo", Expected: expected, Actual: got}
	}
	return nil
}

func (s *Steps) iShouldSeeThemAdded(ctx context.Context) error {
	w, err := world.FromContext(ctx)
	if err != nil {
		return err
	}
	expected := lineBreak.Split(w.ExpectedTodoText, -1)

	got, err := s.home.AllTodoText(ctx)
	if err != nil {
		return err
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		return &ErrMismatch{Field: "todo list", Expected: expected, Actual: got, Diff: diff}
	}
	return nil
}

func (s *Steps) thereShouldBeThatNumberOfTodos(ctx context.Context) error {
	w, err := world.FromContext(ctx)
	if err != nil {
		return err
	}
	return s.countShouldBe(ctx, w.ExpectedNumberOfTodos)
}

func (s *Steps) itShouldBeInTheList(ctx context.Context, verb string) error {
	expected := 0
	if verb == "appear" {
		expected = 1
	}
	return s.countShouldBe(ctx, expected)
}

func (s *Steps) countShouldBe(ctx context.Context, expected int) error {
	got, err := s.home.NumberOfTodos(ctx)
	if err != nil {
		return err
	}
	if got != expected {
		return &ErrMismatch{Field: "number of todos", Expected: expected, Actual: got}
	}
	return nil
}
