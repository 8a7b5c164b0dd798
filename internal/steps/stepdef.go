package steps

import (
	"regexp"
	"strings"

	"github.com/cucumber/godog"
)

// StepDef represents a structured step definition with metadata
type StepDef struct {
	// Keyword is the Gherkin keyword the step is written with
	Keyword string `json:"keyword"`

	// Pattern is the regex pattern for matching Gherkin steps
	Pattern string `json:"pattern"`

	// Description explains what this step does
	Description string `json:"description"`

	// Example shows how to use this step in a feature file
	Example string `json:"example,omitempty"`

	// Handler is the function that implements the step
	Handler interface{} `json:"-"`
}

// StepCategory groups related steps together
type StepCategory struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Steps       []StepDef `json:"steps"`
}

// ScenarioContext abstracts godog.ScenarioContext for testing
type ScenarioContext interface {
	Before(h godog.BeforeScenarioHook)
	After(h godog.AfterScenarioHook)
	Step(expr interface{}, stepFunc interface{})
}

// RegisterSteps registers every step of categories, in order. godog uses the
// first pattern that matches a step.
func RegisterSteps(ctx ScenarioContext, categories []StepCategory) {
	for _, cat := range categories {
		for _, step := range cat.Steps {
			ctx.Step(step.Pattern, step.Handler)
		}
	}
}

// AllSteps returns all steps across all categories
func AllSteps(categories []StepCategory) []StepDef {
	var all []StepDef
	for _, cat := range categories {
		all = append(all, cat.Steps...)
	}
	return all
}

// Filter keeps the steps whose pattern, description or example contain term
// (case-insensitive). Empty categories are dropped.
func Filter(categories []StepCategory, term string) []StepCategory {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return categories
	}

	var out []StepCategory
	for _, cat := range categories {
		var kept []StepDef
		for _, step := range cat.Steps {
			haystack := strings.ToLower(step.Pattern + "\n" + step.Description + "\n" + step.Example)
			if strings.Contains(haystack, term) {
				kept = append(kept, step)
			}
		}
		if len(kept) > 0 {
			cat.Steps = kept
			out = append(out, cat)
		}
	}
	return out
}

// Matcher finds the step definition for a step text
type Matcher struct {
	defs     []StepDef
	patterns []*regexp.Regexp
}

// NewMatcher compiles the patterns of categories
func NewMatcher(categories []StepCategory) (*Matcher, error) {
	m := &Matcher{}
	for _, def := range AllSteps(categories) {
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return nil, err
		}
		m.defs = append(m.defs, def)
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Match returns the first definition matching text
func (m *Matcher) Match(text string) (StepDef, bool) {
	for i, re := range m.patterns {
		if re.MatchString(text) {
			return m.defs[i], true
		}
	}
	return StepDef{}, false
}
