package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/formatters"
	messages "github.com/cucumber/messages/go/v21"
)

// Name is the format name to pass to godog
const Name = "events"

// EventPrefix starts every structured line
const EventPrefix = "TODOSPEC_EVENT:"

// Event types for structured output
const (
	EventFeatureStart  = "feature_start"
	EventFeatureEnd    = "feature_end"
	EventScenarioStart = "scenario_start"
	EventScenarioEnd   = "scenario_end"
	EventStepEnd       = "step_end"
	EventSummary       = "summary"
)

// Event represents a structured test event
type Event struct {
	Type       string `json:"type"`
	Capability string `json:"capability,omitempty"`
	Feature    string `json:"feature,omitempty"`
	Scenario   string `json:"scenario,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
	File       string `json:"file,omitempty"`

	// Summary fields
	Total   int `json:"total,omitempty"`
	Passed  int `json:"passed,omitempty"`
	Failed  int `json:"failed,omitempty"`
	Skipped int `json:"skipped,omitempty"`
}

// Capabilities run in parallel and share stdout
var writeMu sync.Mutex

// EventFormatter outputs one JSON event per line for machine consumption
type EventFormatter struct {
	out        io.Writer
	capability string

	// Track current context
	currentFeature     string
	currentFeatureFile string
	currentScenario    string
	currentScenarioErr string
	scenarioStatus     string

	// Counters
	scenarioTotal   int
	scenarioPassed  int
	scenarioFailed  int
	scenarioSkipped int
}

func init() {
	godog.Format(Name, "Structured JSON events, one per line", New)
}

// New creates an EventFormatter. Suites named "<name>/<capability>" tag
// their events with the capability.
func New(suite string, out io.Writer) formatters.Formatter {
	capability := ""
	if _, c, ok := strings.Cut(suite, "/"); ok {
		capability = c
	}
	return &EventFormatter{out: out, capability: capability}
}

func (f *EventFormatter) emit(event Event) {
	event.Capability = f.capability
	data, _ := json.Marshal(event)

	writeMu.Lock()
	defer writeMu.Unlock()
	fmt.Fprintf(f.out, "%s%s\n", EventPrefix, data)
}

// TestRunStarted is called when the test run starts
func (f *EventFormatter) TestRunStarted() {}

// Feature is called when a feature file is parsed
func (f *EventFormatter) Feature(doc *messages.GherkinDocument, uri string, content []byte) {
	f.emitScenarioEndIfNeeded()
	if f.currentFeature != "" {
		f.emit(Event{Type: EventFeatureEnd, Feature: f.currentFeature})
	}

	if doc.Feature != nil {
		f.currentFeature = doc.Feature.Name
		f.currentFeatureFile = uri
		f.emit(Event{
			Type:    EventFeatureStart,
			Feature: doc.Feature.Name,
			File:    uri,
		})
	}
}

// Pickle is called when a scenario is about to run
func (f *EventFormatter) Pickle(pickle *messages.Pickle) {
	f.emitScenarioEndIfNeeded()

	f.currentScenario = pickle.Name
	f.currentScenarioErr = ""
	f.scenarioStatus = "passed"
	f.scenarioTotal++

	f.emit(Event{
		Type:     EventScenarioStart,
		Feature:  f.currentFeature,
		Scenario: pickle.Name,
		File:     f.currentFeatureFile,
	})
}

func (f *EventFormatter) emitScenarioEndIfNeeded() {
	if f.currentScenario == "" {
		return
	}

	f.emit(Event{
		Type:     EventScenarioEnd,
		Feature:  f.currentFeature,
		Scenario: f.currentScenario,
		Status:   f.scenarioStatus,
		Error:    f.currentScenarioErr,
	})

	switch f.scenarioStatus {
	case "failed":
		f.scenarioFailed++
	case "skipped":
		f.scenarioSkipped++
	default:
		f.scenarioPassed++
	}
	f.currentScenario = ""
}

// mark records a step outcome, keeping the worst status for the scenario
func (f *EventFormatter) mark(status string, err error) {
	switch status {
	case "failed":
		f.scenarioStatus = "failed"
		if err != nil {
			f.currentScenarioErr = err.Error()
		}
	case "skipped":
		if f.scenarioStatus == "passed" {
			f.scenarioStatus = "skipped"
		}
	}
}

func (f *EventFormatter) step(pickle *messages.Pickle, step *messages.PickleStep, status string, err error) {
	event := Event{
		Type:     EventStepEnd,
		Feature:  f.currentFeature,
		Scenario: pickle.Name,
		Step:     step.Text,
		Status:   status,
	}
	if err != nil {
		event.Error = err.Error()
	}
	f.emit(event)
}

// Defined is called when a step definition is found
func (f *EventFormatter) Defined(*messages.Pickle, *messages.PickleStep, *formatters.StepDefinition) {
}

// Passed is called when a step passes
func (f *EventFormatter) Passed(pickle *messages.Pickle, step *messages.PickleStep, _ *formatters.StepDefinition) {
	f.step(pickle, step, "passed", nil)
}

// Failed is called when a step fails
func (f *EventFormatter) Failed(pickle *messages.Pickle, step *messages.PickleStep, _ *formatters.StepDefinition, err error) {
	f.mark("failed", err)
	f.step(pickle, step, "failed", err)
}

// Skipped is called when a step is skipped
func (f *EventFormatter) Skipped(pickle *messages.Pickle, step *messages.PickleStep, _ *formatters.StepDefinition) {
	f.mark("skipped", nil)
	f.step(pickle, step, "skipped", nil)
}

// Undefined is called when a step has no matching definition. The runner is
// strict, so the scenario fails.
func (f *EventFormatter) Undefined(pickle *messages.Pickle, step *messages.PickleStep, _ *formatters.StepDefinition) {
	err := fmt.Errorf("undefined step: %s", step.Text)
	f.mark("failed", err)
	f.step(pickle, step, "undefined", err)
}

// Pending is called when a step is pending
func (f *EventFormatter) Pending(pickle *messages.Pickle, step *messages.PickleStep, _ *formatters.StepDefinition) {
	f.mark("skipped", nil)
	f.step(pickle, step, "pending", nil)
}

// Ambiguous is called when a step matches multiple definitions
func (f *EventFormatter) Ambiguous(pickle *messages.Pickle, step *messages.PickleStep, _ *formatters.StepDefinition, err error) {
	f.mark("failed", err)
	f.step(pickle, step, "ambiguous", err)
}

// Summary is called after all tests complete
func (f *EventFormatter) Summary() {
	f.emitScenarioEndIfNeeded()

	if f.currentFeature != "" {
		f.emit(Event{Type: EventFeatureEnd, Feature: f.currentFeature})
	}

	f.emit(Event{
		Type:    EventSummary,
		Total:   f.scenarioTotal,
		Passed:  f.scenarioPassed,
		Failed:  f.scenarioFailed,
		Skipped: f.scenarioSkipped,
	})
}
