// Package report reads cucumber JSON results and renders them as a static
// HTML report, one section per browser capability.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Scenario statuses
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// cucumber JSON as written by godog's cucumber formatter
type cukeFeature struct {
	URI      string        `json:"uri"`
	Name     string        `json:"name"`
	Elements []cukeElement `json:"elements"`
}

type cukeElement struct {
	Name  string     `json:"name"`
	Type  string     `json:"type"`
	Line  int        `json:"line"`
	Tags  []cukeTag  `json:"tags"`
	Steps []cukeStep `json:"steps"`
}

type cukeTag struct {
	Name string `json:"name"`
}

type cukeStep struct {
	Keyword    string          `json:"keyword"`
	Name       string          `json:"name"`
	Result     cukeResult      `json:"result"`
	Embeddings []cukeEmbedding `json:"embeddings"`
}

type cukeResult struct {
	Status   string `json:"status"`
	Error    string `json:"error_message"`
	Duration int64  `json:"duration"`
}

type cukeEmbedding struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Run is the result of one capability
type Run struct {
	Capability string
	Source     string
	Features   []Feature
}

// Feature groups the scenarios of one feature file
type Feature struct {
	Name      string
	URI       string
	Scenarios []Scenario
}

// Scenario is one executed pickle
type Scenario struct {
	Name        string
	Tags        []string
	Status      string
	Duration    time.Duration
	Steps       []Step
	Screenshots []string // base64 PNG
}

// Step is one executed step
type Step struct {
	Keyword  string
	Text     string
	Status   string
	Error    string
	Duration time.Duration
}

// Counts summarizes scenario outcomes
type Counts struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// Counts tallies the scenarios of a run
func (r Run) Counts() Counts {
	var c Counts
	for _, f := range r.Features {
		for _, s := range f.Scenarios {
			c.Total++
			switch s.Status {
			case StatusPassed:
				c.Passed++
			case StatusFailed:
				c.Failed++
			default:
				c.Skipped++
			}
		}
	}
	return c
}

// CapabilityFromPath derives the capability name from a results file named
// like results.<capability>.json
func CapabilityFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if _, capability, ok := strings.Cut(base, "."); ok && capability != "" {
		return capability
	}
	return "default"
}

// ResultsPath returns the results file of one capability, next to base
func ResultsPath(base, capability string) string {
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".json"
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + "." + capability + ext
}

// Glob lists the per-capability results files written next to base
func Glob(base string) ([]string, error) {
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".json"
	}
	matches, err := filepath.Glob(strings.TrimSuffix(base, filepath.Ext(base)) + ".*" + ext)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Load reads one cucumber JSON file per capability
func Load(paths ...string) ([]Run, error) {
	runs := make([]Run, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading results: %w", err)
		}
		run, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		run.Capability = CapabilityFromPath(path)
		run.Source = path
		runs = append(runs, run)
	}
	return runs, nil
}

// Parse converts cucumber JSON into a Run
func Parse(data []byte) (Run, error) {
	var features []cukeFeature
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &features); err != nil {
			return Run{}, err
		}
	}

	var run Run
	for _, cf := range features {
		f := Feature{Name: cf.Name, URI: cf.URI}
		for _, el := range cf.Elements {
			if el.Type != "" && el.Type != "scenario" {
				continue
			}
			f.Scenarios = append(f.Scenarios, scenario(el))
		}
		run.Features = append(run.Features, f)
	}
	return run, nil
}

func scenario(el cukeElement) Scenario {
	s := Scenario{Name: el.Name, Status: StatusPassed}
	for _, t := range el.Tags {
		s.Tags = append(s.Tags, t.Name)
	}

	for _, cs := range el.Steps {
		st := Step{
			Keyword:  strings.TrimSpace(cs.Keyword),
			Text:     cs.Name,
			Status:   cs.Result.Status,
			Error:    cs.Result.Error,
			Duration: time.Duration(cs.Result.Duration),
		}
		s.Steps = append(s.Steps, st)
		s.Duration += st.Duration

		switch cs.Result.Status {
		case "passed":
		case "skipped", "pending":
			if s.Status == StatusPassed {
				s.Status = StatusSkipped
			}
		default:
			s.Status = StatusFailed
		}

		for _, e := range cs.Embeddings {
			if e.MimeType == "image/png" {
				s.Screenshots = append(s.Screenshots, e.Data)
			}
		}
	}
	if len(el.Steps) == 0 {
		s.Status = StatusSkipped
	}
	return s
}
