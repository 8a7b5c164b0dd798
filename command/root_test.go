package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomatool/todospec/internal/report"
	"github.com/tomatool/todospec/internal/steps"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"todospec"}, args...))
	return out.String(), err
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level   string
		format  string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", "console", zerolog.DebugLevel, false},
		{"WARN", "json", zerolog.WarnLevel, false},
		{"info", "", zerolog.InfoLevel, false},
		{"loud", "console", 0, true},
		{"info", "xml", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			err := setupLogging(&buf, tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("global level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStepsJSON(t *testing.T) {
	out, err := runApp(t, "steps", "--json")
	if err != nil {
		t.Fatalf("steps: %v", err)
	}

	var categories []steps.StepCategory
	if err := json.Unmarshal([]byte(out), &categories); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(categories) != len(steps.Catalog()) {
		t.Errorf("got %d categories, want %d", len(categories), len(steps.Catalog()))
	}
	for _, cat := range categories {
		for _, step := range cat.Steps {
			if step.Pattern == "" || step.Keyword == "" {
				t.Errorf("incomplete step in %s: %+v", cat.Name, step)
			}
		}
	}
}

func TestStepsFilter(t *testing.T) {
	out, err := runApp(t, "steps", "--filter", "doc string")
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	if !strings.Contains(out, "I add the todos") {
		t.Errorf("filtered output misses the doc string step:\n%s", out)
	}
	if strings.Contains(out, "I am on the app home page") {
		t.Errorf("filtered output contains navigation step:\n%s", out)
	}
}

func TestDocs(t *testing.T) {
	out, err := runApp(t, "docs")
	if err != nil {
		t.Fatalf("docs: %v", err)
	}
	for _, want := range []string{
		"# Step Reference",
		"## Navigation",
		"### Given",
		"`Given I am on the app home page.`",
		"| `When I add the todos` |",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown docs missing %q", want)
		}
	}

	path := filepath.Join(t.TempDir(), "steps.html")
	if _, err := runApp(t, "docs", "--format", "html", "-o", path); err != nil {
		t.Fatalf("docs html: %v", err)
	}
	html, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(html), "<h2>Adding Todos</h2>") {
		t.Errorf("html docs missing category heading")
	}

	if _, err := runApp(t, "docs", "--format", "pdf"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestVersion(t *testing.T) {
	out, err := runApp(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "todospec version dev\n") {
		t.Errorf("unexpected version output:\n%s", out)
	}
}

const cucumberResults = `[{"uri": "features/todo.feature", "id": "todo", "keyword": "Feature", "name": "Todo list",
  "elements": [{"id": "todo;add", "keyword": "Scenario", "name": "Add", "type": "scenario",
    "steps": [{"keyword": "Given ", "name": "I am on the app home page.", "result": {"status": "passed", "duration": 1000}}]}]}]`

func writeReportConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`version: 1
app:
  base_url: http://localhost:8000
report:
  results: %q
  dir: %q
`, filepath.Join(dir, "results.json"), filepath.Join(dir, "report"))

	path := filepath.Join(dir, DefaultConfig)
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReport(t *testing.T) {
	dir := t.TempDir()
	cfg := writeReportConfig(t, dir)

	if _, err := runApp(t, "report", "-c", cfg); err == nil {
		t.Fatal("expected error without results files")
	}

	for _, capability := range []string{"chrome", "firefox"} {
		path := report.ResultsPath(filepath.Join(dir, "results.json"), capability)
		if err := os.WriteFile(path, []byte(cucumberResults), 0644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := runApp(t, "report", "-c", cfg)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	index := filepath.Join(dir, "report", report.IndexFile)
	if !strings.Contains(out, index) {
		t.Errorf("output %q does not name %s", out, index)
	}
	html, err := os.ReadFile(index)
	if err != nil {
		t.Fatal(err)
	}
	for _, capability := range []string{"chrome", "firefox"} {
		if !strings.Contains(string(html), capability) {
			t.Errorf("report misses capability %s", capability)
		}
	}

	other := filepath.Join(dir, "other")
	if _, err := runApp(t, "report", "-c", cfg, "--input", report.ResultsPath(filepath.Join(dir, "results.json"), "chrome"), "--out", other); err != nil {
		t.Fatalf("report with flags: %v", err)
	}
	if _, err := os.Stat(filepath.Join(other, report.IndexFile)); err != nil {
		t.Errorf("report not written to --out: %v", err)
	}
}
