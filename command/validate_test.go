package command

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeProjectFiles(t *testing.T, cfgExtra string, features map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	featuresDir := filepath.Join(dir, "features")
	if err := os.MkdirAll(filepath.Join(featuresDir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range features {
		if err := os.WriteFile(filepath.Join(featuresDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := fmt.Sprintf(`version: 1
features:
  paths: [%q]
browser:
  driver: playwright
  capabilities:
    - name: firefox
      browser: firefox
%s`, featuresDir, cfgExtra)
	path := filepath.Join(dir, DefaultConfig)
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func resultsFor(v *Validator, category string) []ValidationResult {
	var out []ValidationResult
	for _, r := range v.results {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

func TestValidatorValidProject(t *testing.T) {
	path := writeProjectFiles(t, "app:\n  base_url: http://localhost:8000\n", map[string]string{
		"todo.feature":        generateFeature(),
		"nested/more.feature": "Feature: More\n  Background:\n    Given I am on the app home page.\n\n  Scenario: Empty\n    Then it should not appear in the list.\n",
	})

	v := &Validator{configPath: path}
	v.validate()

	ok, warnings, errors := v.counts()
	if errors != 0 || warnings != 0 {
		t.Fatalf("want a clean result, got %d warnings %d errors: %+v", warnings, errors, v.results)
	}
	if ok == 0 {
		t.Fatal("no checks ran")
	}

	features := resultsFor(v, "Features")
	if len(features) != 2 {
		t.Fatalf("want 2 feature results, got %+v", features)
	}
	var found bool
	for _, r := range features {
		if r.Item == "todo.feature" {
			found = true
			if r.Message != "4 scenario(s), 4 tagged @home" {
				t.Errorf("todo.feature message = %q", r.Message)
			}
		}
	}
	if !found {
		t.Error("todo.feature not validated")
	}
}

func TestValidatorProblems(t *testing.T) {
	path := writeProjectFiles(t, "", map[string]string{
		"bad.feature":       "Feature: Bad\n  Scenario: Unknown\n    Given I open the fridge\n    When I add a todo called \"Milk\".\n",
		"broken.feature":    "Scenario without feature\n  Given nothing\n",
		"empty.feature":     "# just a comment\n",
		"ignored.feature.b": "not a feature",
	})

	v := &Validator{configPath: path}
	v.validate()

	byItem := make(map[string]ValidationResult)
	for _, r := range v.results {
		byItem[r.Category+"/"+r.Item] = r
	}

	tests := []struct {
		item   string
		status string
		msg    string
	}{
		{"App/base_url", statusError, "no base URL"},
		{"Features/bad.feature", statusWarning, "1 undefined step(s): I open the fridge"},
		{"Features/broken.feature", statusError, "parse error"},
		{"Features/empty.feature", statusError, "no Feature"},
	}
	for _, tt := range tests {
		r, ok := byItem[tt.item]
		if !ok {
			t.Errorf("missing result for %s", tt.item)
			continue
		}
		if r.Status != tt.status || !strings.Contains(r.Message, tt.msg) {
			t.Errorf("%s = %s %q, want %s containing %q", tt.item, r.Status, r.Message, tt.status, tt.msg)
		}
	}
	if _, ok := byItem["Features/ignored.feature.b"]; ok {
		t.Error("non-feature file validated")
	}
}

func TestValidatorMissingConfig(t *testing.T) {
	v := &Validator{configPath: filepath.Join(t.TempDir(), "nope.yml")}
	v.validate()

	_, _, errors := v.counts()
	if errors != 1 || len(v.results) != 1 {
		t.Fatalf("want exactly one error, got %+v", v.results)
	}
	if !strings.Contains(v.results[0].Suggestion, "todospec init") {
		t.Errorf("suggestion = %q", v.results[0].Suggestion)
	}
}

func TestValidatorContainersAndWebDriver(t *testing.T) {
	dir := t.TempDir()
	cfg := `version: 1
app:
  base_url: http://localhost:8000
  command: python -m http.server 8000
browser:
  driver: webdriver
containers:
  grid:
    image: selenium/standalone-chrome
    wait_for:
      type: http
      target: "4444/tcp"
      path: /status
  db:
    image: postgres:16
features:
  paths: [` + fmt.Sprintf("%q", filepath.Join(dir, "missing")) + `]
`
	path := filepath.Join(dir, DefaultConfig)
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	v := &Validator{configPath: path}
	v.validate()

	want := map[string]string{
		"App/command":        statusWarning,
		"Browser/remote_url": statusWarning,
		"Containers/db":      statusWarning,
		"Containers/grid":    statusOK,
		"Features/(none)":    statusWarning,
	}
	want["Features/"+filepath.Join(dir, "missing")] = statusWarning
	got := make(map[string]string)
	for _, r := range v.results {
		got[r.Category+"/"+r.Item] = r.Status
	}
	for item, status := range want {
		if got[item] != status {
			t.Errorf("%s = %q, want %q", item, got[item], status)
		}
	}
}

func TestValidatorBrowserReach(t *testing.T) {
	tests := []struct {
		name     string
		app      string
		ports    string
		wantItem string
	}{
		{
			name:     "loopback app without browser_url",
			app:      "base_url: http://localhost:8000",
			wantItem: "browser_url",
		},
		{
			name:     "host port not exposed",
			app:      "base_url: http://localhost:8000\n  browser_url: http://host.testcontainers.internal:8000",
			wantItem: "host_access_ports",
		},
		{
			name:  "host port exposed",
			app:   "base_url: http://localhost:8000\n  browser_url: http://host.testcontainers.internal:8000",
			ports: "\n    host_access_ports: [8000]",
		},
		{
			name: "remote app",
			app:  "base_url: http://todo.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := fmt.Sprintf(`version: 1
app:
  %s
browser:
  driver: webdriver
  container: grid
containers:
  grid:
    image: selenium/standalone-chrome%s
    wait_for: {type: http, target: "4444/tcp", path: /status}
features:
  paths: [%q]
`, tt.app, tt.ports, dir)
			path := filepath.Join(dir, DefaultConfig)
			if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
				t.Fatal(err)
			}

			v := &Validator{configPath: path}
			v.validate()

			var got []string
			for _, r := range resultsFor(v, "Browser") {
				if r.Status == statusWarning {
					got = append(got, r.Item)
				}
			}
			want := []string{}
			if tt.wantItem != "" {
				want = []string{tt.wantItem}
			}
			if strings.Join(got, ",") != strings.Join(want, ",") {
				t.Errorf("browser warnings = %v, want %v: %+v", got, want, v.results)
			}
		})
	}
}

func TestValidatorRunPlain(t *testing.T) {
	path := writeProjectFiles(t, "app:\n  base_url: http://localhost:8000\n", map[string]string{
		"todo.feature": generateFeature(),
	})

	var out bytes.Buffer
	v := &Validator{configPath: path, out: &out}
	if err := v.runPlain(); err != nil {
		t.Fatalf("runPlain: %v\n%s", err, out.String())
	}
	for _, want := range []string{"[Config]", "[Features]", "✓ todo.feature", "Validation passed!"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	v = &Validator{configPath: filepath.Join(t.TempDir(), "nope.yml"), out: &out}
	if err := v.runPlain(); err == nil {
		t.Error("expected error for missing config")
	}
	if !strings.Contains(out.String(), "✗") {
		t.Errorf("output has no error marker:\n%s", out.String())
	}
}
