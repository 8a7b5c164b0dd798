package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCreatesRunDirectory(t *testing.T) {
	root := t.TempDir()

	rc, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rc.ID) != 8 {
		t.Errorf("expected 8 char id, got %q", rc.ID)
	}
	if !strings.HasPrefix(rc.Dir, filepath.Join(root, "runs")) {
		t.Errorf("expected run dir under %s, got %s", root, rc.Dir)
	}
	if info, err := os.Stat(rc.Dir); err != nil || !info.IsDir() {
		t.Errorf("expected run directory to exist: %v", err)
	}
}

func TestSaveScreenshot(t *testing.T) {
	rc, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	png := []byte{0x89, 'P', 'N', 'G'}
	first, err := rc.SaveScreenshot("firefox", "Add a todo", png)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := rc.SaveScreenshot("firefox", "Add a todo", png)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first == second {
		t.Errorf("expected distinct screenshot paths, got %s twice", first)
	}
	if filepath.Base(filepath.Dir(first)) != "firefox" {
		t.Errorf("expected screenshot grouped by capability, got %s", first)
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("reading screenshot: %v", err)
	}
	if string(data) != string(png) {
		t.Errorf("screenshot content mismatch")
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Add a todo", "add-a-todo"},
		{"  I add \"Buy milk\"!  ", "i-add-buy-milk"},
		{"chrome/v120", "chrome-v120"},
		{"", "unnamed"},
		{"***", "unnamed"},
	}

	for _, tt := range tests {
		if got := Slug(tt.input); got != tt.expected {
			t.Errorf("Slug(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestListRuns(t *testing.T) {
	root := t.TempDir()

	runs, err := ListRuns(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}

	rc, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := rc.CreateLogFile("app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.Close()
	if _, err := rc.SaveScreenshot("chrome", "failed", []byte("png")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runs, err = ListRuns(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if len(runs[0].Logs) != 1 || runs[0].Logs[0].Name != "app" {
		t.Errorf("expected app log, got %+v", runs[0].Logs)
	}
	if runs[0].Screenshots != 1 {
		t.Errorf("expected 1 screenshot, got %d", runs[0].Screenshots)
	}
}
