package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cucumber/godog/colors"
)

func TestRun(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"todospec", "steps", "--filter", "home page"}, &stderr); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}

	stderr.Reset()
	missing := filepath.Join(t.TempDir(), "todospec.yml")
	code := run([]string{"todospec", "--log-level", "error", "validate", "--plain", "-c", missing}, colors.Uncolored(&stderr))
	if code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "validation failed with 1 error(s)") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
