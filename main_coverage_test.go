//go:build integration

package main

import (
	"os"
	"testing"
)

// TestMainWithCoverage runs the CLI for integration test coverage.
// Build with: go test -coverpkg=./... -c -tags integration -o todospec.test
// Run with: ./todospec.test -test.run "^TestMainWithCoverage$" -test.coverprofile=coverage.out run -c tests/todospec.yml
func TestMainWithCoverage(t *testing.T) {
	var args []string
	for _, arg := range os.Args {
		if len(arg) < 6 || arg[:6] != "-test." {
			args = append(args, arg)
		}
	}
	if len(args) < 2 {
		t.Skip("No arguments provided, skipping integration test")
	}

	if code := run(args, os.Stderr); code != 0 {
		t.Fatalf("todospec exited with %d", code)
	}
}
