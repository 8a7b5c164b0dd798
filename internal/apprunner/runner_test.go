package apprunner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomatool/todospec/internal/config"
	"github.com/tomatool/todospec/internal/runlog"
)

func init() {
	PollInterval = 10 * time.Millisecond
}

func TestReadyURL(t *testing.T) {
	tests := []struct {
		name   string
		config config.AppConfig
		want   string
	}{
		{
			name:   "no ready check",
			config: config.AppConfig{BaseURL: "http://localhost:8000"},
			want:   "",
		},
		{
			name:   "no base url",
			config: config.AppConfig{Ready: &config.ReadyCheck{Path: "/"}},
			want:   "",
		},
		{
			name:   "root",
			config: config.AppConfig{BaseURL: "http://localhost:8000/", Ready: &config.ReadyCheck{}},
			want:   "http://localhost:8000",
		},
		{
			name:   "path without slash",
			config: config.AppConfig{BaseURL: "http://localhost:8000", Ready: &config.ReadyCheck{Path: "healthz"}},
			want:   "http://localhost:8000/healthz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewRunner(tt.config, nil).ReadyURL(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestWaitReadyNoConfig(t *testing.T) {
	runner := NewRunner(config.AppConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	if err := runner.WaitReady(context.Background()); err != nil {
		t.Errorf("expected nil without a ready check, got %v", err)
	}
}

func TestWaitReady(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	runner := NewRunner(config.AppConfig{
		BaseURL: server.URL,
		Ready:   &config.ReadyCheck{Path: "/health", Status: http.StatusOK, Timeout: 5 * time.Second},
	}, nil)

	if err := runner.WaitReady(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("expected 3 probes, got %d", got)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	runner := NewRunner(config.AppConfig{
		BaseURL: server.URL,
		Ready:   &config.ReadyCheck{Status: http.StatusOK, Timeout: 100 * time.Millisecond},
	}, nil)

	err := runner.WaitReady(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 500, expected 200") {
		t.Errorf("expected last probe in error, got %v", err)
	}
}

func TestWaitReadyContextCanceled(t *testing.T) {
	runner := NewRunner(config.AppConfig{
		BaseURL: "http://127.0.0.1:1",
		Ready:   &config.ReadyCheck{Status: http.StatusOK, Timeout: time.Minute},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runner.WaitReady(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context canceled, got %v", err)
	}
}

func TestStartCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	runCtx, err := runlog.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	script := filepath.Join(t.TempDir(), "app.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho serving\nexec sleep 30\n"), 0755); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(config.AppConfig{
		BaseURL: server.URL,
		Command: script,
		Ready:   &config.ReadyCheck{Status: http.StatusOK, Timeout: 5 * time.Second},
	}, nil)
	runner.SetRunContext(runCtx)

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(runner.GetRecentLogs(1)) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runner.GetRecentLogs(1); len(got) != 1 || got[0] != "serving" {
		t.Errorf("expected [serving], got %v", got)
	}

	if err := runner.Stop(); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
	if runner.cmd != nil {
		t.Error("expected process to be cleared after stop")
	}

	data, err := os.ReadFile(runCtx.LogPath("app"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[stdout] serving") {
		t.Errorf("expected app log to contain output, got %q", data)
	}
}

func TestStartCommandExits(t *testing.T) {
	runner := NewRunner(config.AppConfig{
		BaseURL: "http://127.0.0.1:1",
		Command: "false",
		Ready:   &config.ReadyCheck{Status: http.StatusOK, Timeout: 5 * time.Second},
	}, nil)

	start := time.Now()
	err := runner.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "app process exited") {
		t.Fatalf("expected exit error, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("expected exited process to fail fast")
	}
}

func TestStopWithoutProcess(t *testing.T) {
	if err := NewRunner(config.AppConfig{}, nil).Stop(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

type fakeEndpoints map[string]string

func (f fakeEndpoints) GetConnectionString(ctx context.Context, name, port string) (string, error) {
	addr, ok := f[name+"/"+port]
	if !ok {
		return "", fmt.Errorf("container not found: %s", name)
	}
	return addr, nil
}

func TestBuildEnv(t *testing.T) {
	endpoints := fakeEndpoints{"grid/4444/tcp": "localhost:49152"}

	tests := []struct {
		name      string
		env       map[string]string
		endpoints Endpoints
		want      map[string]string
		wantErr   bool
	}{
		{
			name: "plain values",
			env:  map[string]string{"PORT": "8000"},
			want: map[string]string{"PORT": "8000"},
		},
		{
			name:      "host and port",
			env:       map[string]string{"GRID": "{{.grid.host}}:{{.grid.port.4444}}"},
			endpoints: endpoints,
			want:      map[string]string{"GRID": "localhost:49152"},
		},
		{
			name:      "address",
			env:       map[string]string{"GRID": "http://{{ .grid.address.4444/tcp }}/wd/hub"},
			endpoints: endpoints,
			want:      map[string]string{"GRID": "http://localhost:49152/wd/hub"},
		},
		{
			name:    "port without containers",
			env:     map[string]string{"GRID": "{{.grid.port.4444}}"},
			wantErr: true,
		},
		{
			name:      "unknown container",
			env:       map[string]string{"DB": "{{.db.port.5432}}"},
			endpoints: endpoints,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := NewRunner(config.AppConfig{Env: tt.env}, tt.endpoints)
			got, err := runner.buildEnv(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s: expected %q, got %q", k, v, got[k])
				}
			}
		})
	}
}

func TestStreamLogsMaxLines(t *testing.T) {
	runner := NewRunner(config.AppConfig{}, nil)

	var b strings.Builder
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&b, "line %d\n\n", i)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	runner.streamLogs(&wg, strings.NewReader(b.String()), "stdout")
	wg.Wait()

	all := runner.GetRecentLogs(1000)
	if len(all) != 100 {
		t.Fatalf("expected 100 buffered lines, got %d", len(all))
	}
	if all[0] != "line 50" || all[99] != "line 149" {
		t.Errorf("unexpected window %q..%q", all[0], all[99])
	}
	if got := runner.GetRecentLogs(2); got[0] != "line 148" || got[1] != "line 149" {
		t.Errorf("unexpected tail %v", got)
	}
	if got := runner.GetRecentLogs(0); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
