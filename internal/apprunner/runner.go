package apprunner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/tomatool/todospec/internal/config"
	"github.com/tomatool/todospec/internal/runlog"
)

// PollInterval is the delay between readiness probes
var PollInterval = 250 * time.Millisecond

// Endpoints resolves container ports for env templates
type Endpoints interface {
	GetConnectionString(ctx context.Context, name, port string) (string, error)
}

// Runner manages the application under test: an optional local process and
// the readiness check against its base URL
type Runner struct {
	config    config.AppConfig
	endpoints Endpoints
	client    *http.Client

	cmd  *exec.Cmd
	done chan struct{}

	// Log streaming
	showLogs bool
	logLines []string
	logMu    sync.Mutex

	runCtx  *runlog.RunContext
	logFile *os.File
}

// NewRunner creates an app runner. endpoints may be nil when no containers
// are configured.
func NewRunner(cfg config.AppConfig, endpoints Endpoints) *Runner {
	return &Runner{
		config:    cfg,
		endpoints: endpoints,
		client:    &http.Client{Timeout: 2 * time.Second},
	}
}

// SetShowLogs enables echoing app output to stdout
func (r *Runner) SetShowLogs(show bool) {
	r.showLogs = show
}

// SetRunContext sets the run context the app log is written to
func (r *Runner) SetRunContext(ctx *runlog.RunContext) {
	r.runCtx = ctx
}

// Start launches the app command, if any, and waits until the app answers
func (r *Runner) Start(ctx context.Context) error {
	if r.config.IsConfigured() {
		if err := r.startCommand(ctx); err != nil {
			return err
		}
	}

	if err := r.WaitReady(ctx); err != nil {
		r.Stop()
		return fmt.Errorf("app not ready: %w", err)
	}
	return nil
}

// startCommand starts the app as a local process
func (r *Runner) startCommand(ctx context.Context) error {
	parts := strings.Fields(r.config.Command)
	if len(parts) == 0 {
		return fmt.Errorf("empty command")
	}

	env, err := r.buildEnv(ctx)
	if err != nil {
		return err
	}

	// Not bound to ctx: the app must outlive the start-up context
	r.cmd = exec.Command(parts[0], parts[1:]...)
	r.cmd.Dir = r.config.WorkDir
	r.cmd.Env = os.Environ()
	for k, v := range env {
		r.cmd.Env = append(r.cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := r.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if r.runCtx != nil {
		if f, err := r.runCtx.CreateLogFile("app"); err == nil {
			r.logFile = f
		} else {
			log.Warn().Err(err).Msg("failed to create app log file")
		}
	}

	log.Debug().Str("command", r.config.Command).Msg("starting app process")
	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("starting app: %w", err)
	}

	var streams sync.WaitGroup
	streams.Add(2)
	go r.streamLogs(&streams, stdout, "stdout")
	go r.streamLogs(&streams, stderr, "stderr")

	r.done = make(chan struct{})
	go func(cmd *exec.Cmd, done chan struct{}) {
		streams.Wait()
		cmd.Wait()
		close(done)
	}(r.cmd, r.done)

	return nil
}

var templatePattern = regexp.MustCompile(`\{\{\s*\.(\w+)\.(host|port|address)(?:\.(\d+(?:/tcp)?))?\s*\}\}`)

// buildEnv resolves {{.grid.host}}, {{.grid.port.4444}} and
// {{.grid.address.4444}} templates against running containers
func (r *Runner) buildEnv(ctx context.Context) (map[string]string, error) {
	env := make(map[string]string, len(r.config.Env))
	for key, value := range r.config.Env {
		var resolveErr error
		resolved := templatePattern.ReplaceAllStringFunc(value, func(match string) string {
			m := templatePattern.FindStringSubmatch(match)
			name, kind, port := m[1], m[2], m[3]

			if kind == "host" {
				return "localhost"
			}
			if port == "" || r.endpoints == nil {
				resolveErr = fmt.Errorf("cannot resolve %s in %s", match, key)
				return match
			}
			if !strings.Contains(port, "/") {
				port += "/tcp"
			}
			addr, err := r.endpoints.GetConnectionString(ctx, name, port)
			if err != nil {
				resolveErr = fmt.Errorf("resolving %s in %s: %w", match, key, err)
				return match
			}
			if kind == "port" {
				_, p, _ := strings.Cut(addr, ":")
				return p
			}
			return addr
		})
		if resolveErr != nil {
			return nil, resolveErr
		}
		env[key] = resolved
	}
	return env, nil
}

// streamLogs reads a pipe into the log buffer and the run's app log
func (r *Runner) streamLogs(wg *sync.WaitGroup, pipe io.Reader, source string) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		r.logMu.Lock()
		r.logLines = append(r.logLines, line)
		if len(r.logLines) > 100 {
			r.logLines = r.logLines[1:]
		}
		if r.logFile != nil {
			fmt.Fprintf(r.logFile, "[%s] %s\n", source, line)
		}
		r.logMu.Unlock()

		if r.showLogs {
			fmt.Printf("    │ %s\n", line)
		}
	}
}

// ReadyURL is the URL probed for readiness, empty when no check is configured
func (r *Runner) ReadyURL() string {
	if r.config.Ready == nil || r.config.BaseURL == "" {
		return ""
	}
	path := r.config.Ready.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(r.config.BaseURL, "/") + path
}

var errNotReady = errors.New("app not ready yet")

// WaitReady polls the ready URL until it returns the expected status
func (r *Runner) WaitReady(ctx context.Context) error {
	url := r.ReadyURL()
	if url == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.Ready.Timeout)
	defer cancel()

	var last error
	probe := func() error {
		if r.exited() {
			return backoff.Permanent(fmt.Errorf("app process exited: %s", strings.Join(r.GetRecentLogs(5), " | ")))
		}
		err := r.check(ctx, url)
		if err != nil && ctx.Err() == nil {
			last = err
		}
		return err
	}

	err := backoff.Retry(probe, backoff.WithContext(backoff.NewConstantBackOff(PollInterval), ctx))
	if err != nil && last != nil && !errors.Is(err, last) {
		return fmt.Errorf("%w (last probe: %v)", err, last)
	}
	if err == nil {
		log.Debug().Str("url", url).Msg("app ready")
	}
	return err
}

func (r *Runner) check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != r.config.Ready.Status {
		return fmt.Errorf("%w: status %d, expected %d", errNotReady, resp.StatusCode, r.config.Ready.Status)
	}
	return nil
}

func (r *Runner) exited() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Stop terminates the app process
func (r *Runner) Stop() error {
	defer func() {
		r.logMu.Lock()
		if r.logFile != nil {
			r.logFile.Close()
			r.logFile = nil
		}
		r.logMu.Unlock()
	}()

	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	if r.exited() {
		r.cmd = nil
		return nil
	}

	log.Debug().Int("pid", r.cmd.Process.Pid).Msg("stopping app process")
	if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Debug().Err(err).Msg("failed to send SIGTERM, trying SIGKILL")
		if err := r.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("killing app process: %w", err)
		}
	}

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		r.cmd.Process.Kill()
		<-r.done
	}

	r.cmd = nil
	return nil
}

// GetRecentLogs returns the most recent log lines
func (r *Runner) GetRecentLogs(n int) []string {
	r.logMu.Lock()
	defer r.logMu.Unlock()

	if n <= 0 || len(r.logLines) == 0 {
		return nil
	}

	start := len(r.logLines) - n
	if start < 0 {
		start = 0
	}

	result := make([]string, len(r.logLines)-start)
	copy(result, r.logLines[start:])
	return result
}
