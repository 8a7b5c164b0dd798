package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/cucumber/godog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tomatool/todospec/internal/browser"
	"github.com/tomatool/todospec/internal/config"
	"github.com/tomatool/todospec/internal/formatter"
	"github.com/tomatool/todospec/internal/page"
	"github.com/tomatool/todospec/internal/report"
	"github.com/tomatool/todospec/internal/runlog"
	"github.com/tomatool/todospec/internal/steps"
	"github.com/tomatool/todospec/internal/world"
)

// SuiteName prefixes every godog suite; the capability follows a slash
const SuiteName = "todospec"

// Options configures runner behavior
type Options struct {
	Format       string   // Override output format (e.g., "events" for structured events)
	Tags         string   // Override features.tags
	Paths        []string // Override features.paths
	Capabilities []string // Run only these capabilities
	Scenario     string   // Regex on scenario names

	// Output receives the stdout formatter, os.Stdout when nil
	Output io.Writer

	// BaseURL overrides the home page URL (app.browser_url, then app.base_url)
	BaseURL string
}

// Result is the outcome of one capability's suite
type Result struct {
	Capability string
	Status     int
	Results    string
	Duration   time.Duration
	Err        error
}

// Runner executes the feature files once per browser capability
type Runner struct {
	config        *config.Config
	driver        browser.Driver
	opts          Options
	runCtx        *runlog.RunContext
	scenarioRegex *regexp.Regexp

	// outMu serializes buffered suite output of parallel capabilities
	outMu sync.Mutex

	mu         sync.Mutex
	results    []Result
	reportPath string
}

// New creates a new test runner driving sessions opened by driver
func New(cfg *config.Config, driver browser.Driver, opts Options) (*Runner, error) {
	r := &Runner{
		config: cfg,
		driver: driver,
		opts:   opts,
	}

	if opts.Scenario != "" {
		log.Debug().Str("pattern", opts.Scenario).Msg("compiling scenario filter regex")
		regex, err := regexp.Compile(opts.Scenario)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario filter regex: %w", err)
		}
		r.scenarioRegex = regex
		log.Info().Str("pattern", opts.Scenario).Msg("scenario filter active")
	}

	if _, err := r.Capabilities(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetRunContext sets where failure screenshots are saved
func (r *Runner) SetRunContext(ctx *runlog.RunContext) {
	r.runCtx = ctx
}

// Capabilities returns the capabilities this run executes, in config order
func (r *Runner) Capabilities() ([]config.Capability, error) {
	if len(r.opts.Capabilities) == 0 {
		return r.config.Browser.Capabilities, nil
	}

	selected := make([]config.Capability, 0, len(r.opts.Capabilities))
	for _, name := range r.opts.Capabilities {
		c, ok := r.config.Capability(name)
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", name)
		}
		selected = append(selected, c)
	}
	return selected, nil
}

// Results returns the per-capability outcomes of the last Run
func (r *Runner) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result{}, r.results...)
}

// ReportPath returns the generated HTML report, empty if none was written
func (r *Runner) ReportPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reportPath
}

// Run executes all tests, one suite per capability, settings.parallel at a time
func (r *Runner) Run(ctx context.Context) error {
	caps, err := r.Capabilities()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.results = make([]Result, len(caps))
	r.reportPath = ""
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.config.Settings.Parallel, 1))

	for i, c := range caps {
		g.Go(func() error {
			res := r.runCapability(gctx, c)
			r.mu.Lock()
			r.results[i] = res
			r.mu.Unlock()
			// failures land in results; other capabilities keep running
			return nil
		})
	}
	g.Wait()

	var errs []error
	for _, res := range r.Results() {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}

	if r.config.Report.ShouldGenerate() {
		if err := r.generateReport(); err != nil {
			log.Warn().Err(err).Msg("failed to generate report")
		}
	}

	return errors.Join(errs...)
}

func (r *Runner) runCapability(ctx context.Context, c config.Capability) (res Result) {
	res = Result{
		Capability: c.Name,
		Results:    report.ResultsPath(r.config.Report.Results, c.Name),
	}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if err := os.MkdirAll(filepath.Dir(res.Results), 0755); err != nil {
		res.Err = fmt.Errorf("capability %s: creating results directory: %w", c.Name, err)
		return res
	}

	log.Debug().Str("capability", c.Name).Str("browser", c.Browser).Msg("opening browser session")
	sess, err := r.driver.NewSession(ctx, browser.Capability{
		Name:    c.Name,
		Browser: c.Browser,
		Version: c.Version,
		Options: c.Options,
	})
	if err != nil {
		res.Err = fmt.Errorf("capability %s: opening session: %w", c.Name, err)
		return res
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Str("capability", c.Name).Msg("failed to close browser session")
		}
	}()

	// Parallel suites are buffered and flushed whole. The events stream is
	// line-locked by its formatter and stays live.
	out := r.output()
	var buf bytes.Buffer
	buffered := r.config.Settings.Parallel > 1 && r.format() != formatter.Name
	if buffered {
		out = &buf
	}

	suite := r.suite(sess, c, res.Results, out)
	res.Status = suite.Run()
	if buffered {
		r.flush(c.Name, buf.Bytes())
	}
	log.Debug().Str("capability", c.Name).Int("status", res.Status).Msg("suite finished")

	if res.Status != 0 {
		res.Err = fmt.Errorf("capability %s: tests failed with status %d", c.Name, res.Status)
	}
	return res
}

func (r *Runner) output() io.Writer {
	if r.opts.Output != nil {
		return r.opts.Output
	}
	return os.Stdout
}

func (r *Runner) format() string {
	if r.opts.Format != "" {
		return r.opts.Format
	}
	return r.config.Settings.Output
}

func (r *Runner) flush(capability string, data []byte) {
	if len(data) == 0 {
		return
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	if _, err := r.output().Write(data); err != nil {
		log.Warn().Err(err).Str("capability", capability).Msg("failed to write suite output")
	}
}

func (r *Runner) suite(sess browser.Session, c config.Capability, results string, out io.Writer) godog.TestSuite {
	settle := page.Settle{
		Interval: r.config.Settings.Settle.Interval,
		Timeout:  r.config.Settings.Settle.Timeout,
	}
	home := page.NewHome(page.NewBase(sess, r.baseURL(), settle), sess, page.Locators{
		NewTodo: r.config.Locators.NewTodo,
		Items:   r.config.Locators.Items,
		Label:   r.config.Locators.Label,
	})

	defs := steps.New(home, steps.Options{
		Capability:  c.Name,
		Title:       r.config.App.Title,
		Parameters:  r.config.Parameters,
		Attach:      r.saveScreenshot(c.Name),
		StepTimeout: r.config.Settings.StepTimeout,
		Settle:      settle,
		Skip:        r.skipScenario,
	})

	tags := r.config.Features.Tags
	if r.opts.Tags != "" {
		tags = r.opts.Tags
	}
	paths := r.config.Features.Paths
	if len(r.opts.Paths) > 0 {
		paths = r.opts.Paths
	}

	return godog.TestSuite{
		Name: SuiteName + "/" + c.Name,
		ScenarioInitializer: defs.Register,
		Options: &godog.Options{
			Format:        r.format() + ",cucumber:" + results,
			Output:        out,
			Paths:         paths,
			Tags:          tags,
			StopOnFailure: r.config.Settings.FailFast,
			Strict:        true,
			Concurrency:   1,
		},
	}
}

func (r *Runner) baseURL() string {
	if r.opts.BaseURL != "" {
		return r.opts.BaseURL
	}
	return r.config.App.HomeURL()
}

// skipScenario reports scenarios whose name does not match --scenario
func (r *Runner) skipScenario(sc *godog.Scenario) bool {
	return r.scenarioRegex != nil && !r.scenarioRegex.MatchString(sc.Name)
}

// saveScreenshot stores failure screenshots in the run directory
func (r *Runner) saveScreenshot(capability string) world.AttachFunc {
	return func(ctx context.Context, body []byte, mediaType string) error {
		if r.runCtx == nil || mediaType != steps.MediaTypePNG {
			return nil
		}
		scenario := "scenario"
		if w, err := world.FromContext(ctx); err == nil {
			scenario = w.Scenario
		}
		path, err := r.runCtx.SaveScreenshot(capability, scenario, body)
		if err != nil {
			return err
		}
		log.Info().Str("capability", capability).Str("scenario", scenario).Str("path", path).Msg("saved failure screenshot")
		return nil
	}
}

func (r *Runner) generateReport() error {
	var files []string
	for _, res := range r.Results() {
		if _, err := os.Stat(res.Results); err == nil {
			files = append(files, res.Results)
		}
	}
	if len(files) == 0 {
		return nil
	}

	runs, err := report.Load(files...)
	if err != nil {
		return err
	}
	path, err := report.Generate(runs, r.config.Report.Dir, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.reportPath = path
	r.mu.Unlock()
	log.Info().Str("path", path).Msg("report generated")
	return nil
}
