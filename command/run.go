package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/todospec/internal/apprunner"
	"github.com/tomatool/todospec/internal/browser"
	"github.com/tomatool/todospec/internal/config"
	"github.com/tomatool/todospec/internal/container"
	"github.com/tomatool/todospec/internal/runlog"
	"github.com/tomatool/todospec/internal/runner"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run the feature files in every configured browser",
	Flags: []cli.Flag{
		configFlag(),
		&cli.StringFlag{
			Name:    "tags",
			Aliases: []string{"t"},
			Usage:   "tag expression, e.g. @home && ~@wip",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "output format (pretty, progress, events, ...)",
		},
		&cli.StringSliceFlag{
			Name:  "capability",
			Usage: "run only the named capability (repeatable)",
		},
		&cli.StringFlag{
			Name:    "scenario",
			Aliases: []string{"s"},
			Usage:   "regex on scenario names",
		},
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "capabilities run at once (overrides settings.parallel)",
		},
		&cli.BoolFlag{
			Name:  "fail-fast",
			Usage: "stop a capability at its first failed scenario",
		},
		&cli.StringFlag{
			Name:  "base-url",
			Usage: "override app.base_url",
		},
		&cli.BoolFlag{
			Name:  "app-logs",
			Usage: "echo the app command's output",
		},
	},
	Action: runRun,
}

func runRun(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyRunFlags(c, cfg)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, err := runlog.New(runlog.DefaultRoot)
	if err != nil {
		return err
	}
	log.Debug().Str("dir", runCtx.Dir).Msg("run directory created")

	var cm *container.Manager
	if len(cfg.Containers) > 0 {
		if err := container.CheckDockerAvailable(); err != nil {
			return err
		}
		cm, err = container.NewManager(cfg.Containers)
		if err != nil {
			return err
		}
		cm.SetRunContext(runCtx)
		defer cm.Cleanup()

		log.Info().Strs("containers", cm.Order()).Msg("starting containers")
		if err := cm.StartAll(ctx); err != nil {
			return err
		}
	}

	remoteURL, err := browserEndpoint(ctx, cfg, cm)
	if err != nil {
		return err
	}

	var endpoints apprunner.Endpoints
	if cm != nil {
		endpoints = cm
	}
	app := apprunner.NewRunner(cfg.App, endpoints)
	app.SetRunContext(runCtx)
	app.SetShowLogs(c.Bool("app-logs"))
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Stop()

	driver, err := browser.New(cfg.Browser.Driver, browser.Options{
		RemoteURL: remoteURL,
		Headless:  cfg.Browser.IsHeadless(),
		Args:      cfg.Browser.Args,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := driver.Close(); err != nil {
			log.Warn().Err(err).Str("driver", driver.Name()).Msg("failed to close browser driver")
		}
	}()

	r, err := runner.New(cfg, driver, runner.Options{
		Format:       c.String("format"),
		Tags:         c.String("tags"),
		Paths:        c.Args().Slice(),
		Capabilities: c.StringSlice("capability"),
		Scenario:     c.String("scenario"),
		BaseURL:      c.String("base-url"),
	})
	if err != nil {
		return err
	}
	r.SetRunContext(runCtx)

	runErr := r.Run(ctx)
	printResults(c.App.Writer, r, runCtx)

	if runErr != nil && cfg.App.IsConfigured() {
		if lines := app.GetRecentLogs(10); len(lines) > 0 {
			log.Info().Strs("lines", lines).Msg("recent app output")
		}
	}
	return runErr
}

func applyRunFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("parallel") {
		cfg.Settings.Parallel = c.Int("parallel")
	}
	if c.IsSet("fail-fast") {
		cfg.Settings.FailFast = c.Bool("fail-fast")
	}
}

// browserEndpoint resolves the remote browser URL, preferring the configured
// browser container over browser.remote_url
func browserEndpoint(ctx context.Context, cfg *config.Config, cm *container.Manager) (string, error) {
	if cfg.Browser.Container == "" || cm == nil {
		return cfg.Browser.RemoteURL, nil
	}
	url, err := cm.Endpoint(ctx, cfg.Browser.Container, "http", cfg.Browser.RemotePath)
	if err != nil {
		return "", fmt.Errorf("resolving browser endpoint: %w", err)
	}
	log.Debug().Str("url", url).Msg("using browser container")
	return url, nil
}

func printResults(w io.Writer, r *runner.Runner, runCtx *runlog.RunContext) {
	fmt.Fprintln(w)
	for _, res := range r.Results() {
		status := successStyle.Render("✓ passed")
		if res.Err != nil {
			status = errorStyle.Render("✗ failed")
		}
		fmt.Fprintf(w, "  %-12s %s  %s\n", res.Capability, status, res.Duration.Round(time.Millisecond))
	}
	if path := r.ReportPath(); path != "" {
		fmt.Fprintf(w, "\n  Report: %s\n", path)
	}
	fmt.Fprintf(w, "  Run:    %s\n", runCtx.Dir)
}
