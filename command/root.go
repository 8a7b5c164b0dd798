package command

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/todospec/internal/version"
)

// DefaultConfig is the config file commands read unless -c is given
const DefaultConfig = "todospec.yml"

// configFlag is shared by every command that reads todospec.yml
func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   DefaultConfig,
		Usage:   "config file path",
	}
}

// NewApp builds the todospec CLI
func NewApp() *cli.App {
	return &cli.App{
		Name:    "todospec",
		Usage:   "Browser acceptance tests for the TodoMVC app",
		Version: version.Info().String(),
		Description: `todospec runs Gherkin scenarios against a TodoMVC app in one or more
browsers. The app, the browsers and any containers they need are described in
a single todospec.yml file.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env.file",
				Aliases: []string{"e"},
				Usage:   "environment variable file path",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"TODOSPEC_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "console",
				Usage: "log format (console, json)",
			},
		},
		Before: func(c *cli.Context) error {
			if envFile := c.String("env.file"); envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("loading env file: %w", err)
				}
			}
			return setupLogging(c.App.ErrWriter, c.String("log-level"), c.String("log-format"))
		},
		Commands: []*cli.Command{
			initCommand,
			runCommand,
			stepsCommand,
			docsCommand,
			validateCommand,
			reportCommand,
			uiCommand,
			versionCommand,
		},
	}
}

// Run executes the CLI with the given arguments
func Run(args []string) error {
	return NewApp().Run(args)
}

// setupLogging configures the global zerolog logger
func setupLogging(w io.Writer, level, format string) error {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)

	switch format {
	case "json":
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	case "console", "":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}
