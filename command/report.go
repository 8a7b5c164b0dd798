package command

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tomatool/todospec/internal/config"
	"github.com/tomatool/todospec/internal/report"
)

var reportCommand = &cli.Command{
	Name:  "report",
	Usage: "Build the HTML report from cucumber results files",
	Flags: []cli.Flag{
		configFlag(),
		&cli.StringSliceFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "results file (repeatable, defaults to report.results of every capability)",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "report directory (defaults to report.dir)",
		},
		&cli.StringFlag{
			Name:  "title",
			Usage: "report title",
		},
	},
	Action: runReport,
}

func runReport(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	inputs := c.StringSlice("input")
	if len(inputs) == 0 {
		inputs, err = report.Glob(cfg.Report.Results)
		if err != nil {
			return fmt.Errorf("listing results: %w", err)
		}
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no results files next to %s, run 'todospec run' first", cfg.Report.Results)
	}

	out := cfg.Report.Dir
	if c.IsSet("out") {
		out = c.String("out")
	}

	runs, err := report.Load(inputs...)
	if err != nil {
		return err
	}
	log.Debug().Strs("inputs", inputs).Str("dir", out).Msg("generating report")

	path, err := report.Generate(runs, out, c.String("title"))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%s %s\n", successStyle.Render("✓ Report:"), path)
	return nil
}
