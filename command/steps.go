package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tomatool/todospec/internal/steps"
)

var stepsCommand = &cli.Command{
	Name:  "steps",
	Usage: "List available Gherkin steps",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "filter",
			Aliases: []string{"f"},
			Usage:   "Filter steps by keyword",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output in JSON format",
		},
	},
	Action: runSteps,
}

func runSteps(ctx *cli.Context) error {
	out := ctx.App.Writer
	categories := steps.Filter(steps.Catalog(), ctx.String("filter"))

	if ctx.Bool("json") {
		output, err := json.MarshalIndent(categories, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(out, string(output))
		return nil
	}

	for _, cat := range categories {
		fmt.Fprintf(out, "\n\033[1;36m%s\033[0m\n", cat.Name)
		fmt.Fprintf(out, "\033[90m%s\033[0m\n\n", cat.Description)

		for _, step := range cat.Steps {
			fmt.Fprintf(out, "  \033[1m%s\033[0m\n", step.Description)
			fmt.Fprintf(out, "  \033[33m%s %s\033[0m\n", step.Keyword, step.Pattern)

			// Show first line of example
			exampleLines := strings.Split(step.Example, "\n")
			fmt.Fprintf(out, "  \033[90mExample: %s\033[0m\n\n", exampleLines[0])
		}
	}

	return nil
}
