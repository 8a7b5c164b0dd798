package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cucumber/godog/colors"

	"github.com/tomatool/todospec/command"
)

func main() {
	os.Exit(run(os.Args, colors.Colored(os.Stderr)))
}

func run(args []string, stderr io.Writer) int {
	if err := command.Run(args); err != nil {
		fmt.Fprintf(stderr, "%v\n", colors.Bold(colors.Red)(err))
		return 1
	}
	return 0
}
