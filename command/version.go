package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tomatool/todospec/internal/version"
)

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Action: func(c *cli.Context) error {
		info := version.Info()
		fmt.Fprintf(c.App.Writer, "todospec version %s\n", info.Version)
		fmt.Fprintf(c.App.Writer, "  Commit:     %s\n", info.Commit)
		fmt.Fprintf(c.App.Writer, "  Built:      %s\n", info.BuildDate)
		fmt.Fprintf(c.App.Writer, "  Go version: %s\n", info.GoVersion)
		fmt.Fprintf(c.App.Writer, "  OS/Arch:    %s\n", info.Platform)
		return nil
	},
}
