// Command projtrack tracks text-file projects over a self-healing SQLite
// index.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/projtrack/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands that return an ExitError have already reported it.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
