// Command pipeline is the command-line front end: exec, query, init,
// migrate, inspect, and backup against SQLite databases through the
// serialized queue layer.
package main

import (
	"fmt"
	"os"

	"github.com/wildthink/pipeline/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
