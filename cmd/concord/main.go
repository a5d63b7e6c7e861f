// Command concord compiles document schemas and hosts replicas of stored
// documents.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/concord/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
