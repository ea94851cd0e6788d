// Command tasksync keeps a project and task list in sync with a remote
// document store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/tasksync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", cli.ErrorCode(err), err)
		os.Exit(cli.GetExitCode(err))
	}
}
