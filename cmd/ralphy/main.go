// Command ralphy is a thin CLI wrapper around the execution kernel: it
// loads a task source, drives tasks through the queue and state manager,
// and reports final stats. The CLI argument surface and configuration
// loading are intentionally minimal; real prompt composition, git
// worktree management, and UI rendering live outside this module.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"
)

var version = "dev"

func main() {
	c := cli.NewCLI("ralphy", version)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) { return &RunCommand{}, nil },
	}

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitStatus)
}
