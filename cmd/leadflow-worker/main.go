package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "leadflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Resume delayed enrollments and evaluate stage transitions from lead events",
		Commands: []*cli.Command{
			RunCommand(),
			PublishCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}
