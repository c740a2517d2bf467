// Package main provides the workflow server: HTTP API, runtime, trigger indexing and cron scheduling.
package main

import (
	"context"
	"os"

	"github.com/novotx/elsa-core/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("elsa-server")

	cmd := &cli.Command{
		Name:                  "elsa-server",
		Usage:                 "Run, resume and schedule workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunServerCommand(),
			ReindexCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
