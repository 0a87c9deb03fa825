// Command tenantq runs queue workers and inspects queues, dead letters and
// rate limits stored in Redis.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "tenantq",
		Usage: "multi-tenant priority task queue on Redis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load settings from this .env file instead of ./.env",
			},
		},
		Commands: []*cli.Command{
			WorkerCommand(),
			EnqueueCommand(),
			StatsCommand(),
			SweepCommand(),
			DeadLetterCommand(),
			RateLimitCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
