package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

var tenantFlag = &cli.StringFlag{Name: "tenant", Required: true}

func DeadLetterCommand() *cli.Command {
	return &cli.Command{
		Name:  "dlq",
		Usage: "Inspect and manage a tenant's dead-letter queue",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Flags: []cli.Flag{tenantFlag, &cli.IntFlag{Name: "limit", Value: 100}},
				Action: func(c *cli.Context) error {
					d, err := newDeps(c)
					if err != nil {
						return err
					}
					defer d.close()
					recs, err := d.manager.DeadLetters().List(c.Context, c.String("tenant"), c.Int("limit"))
					if err != nil {
						return err
					}
					return printJSON(recs)
				},
			},
			{
				Name:      "retry",
				ArgsUsage: "<task-id>",
				Flags:     []cli.Flag{tenantFlag},
				Action: func(c *cli.Context) error {
					return withTaskID(c, func(d *deps, id string) error {
						ok, err := d.manager.DeadLetters().Retry(c.Context, c.String("tenant"), id)
						if err != nil {
							return err
						}
						if !ok {
							return fmt.Errorf("no dead letter %s for tenant %s", id, c.String("tenant"))
						}
						fmt.Println("retried", id)
						return nil
					})
				},
			},
			{
				Name:      "remove",
				ArgsUsage: "<task-id>",
				Flags:     []cli.Flag{tenantFlag},
				Action: func(c *cli.Context) error {
					return withTaskID(c, func(d *deps, id string) error {
						ok, err := d.manager.DeadLetters().Remove(c.Context, c.String("tenant"), id)
						if err != nil {
							return err
						}
						fmt.Println("removed:", ok)
						return nil
					})
				},
			},
			{
				Name:  "stats",
				Flags: []cli.Flag{tenantFlag},
				Action: func(c *cli.Context) error {
					d, err := newDeps(c)
					if err != nil {
						return err
					}
					defer d.close()
					s, err := d.manager.DeadLetters().GetStatistics(c.Context, c.String("tenant"))
					if err != nil {
						return err
					}
					return printJSON(s)
				},
			},
			{
				Name:  "cleanup",
				Flags: []cli.Flag{tenantFlag, &cli.DurationFlag{Name: "max-age", Value: 7 * 24 * time.Hour}},
				Action: func(c *cli.Context) error {
					d, err := newDeps(c)
					if err != nil {
						return err
					}
					defer d.close()
					n, err := d.manager.DeadLetters().CleanupOldTasks(c.Context, c.String("tenant"), c.Duration("max-age"))
					if err != nil {
						return err
					}
					fmt.Printf("removed %d\n", n)
					return nil
				},
			},
		},
	}
}

func withTaskID(c *cli.Context, fn func(d *deps, id string) error) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("task id argument required")
	}
	d, err := newDeps(c)
	if err != nil {
		return err
	}
	defer d.close()
	return fn(d, id)
}
