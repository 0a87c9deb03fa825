package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/UniQw/tenantq"
	"github.com/urfave/cli/v2"
)

func EnqueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "enqueue",
		Usage: "Enqueue a task",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Required: true},
			&cli.StringFlag{Name: "type", Required: true},
			&cli.StringFlag{Name: "payload", Value: "null", Usage: "JSON payload"},
			&cli.StringFlag{Name: "priority", Value: "normal", Usage: "low, normal, high, critical, urgent or 1..5"},
			&cli.IntFlag{Name: "max-attempts", Value: 3},
			&cli.DurationFlag{Name: "delay"},
			&cli.StringFlag{Name: "id"},
			&cli.StringFlag{Name: "correlation-id"},
		},
		Action: func(c *cli.Context) error {
			d, err := newDeps(c)
			if err != nil {
				return err
			}
			defer d.close()
			payload := json.RawMessage(c.String("payload"))
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}
			prio, err := tenantq.ParsePriority(c.String("priority"))
			if err != nil {
				return err
			}
			opts := []tenantq.EnqueueOption{
				tenantq.WithPriority(prio),
				tenantq.WithMaxAttempts(c.Int("max-attempts")),
				tenantq.Delay(c.Duration("delay")),
			}
			if id := c.String("id"); id != "" {
				opts = append(opts, tenantq.WithTaskID(id))
			}
			if cid := c.String("correlation-id"); cid != "" {
				opts = append(opts, tenantq.WithCorrelationID(cid))
			}
			id, err := d.manager.Enqueue(c.Context, tenantq.TaskType(c.String("type")), c.String("tenant"), payload, opts...)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print queue depth and counters per task type",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "only this task type"},
		},
		Action: func(c *cli.Context) error {
			d, err := newDeps(c)
			if err != nil {
				return err
			}
			defer d.close()
			if t := c.String("type"); t != "" {
				s, err := d.manager.GetQueueStats(c.Context, tenantq.TaskType(t))
				if err != nil {
					return err
				}
				return printJSON(s)
			}
			s, err := d.manager.GetAllQueueStats(c.Context)
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
}

func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Reclaim tasks whose lease is older than --max-age",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "max-age", Value: 5 * time.Minute},
		},
		Action: func(c *cli.Context) error {
			d, err := newDeps(c)
			if err != nil {
				return err
			}
			defer d.close()
			n, err := d.manager.CleanupExpiredTasks(c.Context, c.Duration("max-age"))
			if err != nil {
				return err
			}
			fmt.Printf("reclaimed %d\n", n)
			return nil
		},
	}
}
