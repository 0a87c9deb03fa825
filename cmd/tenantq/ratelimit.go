package main

import (
	"time"

	"github.com/UniQw/tenantq"
	"github.com/urfave/cli/v2"
)

var limitFlags = []cli.Flag{
	&cli.StringFlag{Name: "subject", Value: "tenant", Usage: "subject type, e.g. tenant, user, api_key"},
	&cli.StringFlag{Name: "id", Required: true, Usage: "subject identifier"},
	&cli.IntFlag{Name: "limit", Value: 100},
	&cli.DurationFlag{Name: "window", Value: time.Minute},
	&cli.BoolFlag{Name: "sliding", Usage: "use the sliding-window algorithm"},
}

func limitConfig(c *cli.Context) tenantq.RateLimitConfig {
	cfg := tenantq.RateLimitConfig{RequestsPerWindow: c.Int("limit"), Window: c.Duration("window")}
	if c.Bool("sliding") {
		cfg.Algorithm = tenantq.SlidingWindow
	}
	return cfg
}

func RateLimitCommand() *cli.Command {
	return &cli.Command{
		Name:  "ratelimit",
		Usage: "Inspect and reset rate limits",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Consume one unit, as a request would",
				Flags: append([]cli.Flag{&cli.IntFlag{Name: "cost", Value: 1}}, limitFlags...),
				Action: func(c *cli.Context) error {
					d, err := newDeps(c)
					if err != nil {
						return err
					}
					defer d.close()
					rl := tenantq.NewRateLimiter(d.factory, tenantq.WithLimiterLogger(d.log), tenantq.WithLimiterObserver(d.metrics))
					res, err := rl.Check(c.Context, c.String("subject"), c.String("id"), limitConfig(c), c.Int("cost"))
					if err != nil && !res.FailOpen {
						return err
					}
					return printJSON(res)
				},
			},
			{
				Name:  "status",
				Flags: limitFlags,
				Action: func(c *cli.Context) error {
					d, err := newDeps(c)
					if err != nil {
						return err
					}
					defer d.close()
					res, err := tenantq.NewRateLimiter(d.factory).Status(c.Context, c.String("subject"), c.String("id"), limitConfig(c))
					if err != nil {
						return err
					}
					return printJSON(res)
				},
			},
			{
				Name:  "reset",
				Flags: limitFlags,
				Action: func(c *cli.Context) error {
					d, err := newDeps(c)
					if err != nil {
						return err
					}
					defer d.close()
					ok, err := tenantq.NewRateLimiter(d.factory).Reset(c.Context, c.String("subject"), c.String("id"), c.Duration("window"))
					if err != nil {
						return err
					}
					return printJSON(map[string]bool{"reset": ok})
				},
			},
			{
				Name: "metrics",
				Action: func(c *cli.Context) error {
					d, err := newDeps(c)
					if err != nil {
						return err
					}
					defer d.close()
					m, err := tenantq.NewRateLimiter(d.factory).Metrics(c.Context)
					if err != nil {
						return err
					}
					return printJSON(m)
				},
			},
		},
	}
}
