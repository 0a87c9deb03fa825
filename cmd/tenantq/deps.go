package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/UniQw/tenantq"
	"github.com/UniQw/tenantq/internal/config"
	"github.com/UniQw/tenantq/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

// deps holds everything a command needs; close releases it.
type deps struct {
	cfg     config.Config
	rdb     *redis.Client
	log     *tenantq.ZapLogger
	factory *tenantq.ConnFactory
	manager *tenantq.Manager
	metrics *metrics.Observer
}

func newDeps(c *cli.Context) (*deps, error) {
	var files []string
	if f := c.String("env-file"); f != "" {
		files = append(files, f)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	log, err := tenantq.NewZapDevelopmentLogger(cfg.DevMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	f := tenantq.NewConnFactory(rdb, tenantq.WithNamespace(cfg.Namespace))
	obs := metrics.New(prometheus.DefaultRegisterer)
	m := tenantq.NewManager(f,
		tenantq.WithLogger(log),
		tenantq.WithObserver(obs),
		tenantq.WithBackoff(cfg.BackoffBase, cfg.BackoffMax),
		tenantq.WithRetention(cfg.Retention),
		tenantq.WithDeadLetterOptions(
			tenantq.WithAutoRetry(cfg.AutoRetryMax, cfg.AutoRetryCooldown),
			tenantq.WithAlert(alertLogger(log)),
		),
	)
	return &deps{cfg: cfg, rdb: rdb, log: log, factory: f, manager: m, metrics: obs}, nil
}

func (d *deps) close() {
	_ = d.rdb.Close()
	_ = d.log.Sync()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
