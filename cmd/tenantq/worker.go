package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/UniQw/tenantq"
	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run workers for the built-in maintenance task types",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "concurrency", Usage: "overrides TENANTQ_CONCURRENCY"},
			&cli.BoolFlag{Name: "no-metrics", Usage: "do not serve /metrics"},
		},
		Action: runWorker,
	}
}

// cleanupPayload is the payload of a TaskCleanup task.
type cleanupPayload struct {
	// MaxAge is a Go duration; dead letters older than it are removed.
	MaxAge string `json:"max_age"`
}

func alertLogger(log tenantq.Logger) func(context.Context, *tenantq.DeadLetterTask) {
	return func(_ context.Context, rec *tenantq.DeadLetterTask) {
		log.Errorf("dead-letter alert id=%s tenant=%s type=%s severity=%s category=%s err=%s",
			rec.TaskID, rec.TenantID, rec.TaskType, rec.Severity, rec.Category, rec.ErrorMessage)
	}
}

func newMux(d *deps) *tenantq.Mux {
	mux := tenantq.NewMux()
	mux.Use(tenantq.Tracing())
	mux.Use(tenantq.Logging(d.log))
	mux.Handle(tenantq.TaskHealthCheck, func(ctx context.Context, _ []byte) error {
		return d.manager.Ping(ctx)
	})
	mux.Handle(tenantq.TaskCleanup, func(ctx context.Context, payload []byte) error {
		info, _ := tenantq.GetTaskInfo(ctx)
		p := cleanupPayload{MaxAge: "168h"}
		if len(payload) > 0 && string(payload) != "null" {
			if err := sonic.Unmarshal(payload, &p); err != nil {
				return errors.Join(fmt.Errorf("decode cleanup payload: %w", err), tenantq.ErrSkipRetry)
			}
		}
		maxAge, err := time.ParseDuration(p.MaxAge)
		if err != nil {
			return errors.Join(fmt.Errorf("invalid max_age: %w", err), tenantq.ErrSkipRetry)
		}
		n, err := d.manager.DeadLetters().CleanupOldTasks(ctx, info.TenantID, maxAge)
		if err != nil {
			return err
		}
		return tenantq.SetResult(ctx, map[string]int{"removed": n})
	})
	return mux
}

func runWorker(c *cli.Context) error {
	d, err := newDeps(c)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.manager.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", d.cfg.RedisAddr, err)
	}
	if err := d.manager.LoadScripts(ctx); err != nil {
		return err
	}

	concurrency := d.cfg.Concurrency
	if c.IsSet("concurrency") {
		concurrency = c.Int("concurrency")
	}
	srv := tenantq.NewServer(d.manager, tenantq.ServerConfig{
		Concurrency:        concurrency,
		WorkerID:           d.cfg.WorkerID,
		TenantID:           d.cfg.TenantID,
		DequeueTimeout:     d.cfg.DequeueTimeout,
		DequeueRate:        d.cfg.DequeueRate,
		DequeueBurst:       d.cfg.DequeueBurst,
		CancelPollInterval: d.cfg.CancelPoll,
		StaleAfter:         d.cfg.StaleAfter,
		SweepInterval:      d.cfg.SweepInterval,
		AutoRetryInterval:  d.cfg.AutoRetryInterval,
		Logger:             d.log,
	}, newMux(d))

	var httpSrv *http.Server
	if !c.Bool("no-metrics") && d.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		httpSrv = &http.Server{Addr: d.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.log.Errorf("metrics server failed addr=%s err=%v", d.cfg.MetricsAddr, err)
			}
		}()
		if d.cfg.MetricsInterval > 0 {
			go d.metrics.Run(ctx, d.manager, d.cfg.MetricsInterval, d.log)
		}
	}

	srv.Start()
	d.log.Infof("worker started redis=%s namespace=%q concurrency=%d metrics=%s",
		d.cfg.RedisAddr, d.cfg.Namespace, concurrency, d.cfg.MetricsAddr)
	<-ctx.Done()
	srv.Stop()
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
	}
	return nil
}
