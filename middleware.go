package tenantq

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/UniQw/tenantq"

// Logging logs the start and outcome of every task.
func Logging(l Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, payload []byte) error {
			info, _ := GetTaskInfo(ctx)
			start := time.Now()
			l.Debugf("task start id=%s tenant=%s type=%s attempt=%d", info.ID, info.TenantID, info.Type, info.Attempts+1)
			err := next(ctx, payload)
			if err != nil {
				l.Warnf("task error id=%s tenant=%s type=%s took=%s err=%v", info.ID, info.TenantID, info.Type, time.Since(start), err)
				return err
			}
			l.Infof("task done id=%s tenant=%s type=%s took=%s", info.ID, info.TenantID, info.Type, time.Since(start))
			return nil
		}
	}
}

// Tracing wraps each task in a span from the global tracer provider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps each task in a span from tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, payload []byte) error {
			info, _ := GetTaskInfo(ctx)
			ctx, span := tracer.Start(ctx, "tenantq.task.process",
				trace.WithAttributes(
					attribute.String("tenantq.task.id", info.ID),
					attribute.String("tenantq.task.type", string(info.Type)),
					attribute.String("tenantq.tenant.id", info.TenantID),
					attribute.String("tenantq.correlation_id", info.CorrelationID),
					attribute.Int("tenantq.attempts", info.Attempts),
				),
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()

			err := next(ctx, payload)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		}
	}
}
