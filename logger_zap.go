package tenantq

import "go.uber.org/zap"

// ZapLogger adapts a *zap.Logger to Logger using its sugared API.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger wraps l. Callers are reported one frame up so the caller is
// the library code that logged, not this adapter.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// NewZapDevelopmentLogger builds a development (debug level, console) logger,
// or a production (info level, JSON) one.
func NewZapDevelopmentLogger(development bool) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l), nil
}

func (z *ZapLogger) Debugf(template string, args ...any) { z.sugar.Debugf(template, args...) }
func (z *ZapLogger) Infof(template string, args ...any)  { z.sugar.Infof(template, args...) }
func (z *ZapLogger) Warnf(template string, args ...any)  { z.sugar.Warnf(template, args...) }
func (z *ZapLogger) Errorf(template string, args ...any) { z.sugar.Errorf(template, args...) }

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error { return z.sugar.Sync() }
