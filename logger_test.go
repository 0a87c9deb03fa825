package tenantq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Debugf("dequeued id=%s", "t1")
	l.Infof("started workers=%d", 2)
	l.Warnf("retry id=%s", "t2")
	l.Errorf("dead-letter failed err=%v", "boom")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "dequeued id=t1", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "dead-letter failed err=boom", entries[3].Message)
}

func TestZapLogger_LevelFilter(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := NewZapLogger(zap.New(core))
	l.Debugf("x")
	l.Infof("y")
	l.Warnf("z")
	assert.Equal(t, 1, logs.Len())
}

func TestNoopLogger_NoPanic(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Debugf("a")
	l.Infof("b")
	l.Warnf("c")
	l.Errorf("d")
}
