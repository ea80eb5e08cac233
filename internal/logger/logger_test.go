package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOperation_NoSpanWhenTracingOff(t *testing.T) {
	ctx := context.Background()
	op := StartOperation(ctx, "eod.summary", "venue", "shoonya")

	assert.Equal(t, ctx, op.GetContext())
	assert.Nil(t, op.span)
	assert.NotPanics(t, func() { op.End("path", "x.json") })
}

func TestInitWithConfig_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tradedesk.log")
	prev := slog.Default()
	require.NoError(t, InitWithConfig(LogConfig{Level: "INFO", Format: "json", File: path, FileMaxSizeMB: 1}))
	t.Cleanup(func() {
		fileSink = nil
		globalLogger = prev
		slog.SetDefault(prev)
	})

	Info(context.Background(), "hello", "k", "v")
	require.NoError(t, Shutdown(context.Background()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
	assert.Contains(t, string(b), `"k":"v"`)
}
