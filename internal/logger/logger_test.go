package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		" FATAL ": zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestContextLogger checks that named loggers travel through the context.
func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx := ToContext(context.Background(), New(zapcore.InfoLevel, &buf))
	ctx = WithName(ctx, "builder")
	ctx = WithKV(ctx, "run_id", "abc")

	InfoKV(ctx, "Mounted image", "path", "/tmp/x.dmg")

	out := buf.String()
	require.Contains(t, out, "builder")
	require.Contains(t, out, "Mounted image")
	require.Contains(t, out, "abc")
}

// TestFromContext_FallsBackToGlobal ensures a bare context yields the global logger.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestWithDebug ensures debug messages pass even when the base logger is at info.
func TestWithDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx := ToContext(context.Background(), New(zapcore.InfoLevel, &buf))

	Debug(ctx, "hidden")
	require.NotContains(t, buf.String(), "hidden")

	Debug(WithDebug(ctx), "visible")
	require.Contains(t, buf.String(), "visible")
}

// TestNewAudit writes an audit record and checks it lands in the log directory.
func TestNewAudit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	audit, closer := NewAudit(dir)
	ctx := AuditToContext(context.Background(), audit)

	Audit(ctx).Infow("Signature verification passed", "path", "/Applications/Foo.app")
	require.NoError(t, closer.Close())

	contents, err := os.ReadFile(filepath.Join(dir, AuditFilename))
	require.NoError(t, err)
	require.Contains(t, string(contents), "Signature verification passed")
}

// TestNewAudit_EmptyDir returns a no-op logger that is safe to use.
func TestNewAudit_EmptyDir(t *testing.T) {
	t.Parallel()

	audit, closer := NewAudit("")
	audit.Infow("ignored")
	require.NoError(t, closer.Close())
	require.NotNil(t, Audit(context.Background()))
}
