package logger

import (
	"context"
	"io"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// AuditFilename is the name of the audit log inside the log directory.
	AuditFilename = "carrus_audit.log"

	auditMaxSizeMB  = 10
	auditMaxBackups = 5
	auditMaxAgeDays = 90
)

type auditKey struct{}

// NewAudit returns a logger appending JSON lines to AuditFilename in logDir,
// rotated by lumberjack. An empty logDir yields a no-op logger.
// The returned closer releases the log file.
func NewAudit(logDir string) (*zap.SugaredLogger, io.Closer) {
	if logDir == "" {
		return zap.NewNop().Sugar(), io.NopCloser(nil)
	}

	sink := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, AuditFilename),
		MaxSize:    auditMaxSizeMB,
		MaxBackups: auditMaxBackups,
		MaxAge:     auditMaxAgeDays,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(sink),
		zapcore.InfoLevel,
	)

	return zap.New(core).Named("audit").Sugar(), sink
}

// AuditToContext stores the audit logger in ctx.
func AuditToContext(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, auditKey{}, l)
}

// Audit returns the audit logger stored in ctx, or a no-op logger.
func Audit(ctx context.Context) *zap.SugaredLogger {
	if ctx != nil {
		if l, ok := ctx.Value(auditKey{}).(*zap.SugaredLogger); ok && l != nil {
			return l
		}
	}

	return zap.NewNop().Sugar()
}
