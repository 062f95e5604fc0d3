// Package observability owns the process-wide zap loggers.
package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by CLI commands. It is a no-op logger until
// InitCLILogger runs so packages can log unconditionally.
var CLILogger = zap.NewNop()

// ServerLogger is the logger used by the HTTP server and the job runner
// when running under `serve`.
var ServerLogger = zap.NewNop()

// InitCLILogger configures CLILogger for interactive use. Output goes to
// stderr so command results on stdout stay machine-readable.
func InitCLILogger(name string, verbose bool) {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.CallerKey = ""
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		CLILogger = zap.NewNop()
		return
	}
	CLILogger = logger.Named(name)
}

// InitServerLogger configures ServerLogger.
//
// Profile "structured" (the default) emits JSON lines; "console" emits the
// human-readable development encoding.
func InitServerLogger(name, level, profile string) error {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "console", "dev", "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	ServerLogger = logger.Named(name)
	return nil
}

// Sync flushes both loggers, ignoring the EINVAL that stderr returns on
// some platforms.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}
