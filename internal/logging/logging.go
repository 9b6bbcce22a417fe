// Package logging holds the process-wide structured logger.
//
// The logger is a no-op until Initialize is called, so library code can log
// unconditionally without the caller having to opt in.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance.
	Logger *zap.SugaredLogger
	// JSONOutput reports whether the last Initialize selected JSON encoding.
	JSONOutput bool
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Verbosity levels for CLI flag counts (-v, -vv).
const (
	VerbosityQuiet = 0
	VerbosityInfo  = 1
	VerbosityDebug = 2
)

// VerbosityToLevel maps a -v flag count to a zap level.
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityQuiet:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Initialize replaces the global logger. Console output goes to stderr so
// that command output on stdout stays machine readable.
func Initialize(jsonOutput bool, level zapcore.Level) error {
	return InitializeWriter(os.Stderr, jsonOutput, level)
}

// InitializeWriter is Initialize with an explicit sink.
func InitializeWriter(w io.Writer, jsonOutput bool, level zapcore.Level) error {
	JSONOutput = jsonOutput

	var enc zapcore.Encoder
	if jsonOutput {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.TimeKey = ""
		cfg.CallerKey = ""
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	Logger = zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)).Sugar()
	return nil
}

// ParseLevel turns a config string ("debug", "info", "warn", "error") into a
// zap level, defaulting to warn.
func ParseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.WarnLevel
	}
	return lvl
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = Logger.Sync()
}
