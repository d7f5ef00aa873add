package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a zap.Logger from LoggingOptions: JSON to stdout by
// default, or a size/age-rotated file via lumberjack when Output names a
// path instead of "stdout"/"stderr".
func NewLogger(opts LoggingOptions) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	writeSyncer, err := writeSyncerFor(opts)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: logger sink: %w", err)
	}

	level, err := levelFor(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: logger level: %w", err)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writeSyncer, level)
	return zap.New(core, zap.AddCaller()), nil
}

func writeSyncerFor(opts LoggingOptions) (zapcore.WriteSyncer, error) {
	switch opts.Output {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		if dir := filepath.Dir(opts.Output); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		lumber := &lumberjack.Logger{
			Filename:   opts.Output,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		return zapcore.AddSync(lumber), nil
	}
}

func levelFor(level string) (zapcore.Level, error) {
	switch level {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown level %q", level)
	}
}

// DebugSink adapts a zap.Logger to core.DebugWriter, so the bus engine's
// diagnostics and trace dumps flow through the same structured logger as
// everything else in the process.
func DebugSink(logger *zap.Logger) func(string) {
	return func(msg string) {
		logger.Debug(msg)
	}
}
