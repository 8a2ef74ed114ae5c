package logging

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultConfig is a JSON production config without sampling, every engine log line is kept.
func DefaultConfig() zap.Config {
	logConf := zap.NewProductionConfig()
	logConf.Sampling = nil
	logConf.EncoderConfig.TimeKey = "time"
	logConf.EncoderConfig.LevelKey = "severity"
	logConf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConf.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	return logConf
}

// New builds a logger at the named level. Output goes to the given paths, stderr when none.
func New(level string, outputPaths ...string) (*zap.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logConf := DefaultConfig()
	logConf.Level = zap.NewAtomicLevelAt(l)
	if len(outputPaths) > 0 {
		logConf.OutputPaths = outputPaths
	}

	return logConf.Build()
}

// ParseLevel accepts zap level names in any case, or a numeric level.
func ParseLevel(l string) (zapcore.Level, error) {
	l = strings.ToLower(strings.TrimSpace(l))
	switch l {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "dpanic":
		return zapcore.DPanicLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		level, err := strconv.ParseInt(l, 10, 8)
		if err != nil {
			return 0, err
		}
		return zapcore.Level(level), nil
	}
}
