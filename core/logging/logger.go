// Package logging builds the zap.SugaredLogger used throughout the engine,
// worker pool, reaper and handlers in place of the source's bare log
// package calls, with file output rotated through lumberjack the way
// grand-thief-cash-chaos's logging component does it.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger; fields mirror config.Config's log_* keys.
type Options struct {
	Level  string // debug|info|warn|error
	Output string // stdout|stderr|file
	Dir    string // directory for rotated files when Output == "file"
	Env    string // development enables console encoding, else JSON
}

// New builds a *zap.SugaredLogger per Options. Callers should defer Sync().
func New(opts Options) (*zap.SugaredLogger, error) {
	level := parseLevel(opts.Level)

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "ts"
	if opts.Env == "development" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink, err := writeSyncer(opts)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, sink, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return logger.Sugar(), nil
}

func writeSyncer(opts Options) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		return zapcore.Lock(zapcore.AddSync(os.Stdout)), nil
	case "stderr":
		return zapcore.Lock(zapcore.AddSync(os.Stderr)), nil
	case "file":
		dir := opts.Dir
		if dir == "" {
			dir = "."
		}
		rotator := &lumberjack.Logger{
			Filename:   dir + "/fast-server.log",
			MaxSize:    100, // MB
			MaxAge:     14,  // days
			MaxBackups: 5,
			Compress:   true,
			LocalTime:  true,
		}
		return zapcore.AddSync(rotator), nil
	default:
		return zapcore.Lock(zapcore.AddSync(os.Stdout)), nil
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
