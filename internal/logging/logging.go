// Package logging builds the process logger: a console core, teed with a
// rotated log file when one is configured.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	File    string // empty disables file output
	Level   string // debug, info, warn, error
	Console io.Writer
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
		EncodeName:    zapcore.FullNameEncoder,
	}
}

func New(opts Options) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	enc := zapcore.NewConsoleEncoder(encoderConfig())
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(console), level)}
	if opts.File != "" {
		// 10MB per file, 3 backups, a week of history.
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(lj), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar(), nil
}
