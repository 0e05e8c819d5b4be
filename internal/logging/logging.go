// Package logging builds the shared *zap.Logger: a console core plus,
// when enabled, a JSON core rotated through lumberjack — the same
// zapcore+lumberjack pairing used elsewhere in the retrieval pack.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/config"
)

// New builds the logger described by cfg.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	consoleLevel, err := zapcore.ParseLevel(cfg.ConsoleLevel)
	if err != nil {
		consoleLevel = zapcore.InfoLevel
	}

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), consoleLevel),
	}

	if cfg.FileEnabled {
		fileLevel, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			fileLevel = zapcore.InfoLevel
		}
		jsonEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		writer := &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  cfg.MaxSize,
			MaxBackups: cfg.MaxFiles,
			Compress: true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(writer), fileLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
