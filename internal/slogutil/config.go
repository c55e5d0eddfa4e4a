package slogutil

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/javi11/docvault/internal/config"
	"github.com/javi11/docvault/internal/pathutil"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps a config level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogRotation configures slog with log rotation using lumberjack.
// If logConfig.File is empty, it logs to console only.
// If logConfig.File is configured, it logs to both console and file.
// The returned leveler can be used to change the level at runtime.
func SetupLogRotation(logConfig config.LogConfig) (*slog.Logger, *DynamicLeveler) {
	return newLogger(os.Stdout, logConfig)
}

// SetupLogRotationWithFallback behaves like SetupLogRotation but drops the file
// output, with a warning, when the log directory is not writable.
func SetupLogRotationWithFallback(logConfig config.LogConfig) (*slog.Logger, *DynamicLeveler) {
	var fileErr error
	if logConfig.File != "" {
		if fileErr = pathutil.CheckFileDirectoryWritable(logConfig.File, "log"); fileErr != nil {
			logConfig.File = ""
		}
	}

	logger, leveler := newLogger(os.Stdout, logConfig)
	if fileErr != nil {
		logger.Warn("Log file disabled, logging to console only", "error", fileErr)
	}

	return logger, leveler
}

func newLogger(console io.Writer, logConfig config.LogConfig) (*slog.Logger, *DynamicLeveler) {
	writer := console

	if logConfig.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   logConfig.File,
			MaxSize:    logConfig.MaxSize,    // MB
			MaxBackups: logConfig.MaxBackups, // number of old files
			MaxAge:     logConfig.MaxAge,     // days
			Compress:   logConfig.Compress,   // compress old files
		}
		writer = io.MultiWriter(console, fileWriter)
	}

	leveler := NewDynamicLeveler(ParseLevel(logConfig.Level))

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: leveler,
	})

	return slog.New(WrapHandler(handler)), leveler
}
