package slogutil

import (
	"io"
	"log/slog"
	"os"

	"xrepo/internal/config"
	"xrepo/internal/paths"
)

// LoggerFactory builds the loggers used by the CLI.
// Precedence for the console level: CLI flags > config level.
type LoggerFactory struct {
	root     string
	config   *config.Config
	cliLevel *slog.Level
	console  io.Writer
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory. cliLevel is nil when no CLI
// override was given.
func NewLoggerFactory(root string, cfg *config.Config, cliLevel *slog.Level) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{
		root:     root,
		config:   cfg,
		cliLevel: cliLevel,
		console:  os.Stderr,
	}
}

// CLILogger returns a logger for the console in the configured format. When the
// workspace is known it also appends line records to .xrepo/logs/xrepo.log at
// the configured level, regardless of -q or -v.
func (f *LoggerFactory) CLILogger() *slog.Logger {
	fileLevel := LevelFromString(f.config.Logging.Level)
	consoleLevel := fileLevel
	if f.cliLevel != nil {
		consoleLevel = *f.cliLevel
	}
	console := NewHandler(f.console, consoleLevel, f.config.Logging.Format)
	if f.root == "" {
		return slog.New(console)
	}

	dir, err := paths.EnsureLogsDir(f.root)
	if err != nil {
		return slog.New(console)
	}
	file, err := os.OpenFile(paths.LogFile(dir), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return slog.New(console)
	}
	f.closers = append(f.closers, file)
	return slog.New(fanout{console, NewHandler(file, fileLevel, "human")})
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
