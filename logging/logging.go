// Package logging builds the process logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Options selects where logs go.
type Options struct {
	Level string
	File  string
	// Stderr also writes to standard error. Interactive modes turn it off
	// so logs do not interleave with the conversation.
	Stderr bool
}

// ParseLevel converts a level name to an atomic level. Empty means info.
func ParseLevel(level string) (zap.AtomicLevel, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// New builds a production zap logger writing JSON to the configured outputs.
func New(opts Options) (*zap.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = lvl
	loggerConfig.OutputPaths = outputPaths(opts)
	loggerConfig.ErrorOutputPaths = []string{"stderr"}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func outputPaths(opts Options) []string {
	var paths []string
	if opts.Stderr {
		paths = append(paths, "stderr")
	}
	if opts.File != "" {
		paths = append(paths, opts.File)
	}
	if len(paths) == 0 {
		paths = append(paths, "stderr")
	}
	return paths
}
