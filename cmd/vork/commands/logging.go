package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vorkdev/vork/internal/config"
)

var (
	loggerMu      sync.Mutex
	activeLogFile *os.File
)

// configureLogger installs the default slog logger. Interactive sessions
// log nowhere unless log.file is set, so log lines never interleave with
// operator prompts.
func configureLogger(cfg *config.Config, overrideLevel string, interactive bool) error {
	level, err := parseLogLevel(cfg.Log.Level, overrideLevel)
	if err != nil {
		return err
	}
	logFilePath, err := config.ExpandHome(strings.TrimSpace(cfg.Log.File))
	if err != nil {
		return &config.Error{Field: "log.file", Msg: "cannot be expanded", Err: err}
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()

	if activeLogFile != nil && activeLogFile.Name() != logFilePath {
		_ = activeLogFile.Close()
		activeLogFile = nil
	}

	var writer io.Writer
	switch {
	case logFilePath != "":
		if activeLogFile == nil {
			if err := os.MkdirAll(filepath.Dir(logFilePath), 0o700); err != nil {
				return fmt.Errorf("create log directory: %w", err)
			}
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			activeLogFile = f
		}
		writer = activeLogFile
	case interactive:
		writer = io.Discard
	default:
		writer = os.Stderr
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})))
	return nil
}

func parseLogLevel(configLevel, override string) (slog.Level, error) {
	level := strings.TrimSpace(configLevel)
	if strings.TrimSpace(override) != "" {
		level = strings.TrimSpace(override)
	}
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, &config.Error{Field: "log.level", Msg: fmt.Sprintf("invalid log level %q", level)}
	}
}
