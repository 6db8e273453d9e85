package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"vmorch/internal/ui"
)

const (
	logFileName     = "vmorch.log"
	maxLogSizeBytes = 10 * 1024 * 1024
	maxLogFiles     = 5
)

// ErrorHandler records failures as structured JSON in the log file and
// renders them for the operator.
type ErrorHandler struct {
	logger  *slog.Logger
	console *ui.Console
	closer  io.Closer
}

// NewErrorHandler opens the rotated log file under the log directory.
func NewErrorHandler() (*ErrorHandler, error) {
	logFile, err := createLogFile()
	if err != nil {
		return nil, err
	}

	return &ErrorHandler{
		logger:  slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo})),
		console: ui.NewConsole(),
		closer:  logFile,
	}, nil
}

// NewConsoleHandler reports errors on the console only.
func NewConsoleHandler() *ErrorHandler {
	return NewHandler(slog.New(slog.NewJSONHandler(io.Discard, nil)), ui.NewConsole())
}

// NewHandler builds a handler from an existing logger and console.
func NewHandler(logger *slog.Logger, console *ui.Console) *ErrorHandler {
	return &ErrorHandler{logger: logger, console: console}
}

// Close releases the log file, if the handler owns one.
func (h *ErrorHandler) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	var orchErr *OrchestratorError
	if errors.As(err, &orchErr) {
		h.logStructuredError(orchErr)
		h.console.PrintError(h.console.FormatErrorMessage(orchErr.Context, orchErr.Cause, orchErr.Suggestion))
		return
	}

	h.logger.Error("Unhandled error occurred", "error", err.Error(), "type", "generic")
	h.console.PrintError(err.Error())
}

func (h *ErrorHandler) logStructuredError(err *OrchestratorError) {
	attrs := []slog.Attr{
		slog.String("type", Kind(err)),
		slog.String("context", err.Context),
	}
	if err.OriginalErr != nil {
		attrs = append(attrs, slog.String("error", err.OriginalErr.Error()))
	}
	if err.Cause != "" {
		attrs = append(attrs, slog.String("cause", err.Cause))
	}
	if err.Suggestion != "" {
		attrs = append(attrs, slog.String("suggestion", err.Suggestion))
	}

	h.logger.LogAttrs(context.Background(), slog.LevelError, "Orchestrator error occurred", attrs...)
}

// logDir returns the directory for the JSON log, honoring VMORCH_LOG_DIR.
func logDir() (string, error) {
	if custom := os.Getenv("VMORCH_LOG_DIR"); custom != "" {
		return custom, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", "vmorch"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "vmorch", "logs"), nil
		}
		return filepath.Join(homeDir, "AppData", "Roaming", "vmorch", "logs"), nil
	default:
		if state := os.Getenv("XDG_STATE_HOME"); state != "" {
			return filepath.Join(state, "vmorch"), nil
		}
		return filepath.Join(homeDir, ".local", "state", "vmorch"), nil
	}
}

// ensureLogDir creates the log directory, falling back to the working
// directory when it is not writable.
func ensureLogDir() (string, bool, error) {
	dir, err := logDir()
	if err == nil {
		if err = os.MkdirAll(dir, 0750); err == nil {
			probe := filepath.Join(dir, ".write_probe")
			var f *os.File
			if f, err = os.Create(probe); err == nil {
				_ = f.Close()
				_ = os.Remove(probe)
				return dir, false, nil
			}
		}
	}

	cwd, cwdErr := os.Getwd()
	if cwdErr != nil {
		return "", true, fmt.Errorf("cannot determine current directory for fallback logging: %w", cwdErr)
	}
	fmt.Fprintf(os.Stderr, "Warning: cannot use log directory %q (%v). Falling back to %s.\n", dir, err, cwd)
	return cwd, true, nil
}

// rotateLogs shifts vmorch.log -> .1 -> .2 ... once the file exceeds the
// size limit, dropping the oldest.
func rotateLogs(logPath string) error {
	info, err := os.Stat(logPath)
	if err != nil || info.Size() < maxLogSizeBytes {
		return nil
	}

	_ = os.Remove(fmt.Sprintf("%s.%d", logPath, maxLogFiles))
	for i := maxLogFiles - 1; i >= 1; i-- {
		older := fmt.Sprintf("%s.%d", logPath, i)
		if _, err := os.Stat(older); err == nil {
			if err := os.Rename(older, fmt.Sprintf("%s.%d", logPath, i+1)); err != nil {
				return fmt.Errorf("failed to rotate %s: %w", older, err)
			}
		}
	}
	return os.Rename(logPath, logPath+".1")
}

func createLogFile() (*os.File, error) {
	dir, _, err := ensureLogDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(dir, logFileName)
	if err := rotateLogs(logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to rotate log file: %v\n", err)
	}

	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}
