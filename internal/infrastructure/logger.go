package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pranto48/text-sub000/internal/config"
)

// Attribute keys whose string values are always masked before they reach a
// log sink, even when a caller forgets to call MaskLicenseKey
var secretAttrKeys = map[string]struct{}{
	"license_key":     {},
	"app_license_key": {},
	"admin_token":     {},
}

var (
	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	logFileMu sync.Mutex
	logFile   *os.File
)

// InitializeLogger builds the process logger from cfg once and installs it
// as the slog default. Later calls return the first result.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	loggerOnce.Do(func() {
		w, err := logOutput(cfg)
		if err != nil {
			loggerErr = err
			return
		}
		logger = slog.New(newHandler(w, cfg.Format, cfg.Level, true))
		slog.SetDefault(logger)
	})
	return logger, loggerErr
}

// NewLogger builds a JSON logger writing to w without touching process
// state
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(newHandler(w, "json", level, false))
}

func newHandler(w io.Writer, format, level string, addSource bool) slog.Handler {
	opts := &slog.HandlerOptions{
		AddSource:   addSource,
		Level:       parseLogLevel(level),
		ReplaceAttr: redactSecrets,
	}

	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return &contextHandler{Handler: h}
}

// logOutput resolves cfg.Output to console, file or both
func logOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "file", "both":
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logFileMu.Lock()
		logFile = f
		logFileMu.Unlock()
		if strings.EqualFold(cfg.Output, "both") {
			return io.MultiWriter(os.Stdout, f), nil
		}
		return f, nil
	default:
		return os.Stdout, nil
	}
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if _, secret := secretAttrKeys[a.Key]; !secret || a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if strings.Contains(v, "****") {
		return a
	}
	return slog.String(a.Key, MaskLicenseKey(v))
}

// contextHandler copies the trace id carried by ctx onto every record
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetTraceID(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		if strings.EqualFold(level, "warning") {
			return slog.LevelWarn
		}
		return slog.LevelInfo
	}
	return l
}

// CloseLogFile closes the log file opened by InitializeLogger, if any
func CloseLogFile() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// resetLogger forgets the process logger so tests can initialize it again
func resetLogger() {
	_ = CloseLogFile()
	logger, loggerErr = nil, nil
	loggerOnce = sync.Once{}
}

func openLogFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
