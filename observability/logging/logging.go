// Package logging builds the shared slog configuration for the vault daemon
// and the gateway. Both processes log JSON lines to stdout with the keys
// timestamp, severity and message so the two streams can be ingested and
// correlated by the same pipeline.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON logger tagged with the process name and, when set,
// the deployment environment. The returned logger is also made the process
// default via slog.SetDefault.
func Setup(service, env string) *slog.Logger {
	logger := New(os.Stdout, service, env)
	slog.SetDefault(logger)
	return logger
}

// New builds the logger without touching process-global state. Tests use it
// to capture output.
func New(w io.Writer, service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{ReplaceAttr: renameAttrs})
	logger := slog.New(handler).With(slog.String("service", strings.TrimSpace(service)))
	if env = strings.TrimSpace(env); env != "" {
		logger = logger.With(slog.String("env", env))
	}
	return logger
}

func renameAttrs(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}
