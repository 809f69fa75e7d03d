package observability

import (
	"io"
	"log/slog"
	"strings"

	"github.com/ragsql/ragsql/internal/config"
)

const redacted = "[redacted]"

// secretKeyMarkers match attribute keys whose values must never reach logs.
var secretKeyMarkers = []string{"api_key", "apikey", "secret", "password", "token", "dsn"}

// NewLogger builds the process logger. Debug level records include source
// locations.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Observability.LogLevel,
		AddSource:   cfg.Observability.LogLevel <= slog.LevelDebug,
		ReplaceAttr: redactSecrets,
	}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func redactSecrets(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	if isSecretKey(attr.Key) {
		return slog.String(attr.Key, redacted)
	}
	return attr
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
