package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup routes both slog and the legacy standard logger through one JSON
// handler on stdout, keyed the way the log collector expects: timestamp,
// severity, message. The returned logger is tagged with the service name
// and, when non-empty, the deployment environment, and is installed as the
// process default.
func Setup(service, env string) *slog.Logger {
	return setup(os.Stdout, service, env)
}

func setup(w io.Writer, service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "timestamp"
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				attr.Key = "message"
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	tagged := handler.WithAttrs(attrs)

	base := slog.New(tagged)
	slog.SetDefault(base)

	// Redirect the legacy log package through the same handler so nothing
	// writes unstructured lines to stdout.
	bridge := slog.NewLogLogger(tagged, slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
