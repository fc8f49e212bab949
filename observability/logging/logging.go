package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// levelFor maps the deployment environment onto a log floor. Local and test
// runs get debug output; everything else stays at info unless
// LEDGERD_LOG_LEVEL overrides it.
func levelFor(env string) slog.Level {
	if raw := strings.TrimSpace(os.Getenv("LEDGERD_LOG_LEVEL")); raw != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(raw)); err == nil {
			return lvl
		}
	}
	switch strings.ToLower(env) {
	case "local", "dev", "test":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Setup configures the process-wide logger to emit structured JSON and
// returns the ledgerd logger. Every line carries the service name,
// environment and ledger schema version so mixed-fleet log streams stay
// attributable.
func Setup(service, env string) *slog.Logger {
	env = strings.TrimSpace(env)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFor(env),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "timestamp"
			case slog.LevelKey:
				attr = slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				attr.Key = "message"
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
		slog.String("ledgerSchema", SchemaVersion),
	}
	if env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so dependencies logging through
	// package log land in the same JSON stream.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// SchemaVersion tags log lines with the persisted ledger-state layout, so a
// checkpoint restored by a newer build is traceable across deploys.
const SchemaVersion = "1"
