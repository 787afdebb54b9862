// Package logging builds the process-wide logger for the photosync
// daemon.
package logging

import (
	"log/slog"
	"os"
)

// serviceName tags every production log line so aggregated output from
// several devices stays attributable to this daemon.
const serviceName = "photosync"

// NewLogger creates the logger for the given environment. Production
// emits JSON at info level with a service attribute for log
// aggregation; anything else emits human-readable text with debug
// enabled.
func NewLogger(env string) *slog.Logger {
	if env == "production" {
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})

		return slog.New(handler).With(slog.String("service", serviceName))
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})

	return slog.New(handler)
}
