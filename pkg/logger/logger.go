package logger

import (
	"log"
	"log/slog"
)

// New returns a stdlib logger that forwards to base at error level, tagged with component.
// net/http only accepts *log.Logger for ErrorLog.
func New(base *slog.Logger, component string) *log.Logger {
	if base == nil {
		base = slog.Default()
	}
	return slog.NewLogLogger(base.With("component", component).Handler(), slog.LevelError)
}
