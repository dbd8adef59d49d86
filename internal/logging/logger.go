package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithUser returns a logger scoped to one user's assessment history.
func WithUser(userID string) *slog.Logger {
	return slog.With("user_id", userID)
}

// WithSync returns a logger for a single reconciliation run.
// Use this for all logging between the optimistic load and the final persist.
func WithSync(userID string, generation uint64) *slog.Logger {
	return slog.With(
		"user_id", userID,
		"generation", generation,
	)
}
