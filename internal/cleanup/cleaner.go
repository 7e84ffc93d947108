package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/terra-clan/legal-diagnostic/internal/models"
	"github.com/terra-clan/legal-diagnostic/internal/session"
)

// Sessions is the part of the session manager the reaper uses
type Sessions interface {
	GetExpired(ctx context.Context) ([]*models.DiagnosticSession, error)
	Delete(ctx context.Context, id string) error
}

// Cleaner handles periodic removal of idle diagnostic sessions
type Cleaner struct {
	sessions Sessions
	interval time.Duration
}

// NewCleaner creates a new cleanup worker
func NewCleaner(sessions Sessions, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Cleaner{
		sessions: sessions,
		interval: interval,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

// cleanup deletes expired sessions and returns how many were removed
func (c *Cleaner) cleanup(ctx context.Context) int {
	slog.Debug("running cleanup cycle")

	expired, err := c.sessions.GetExpired(ctx)
	if err != nil {
		slog.Error("failed to get expired sessions", "error", err)
		return 0
	}

	if len(expired) == 0 {
		slog.Debug("no expired sessions found")
		return 0
	}

	slog.Info("found expired sessions", "count", len(expired))

	removed := 0
	for _, s := range expired {
		if err := c.sessions.Delete(ctx, s.ID); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				continue
			}
			slog.Error("failed to delete expired session",
				"error", err,
				"id", s.ID,
			)
			continue
		}

		removed++
		slog.Info("expired session deleted",
			"id", s.ID,
			"stage", s.State.Stage,
			"expired_at", s.ExpiresAt,
		)
	}

	return removed
}
