package session

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = time.Minute

// startSweeper runs a background goroutine that periodically evicts
// idle sessions and clears their persisted rows, including rows
// orphaned by an earlier run of the server.
func (m *Manager) startSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", sweepInterval, "ttl", m.ttl)

		for {
			select {
			case <-ticker.C:
				m.sweep(ctx)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.ttl)

	var expired []string
	m.mu.RLock()
	for id, sess := range m.sessions {
		if sess.LastSeen().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		slog.Info("Sweeper evicting idle session", "session_id", id)
		m.Destroy(ctx, id)
	}

	if m.repo == nil {
		return
	}

	// Persisted rows with no live session left behind by a previous
	// process.
	orphans, err := m.repo.GetExpiredSessions(ctx, m.ttl)
	if err != nil {
		slog.Error("Sweeper failed to list expired persisted sessions", "error", err)
		return
	}
	for _, rec := range orphans {
		if _, err := m.Get(rec.SessionID); err == nil {
			continue
		}
		if err := m.repo.DeleteSession(ctx, rec.SessionID); err != nil {
			slog.Warn("Sweeper failed to delete persisted session", "session_id", rec.SessionID, "error", err)
		}
	}
	if len(expired) > 0 || len(orphans) > 0 {
		slog.Info("Sweeper pass completed", "evicted", len(expired), "orphans", len(orphans))
	}
}
