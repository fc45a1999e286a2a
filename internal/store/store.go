// Package store provides persistence interfaces and implementations
// for session records and committed runtime state.
package store

import (
	"context"
	"time"

	"github.com/ashureev/reflow/internal/domain"
)

// Repository persists sessions and their committed state so they
// survive a runtime restart. Only committed generation output is ever
// written; pending rerun overlays never reach the repository.
type Repository interface {
	// UpsertSession creates or refreshes a session record.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session record, nil if unknown.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// TouchSession updates the last_seen_at timestamp.
	TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error

	// GetExpiredSessions retrieves sessions idle for longer than ttl.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.Session, error)

	// DeleteSession removes a session and its state wholesale.
	DeleteSession(ctx context.Context, sessionID string) error

	// ReplaceState overwrites a session's persisted state entries with
	// the latest committed snapshot.
	ReplaceState(ctx context.Context, sessionID string, entries []domain.StateEntry) error

	// LoadState retrieves a session's persisted state entries.
	LoadState(ctx context.Context, sessionID string) ([]domain.StateEntry, error)

	// ReplaceWidgetValues overwrites a session's persisted widget
	// values with the latest committed ones.
	ReplaceWidgetValues(ctx context.Context, sessionID string, values map[string]any) error

	// LoadWidgetValues retrieves a session's persisted widget values.
	LoadWidgetValues(ctx context.Context, sessionID string) (map[string]any, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying database.
	Close() error
}
