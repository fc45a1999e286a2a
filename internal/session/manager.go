// Package session manages the lifecycle of isolated interaction
// streams: creation on first contact, idle expiry, and persistence of
// committed state.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/reflow/internal/domain"
	"github.com/ashureev/reflow/internal/engine"
	"github.com/ashureev/reflow/internal/scheduler"
	"github.com/ashureev/reflow/internal/state"
	"github.com/ashureev/reflow/internal/store"
	"github.com/ashureev/reflow/internal/widget"
)

const persistTimeout = 5 * time.Second

// persistSnapshot is one committed generation's durable view.
type persistSnapshot struct {
	entries  []domain.StateEntry
	values   map[string]any
	lastSeen time.Time
}

// Session is one live interaction stream with its own state store,
// widget identity namespace, and scheduler. Nothing here is shared
// across sessions.
type Session struct {
	ID        string
	CreatedAt time.Time
	State     *state.Store
	Widgets   *widget.Values

	sched *scheduler.Scheduler

	// Single-writer persistence: snapshots flow through persistCh so
	// writes land in commit order; a stale snapshot is dropped when a
	// newer one is already waiting.
	persistCh   chan persistSnapshot
	persistStop chan struct{}
	stopPersist sync.Once

	mu       sync.Mutex
	lastSeen time.Time
}

// Touch refreshes the idle timer.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the session's most recent activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Generation returns the most recently started rerun generation.
func (s *Session) Generation() uint64 {
	return s.sched.Generation()
}

// Manager owns all live sessions of one runtime instance.
type Manager struct {
	engine   *engine.Engine
	script   engine.Script
	renderer scheduler.Renderer
	repo     store.Repository // nil disables persistence
	ttl      time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	rootCtx  context.Context
}

// NewManager creates a session manager. repo may be nil to run purely
// in memory.
func NewManager(eng *engine.Engine, script engine.Script, renderer scheduler.Renderer, repo store.Repository, ttl time.Duration) *Manager {
	return &Manager{
		engine:   eng,
		script:   script,
		renderer: renderer,
		repo:     repo,
		ttl:      ttl,
		sessions: make(map[string]*Session),
		rootCtx:  context.Background(),
	}
}

// Start binds the manager to the runtime's root context and launches
// the idle sweeper.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.rootCtx = ctx
	m.mu.Unlock()
	m.startSweeper(ctx)
}

// GetOrCreate returns the live session for sessionID, creating it on
// first contact. A session that survived a restart is restored from
// the repository.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[sessionID]; ok {
		sess.Touch()
		return sess, nil
	}

	now := time.Now()
	sess := &Session{
		ID:        sessionID,
		CreatedAt: now,
		State:     state.NewStore(),
		Widgets:   widget.NewValues(),
		lastSeen:  now,
	}

	if m.repo != nil {
		if err := m.restore(ctx, sess); err != nil {
			slog.Warn("Failed to restore persisted session, starting fresh", "session_id", sessionID, "error", err)
		}
		if err := m.repo.UpsertSession(ctx, &domain.Session{
			SessionID:  sessionID,
			CreatedAt:  now,
			LastSeenAt: now,
		}); err != nil {
			slog.Warn("Failed to persist session record", "session_id", sessionID, "error", err)
		}
	}

	if m.repo != nil {
		sess.persistCh = make(chan persistSnapshot, 1)
		sess.persistStop = make(chan struct{})
		go m.persistLoop(sess)
	}

	sess.sched = scheduler.New(sessionID, sess.State, sess.Widgets, m.engine, m.script, m.renderer, func() {
		m.persist(sess)
	})
	sess.sched.Start(m.rootCtx)
	m.sessions[sessionID] = sess

	slog.Info("Session created", "session_id", sessionID)
	return sess, nil
}

// restore loads a previously persisted session's committed state and
// widget values, if any.
func (m *Manager) restore(ctx context.Context, sess *Session) error {
	rec, err := m.repo.GetSession(ctx, sess.ID)
	if err != nil || rec == nil {
		return err
	}

	entries, err := m.repo.LoadState(ctx, sess.ID)
	if err != nil {
		return err
	}
	values, err := m.repo.LoadWidgetValues(ctx, sess.ID)
	if err != nil {
		return err
	}

	sess.State.Restore(entries)
	sess.Widgets.Restore(values)
	sess.CreatedAt = rec.CreatedAt
	slog.Info("Session restored", "session_id", sess.ID, "state_entries", len(entries), "widget_values", len(values))
	return nil
}

// persist hands the committed snapshot to the session's writer; the
// rerun loop must not block on disk. Snapshots are taken synchronously
// at the commit and written strictly in commit order, so the persisted
// state can never regress to an older generation. Only the scheduler
// loop calls this, one commit at a time.
func (m *Manager) persist(sess *Session) {
	if m.repo == nil {
		return
	}
	snap := persistSnapshot{
		entries:  sess.State.Entries(),
		values:   sess.Widgets.Snapshot(),
		lastSeen: sess.LastSeen(),
	}

	select {
	case sess.persistCh <- snap:
	default:
		// Writer is behind: the queued snapshot is stale, replace it.
		select {
		case <-sess.persistCh:
		default:
		}
		select {
		case sess.persistCh <- snap:
		default:
		}
	}
}

// persistLoop is the session's single persistence writer.
func (m *Manager) persistLoop(sess *Session) {
	for {
		select {
		case snap := <-sess.persistCh:
			m.writeSnapshot(sess.ID, snap)
		case <-sess.persistStop:
			return
		}
	}
}

func (m *Manager) writeSnapshot(sessionID string, snap persistSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.repo.ReplaceState(ctx, sessionID, snap.entries); err != nil {
		slog.Warn("Failed to persist state snapshot", "session_id", sessionID, "error", err)
	}
	if err := m.repo.ReplaceWidgetValues(ctx, sessionID, snap.values); err != nil {
		slog.Warn("Failed to persist widget values", "session_id", sessionID, "error", err)
	}
	if err := m.repo.TouchSession(ctx, sessionID, snap.lastSeen); err != nil {
		slog.Warn("Failed to touch persisted session", "session_id", sessionID, "error", err)
	}
}

// Get returns the live session or ErrSessionExpired.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionExpired
	}
	return sess, nil
}

// Trigger routes an interaction event into the session's scheduler.
func (m *Manager) Trigger(sessionID string, ev *domain.Event) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	sess.Touch()
	return sess.sched.Trigger(ev)
}

// Destroy evicts a session and deletes its persisted state.
func (m *Manager) Destroy(ctx context.Context, sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	sess.sched.Close()
	if sess.persistStop != nil {
		// Pending snapshots are dropped; the rows get deleted anyway.
		sess.stopPersist.Do(func() { close(sess.persistStop) })
	}
	if m.repo != nil {
		if err := m.repo.DeleteSession(ctx, sessionID); err != nil {
			slog.Warn("Failed to delete persisted session", "session_id", sessionID, "error", err)
		}
	}
	slog.Info("Session destroyed", "session_id", sessionID)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs returns the live session IDs.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
