// Package scheduler serializes a session's interaction events into
// discrete rerun generations, cancelling superseded reruns.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashureev/reflow/internal/domain"
	"github.com/ashureev/reflow/internal/engine"
	"github.com/ashureev/reflow/internal/state"
	"github.com/ashureev/reflow/internal/widget"
)

// Renderer receives the outcome of each completed generation: a tree
// or an error descriptor, never both. Implemented by the transport.
type Renderer interface {
	Deliver(sessionID string, frame domain.Frame)
}

const eventQueueSize = 16

type genOutcome struct {
	res *engine.Result
	err error
}

// Scheduler owns the single logical execution stream of one session.
// Exactly one rerun is in flight at a time; a new event cancels the
// running generation and starts the next from the pre-generation
// committed state plus the new event.
type Scheduler struct {
	sessionID string
	st        *state.Store
	values    *widget.Values
	engine    *engine.Engine
	script    engine.Script
	renderer  Renderer
	onCommit  func()

	events    chan *domain.Event
	done      chan struct{}
	closeOnce sync.Once
	gen       atomic.Uint64
}

// New creates a scheduler for one session. onCommit runs after every
// committed generation (persistence hook); it may be nil.
func New(sessionID string, st *state.Store, values *widget.Values, eng *engine.Engine, script engine.Script, renderer Renderer, onCommit func()) *Scheduler {
	return &Scheduler{
		sessionID: sessionID,
		st:        st,
		values:    values,
		engine:    eng,
		script:    script,
		renderer:  renderer,
		onCommit:  onCommit,
		events:    make(chan *domain.Event, eventQueueSize),
		done:      make(chan struct{}),
	}
}

// Start launches the session loop. ctx is the runtime's root context;
// cancelling it stops the loop after the in-flight rerun is cancelled.
// Any loop exit closes the scheduler, so late Triggers fail fast
// instead of queueing into a dead loop.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer s.Close()
		s.loop(ctx)
	}()
}

// Close stops the scheduler. Triggers after Close fail with
// ErrSessionExpired.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Generation returns the number of the most recently started
// generation.
func (s *Scheduler) Generation() uint64 {
	return s.gen.Load()
}

// Trigger enqueues an interaction event (nil for an event-less rerun,
// e.g. the initial run). The event supersedes any generation still in
// flight.
func (s *Scheduler) Trigger(ev *domain.Event) error {
	select {
	case <-s.done:
		return domain.ErrSessionExpired
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return domain.ErrSessionExpired
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.events:
			if !s.runGenerations(ctx, ev) {
				return
			}
		}
	}
}

// runGenerations drives reruns until one completes without being
// superseded. Returns false when the scheduler should exit.
func (s *Scheduler) runGenerations(ctx context.Context, ev *domain.Event) bool {
	for {
		ev = s.coalesce(ev)
		gen := s.gen.Add(1)

		runCtx, cancel := context.WithCancel(ctx)
		outcome := make(chan genOutcome, 1)
		go func() {
			res, err := s.engine.Run(runCtx, s.st, s.values, s.script, ev)
			outcome <- genOutcome{res: res, err: err}
		}()

		select {
		case out := <-outcome:
			cancel()
			if out.err != nil {
				if errors.Is(out.err, domain.ErrRerunCancelled) {
					// Shutdown race; swallowed, never delivered.
					return false
				}
				slog.Warn("Rerun failed", "session_id", s.sessionID, "generation", gen, "error", out.err)
				s.renderer.Deliver(s.sessionID, domain.Frame{Generation: gen, Error: domain.Describe(out.err)})
				return true
			}
			s.commit(out.res)
			s.renderer.Deliver(s.sessionID, domain.Frame{Generation: gen, Tree: out.res.Tree})
			if out.res.RerunRequested {
				ev = nil
				continue
			}
			return true

		case next := <-s.events:
			// Supersede: cancel generation gen, await its
			// acknowledgment, and discard its overlay wholesale.
			cancel()
			<-outcome
			ev = next

		case <-s.done:
			cancel()
			<-outcome
			return false

		case <-ctx.Done():
			cancel()
			<-outcome
			return false
		}
	}
}

// coalesce drains queued events down to the most recent one; each
// would only supersede the previous immediately anyway.
func (s *Scheduler) coalesce(ev *domain.Event) *domain.Event {
	for {
		select {
		case next := <-s.events:
			ev = next
		default:
			return ev
		}
	}
}

func (s *Scheduler) commit(res *engine.Result) {
	s.st.Commit(res.Pending)
	s.values.Commit(res.Records)
	if s.onCommit != nil {
		s.onCommit()
	}
}
