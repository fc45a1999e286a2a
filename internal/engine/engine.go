// Package engine executes the user script top-to-bottom and produces
// the UI tree for one rerun.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/reflow/internal/cache"
	"github.com/ashureev/reflow/internal/domain"
	"github.com/ashureev/reflow/internal/state"
	"github.com/ashureev/reflow/internal/widget"
)

// Script is the user application: a declarative function evaluated in
// source order on every rerun. It must be deterministic with respect
// to session state and widget values.
type Script func(rc *RunContext) error

// Engine runs scripts. It is stateless apart from the shared
// memoization cache and safe for use by all sessions.
type Engine struct {
	cache *cache.Cache
}

// New creates an engine backed by the shared cache.
func New(c *cache.Cache) *Engine {
	return &Engine{cache: c}
}

// Result is the output of one completed rerun. Nothing in it is
// durable until the scheduler commits it at the generation boundary.
type Result struct {
	Tree           *domain.UITree
	Pending        *state.Pending
	Records        map[string]domain.WidgetRecord
	RerunRequested bool
}

// Run executes script once against the session's committed state plus
// the triggering event. State writes land in a pending overlay with
// read-your-writes semantics; the committed store is untouched no
// matter how the rerun ends. A cancelled context yields
// ErrRerunCancelled; script failures come back as typed runtime
// errors, ready for Describe.
func (e *Engine) Run(ctx context.Context, st *state.Store, values *widget.Values, script Script, trigger *domain.Event) (*Result, error) {
	rc := &RunContext{
		ctx:     ctx,
		pending: st.Begin(),
		rerun:   widget.NewRerun(values, trigger),
		cache:   e.cache,
	}

	err := runScript(rc, script)

	if cerr := ctx.Err(); cerr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRerunCancelled, cerr)
	}
	if err != nil {
		return nil, classify(err)
	}

	return &Result{
		Tree:           &domain.UITree{Elements: rc.tree},
		Pending:        rc.pending,
		Records:        rc.rerun.Records(),
		RerunRequested: rc.rerunRequested,
	}, nil
}

// runScript isolates panic recovery so an uncaught panic in user code
// aborts only the rerun.
func runScript(rc *RunContext, script Script) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.ScriptError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return script(rc)
}

// classify keeps taxonomy errors intact and wraps anything else the
// script let escape as a ScriptError.
func classify(err error) error {
	var dup *domain.DuplicateWidgetKeyError
	var nc *domain.NotCacheableError
	var se *domain.ScriptError
	switch {
	case errors.Is(err, domain.ErrRerunCancelled),
		errors.Is(err, domain.ErrSessionExpired),
		errors.As(err, &dup),
		errors.As(err, &nc),
		errors.As(err, &se):
		return err
	default:
		return &domain.ScriptError{Err: err}
	}
}
