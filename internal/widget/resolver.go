// Package widget assigns stable identities to UI element invocations
// across reruns and carries their values forward.
package widget

import (
	"fmt"
	"sync"

	"github.com/ashureev/reflow/internal/domain"
)

// Values holds a session's committed widget values, keyed by identity.
// It is replaced wholesale when a generation commits, so a widget that
// disappears from the script drops its carried value.
type Values struct {
	mu        sync.RWMutex
	committed map[string]any
}

// NewValues creates an empty value set.
func NewValues() *Values {
	return &Values{committed: make(map[string]any)}
}

// Lookup returns the carried value for identity from the last
// committed generation.
func (v *Values) Lookup(identity string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.committed[identity]
	return val, ok
}

// Commit replaces the committed values with the records produced by a
// completed rerun. Button values are ephemeral and never carried.
func (v *Values) Commit(records map[string]domain.WidgetRecord) {
	next := make(map[string]any, len(records))
	for identity, rec := range records {
		if rec.Kind == domain.KindButton {
			continue
		}
		next[identity] = rec.Value
	}
	v.mu.Lock()
	v.committed = next
	v.mu.Unlock()
}

// Snapshot returns a copy of the committed values, for persistence.
func (v *Values) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.committed))
	for k, val := range v.committed {
		out[k] = val
	}
	return out
}

// Restore replaces the committed values with persisted ones.
func (v *Values) Restore(values map[string]any) {
	next := make(map[string]any, len(values))
	for k, val := range values {
		next[k] = val
	}
	v.mu.Lock()
	v.committed = next
	v.mu.Unlock()
}

// Rerun resolves widget identities for one top-to-bottom execution.
// Call order fixes the call-site index sequence, so resolution is
// deterministic for a deterministic script. Not safe for concurrent
// use.
type Rerun struct {
	values     *Values
	trigger    *domain.Event
	updates    map[string]any
	callIndex  int
	occurrence map[domain.ElementKind]int
	seen       map[string]struct{}
	records    map[string]domain.WidgetRecord
}

// NewRerun starts identity resolution for one rerun. trigger may be
// nil for runs with no interaction. A single-widget event and a
// batched form submit flatten into the same identity-to-value view;
// the batch is applied atomically, in this one rerun.
func NewRerun(values *Values, trigger *domain.Event) *Rerun {
	updates := make(map[string]any)
	if trigger != nil {
		for _, u := range trigger.Updates {
			updates[u.Identity] = u.Value
		}
		if len(trigger.Updates) == 0 && trigger.Identity != "" {
			updates[trigger.Identity] = trigger.Value
		}
	}
	return &Rerun{
		values:     values,
		trigger:    trigger,
		updates:    updates,
		occurrence: make(map[domain.ElementKind]int),
		seen:       make(map[string]struct{}),
		records:    make(map[string]domain.WidgetRecord),
	}
}

// Resolve binds one widget call to its identity and current value.
// With no explicit key the identity combines the call-site index with
// a per-kind occurrence counter, so unkeyed calls at different script
// positions never collide and the same position keeps its identity
// across reruns. Value precedence: triggering event, then the carried
// value from the previous generation, then the declared default.
func (r *Rerun) Resolve(kind domain.ElementKind, key string, def any) (domain.WidgetRecord, error) {
	idx := r.callIndex
	r.callIndex++

	identity := key
	if identity == "" {
		occ := r.occurrence[kind]
		r.occurrence[kind]++
		identity = fmt.Sprintf("%s@%d.%d", kind, idx, occ)
	}

	if _, dup := r.seen[identity]; dup {
		return domain.WidgetRecord{}, &domain.DuplicateWidgetKeyError{Identity: identity}
	}
	r.seen[identity] = struct{}{}

	value := def
	if carried, ok := r.values.Lookup(identity); ok {
		value = carried
	}
	if v, ok := r.updates[identity]; ok {
		value = v
	}
	if kind == domain.KindButton {
		// A button reads true only in the rerun its own click triggered.
		value = r.trigger != nil && r.trigger.Identity == identity
	}

	rec := domain.WidgetRecord{Identity: identity, Kind: kind, Default: def, Value: value}
	r.records[identity] = rec
	return rec, nil
}

// DisplayIdentity assigns an identity to a display-only element using
// the same call-order discipline, so the client can diff positionally.
func (r *Rerun) DisplayIdentity(kind domain.ElementKind) string {
	idx := r.callIndex
	r.callIndex++
	occ := r.occurrence[kind]
	r.occurrence[kind]++
	return fmt.Sprintf("%s@%d.%d", kind, idx, occ)
}

// Records returns the widget records produced so far, for commit.
func (r *Rerun) Records() map[string]domain.WidgetRecord {
	return r.records
}
