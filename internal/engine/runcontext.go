package engine

import (
	"context"
	"fmt"

	"github.com/ashureev/reflow/internal/cache"
	"github.com/ashureev/reflow/internal/domain"
	"github.com/ashureev/reflow/internal/state"
	"github.com/ashureev/reflow/internal/widget"
)

// RunContext is the script's window into the runtime for one rerun:
// widget calls, display calls, session state, and cached computations.
// It is single-threaded per rerun and must not escape the script.
type RunContext struct {
	ctx            context.Context
	pending        *state.Pending
	rerun          *widget.Rerun
	cache          *cache.Cache
	tree           []domain.Element
	rerunRequested bool
}

// Context returns the rerun's context. Long script work should pass it
// on so cooperative cancellation reaches blocking calls.
func (rc *RunContext) Context() context.Context {
	return rc.ctx
}

// checkCancelled is the cooperative cancellation safe point, hit
// before every widget call and state write.
func (rc *RunContext) checkCancelled() error {
	if err := rc.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRerunCancelled, err)
	}
	return nil
}

// Option adjusts a single widget call.
type Option func(*widgetConfig)

type widgetConfig struct {
	key string
}

// WithKey pins a widget to an explicit identity instead of the
// call-order derived one. Two calls with the same key in one rerun is
// a duplicate-key error.
func WithKey(key string) Option {
	return func(c *widgetConfig) { c.key = key }
}

func applyOptions(opts []Option) widgetConfig {
	var c widgetConfig
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (rc *RunContext) resolve(kind domain.ElementKind, def any, opts []Option) (domain.WidgetRecord, error) {
	if err := rc.checkCancelled(); err != nil {
		return domain.WidgetRecord{}, err
	}
	c := applyOptions(opts)
	rec, err := rc.rerun.Resolve(kind, c.key, def)
	if err != nil {
		return domain.WidgetRecord{}, err
	}
	return rec, nil
}

func (rc *RunContext) emitWidget(rec domain.WidgetRecord, label string, value any, payload any) {
	rc.tree = append(rc.tree, domain.Element{
		Identity: rec.Identity,
		Kind:     rec.Kind,
		Label:    label,
		Value:    value,
		Payload:  payload,
	})
}

// Slider declares a numeric slider and returns its current value,
// clamped into [min, max].
func (rc *RunContext) Slider(label string, min, max, def float64, opts ...Option) (float64, error) {
	rec, err := rc.resolve(domain.KindSlider, def, opts)
	if err != nil {
		return 0, err
	}
	v := clamp(toFloat(rec.Value, def), min, max)
	rc.emitWidget(rec, label, v, map[string]any{"min": min, "max": max})
	return v, nil
}

// NumberInput declares a free numeric input.
func (rc *RunContext) NumberInput(label string, def float64, opts ...Option) (float64, error) {
	rec, err := rc.resolve(domain.KindNumberInput, def, opts)
	if err != nil {
		return 0, err
	}
	v := toFloat(rec.Value, def)
	rc.emitWidget(rec, label, v, nil)
	return v, nil
}

// TextInput declares a text field.
func (rc *RunContext) TextInput(label, def string, opts ...Option) (string, error) {
	rec, err := rc.resolve(domain.KindTextInput, def, opts)
	if err != nil {
		return "", err
	}
	v := toString(rec.Value, def)
	rc.emitWidget(rec, label, v, nil)
	return v, nil
}

// Checkbox declares a boolean toggle.
func (rc *RunContext) Checkbox(label string, def bool, opts ...Option) (bool, error) {
	rec, err := rc.resolve(domain.KindCheckbox, def, opts)
	if err != nil {
		return false, err
	}
	v := toBool(rec.Value, def)
	rc.emitWidget(rec, label, v, nil)
	return v, nil
}

// Select declares a single-choice widget. A carried or event value
// outside choices falls back to def.
func (rc *RunContext) Select(label string, choices []string, def string, opts ...Option) (string, error) {
	rec, err := rc.resolve(domain.KindSelect, def, opts)
	if err != nil {
		return "", err
	}
	v := toString(rec.Value, def)
	if !contains(choices, v) {
		v = def
	}
	rc.emitWidget(rec, label, v, map[string]any{"choices": choices})
	return v, nil
}

// Button declares a momentary button. It reads true only in the rerun
// triggered by its own click and is never carried across generations.
func (rc *RunContext) Button(label string, opts ...Option) (bool, error) {
	rec, err := rc.resolve(domain.KindButton, false, opts)
	if err != nil {
		return false, err
	}
	v := toBool(rec.Value, false)
	rc.emitWidget(rec, label, v, nil)
	return v, nil
}

// FileUpload declares an upload slot. The value is whatever opaque
// payload the byte-handling collaborator bound to this identity; the
// runtime imposes no format.
func (rc *RunContext) FileUpload(label string, opts ...Option) (any, error) {
	rec, err := rc.resolve(domain.KindFileUpload, nil, opts)
	if err != nil {
		return nil, err
	}
	rc.emitWidget(rec, label, rec.Value, nil)
	return rec.Value, nil
}

func (rc *RunContext) emitDisplay(kind domain.ElementKind, label string, payload any) {
	rc.tree = append(rc.tree, domain.Element{
		Identity: rc.rerun.DisplayIdentity(kind),
		Kind:     kind,
		Label:    label,
		Payload:  payload,
	})
}

// Text emits a plain text display element.
func (rc *RunContext) Text(s string) { rc.emitDisplay(domain.KindText, "", s) }

// Markdown emits a markdown display element. The runtime does not
// interpret the markup.
func (rc *RunContext) Markdown(s string) { rc.emitDisplay(domain.KindMarkdown, "", s) }

// JSON emits a structured value for the client to pretty-print.
func (rc *RunContext) JSON(v any) { rc.emitDisplay(domain.KindJSON, "", v) }

// Metric emits a labeled single value.
func (rc *RunContext) Metric(label string, v any) { rc.emitDisplay(domain.KindMetric, label, v) }

// Table emits an opaque tabular payload.
func (rc *RunContext) Table(payload any) { rc.emitDisplay(domain.KindTable, "", payload) }

// Chart emits an opaque chart specification. No special casing in the
// runtime; the visualization collaborator owns the grammar.
func (rc *RunContext) Chart(payload any) { rc.emitDisplay(domain.KindChart, "", payload) }

// StateGet returns the session state value for key, or def if absent.
// Absence is preserved: reading never creates the entry.
func (rc *RunContext) StateGet(key string, def any) any {
	return rc.pending.Get(key, def)
}

// StateHas reports whether key exists in the rerun's view of state.
func (rc *RunContext) StateHas(key string) bool {
	return rc.pending.Has(key)
}

// StateSet writes a session state value. Visible to the rest of this
// rerun immediately, durable only if the generation commits.
func (rc *RunContext) StateSet(key string, value any) error {
	if err := rc.checkCancelled(); err != nil {
		return err
	}
	rc.pending.Set(key, value)
	return nil
}

// StateClear removes key from session state.
func (rc *RunContext) StateClear(key string) error {
	if err := rc.checkCancelled(); err != nil {
		return err
	}
	rc.pending.Clear(key)
	return nil
}

// StateSnapshot returns the rerun's current view of the whole state.
func (rc *RunContext) StateSnapshot() map[string]any {
	return rc.pending.Snapshot()
}

// Cached memoizes an expensive computation by content fingerprint of
// spec plus args. Concurrent cold misses compute once (single-flight).
// Non-serializable args surface NotCacheableError here, at the call
// site, so the script can catch or avoid it.
func (rc *RunContext) Cached(spec cache.FuncSpec, compute func(ctx context.Context) (any, error), args ...any) (any, error) {
	if err := rc.checkCancelled(); err != nil {
		return nil, err
	}
	fp, err := cache.NewFingerprint(spec.Name, spec.Version, args...)
	if err != nil {
		return nil, err
	}
	return rc.cache.GetOrCompute(rc.ctx, fp, spec, compute)
}

// RequestRerun asks the scheduler to run another generation
// immediately after this one commits, with no interaction event.
func (rc *RunContext) RequestRerun() {
	rc.rerunRequested = true
}
