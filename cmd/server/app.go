package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/reflow/internal/cache"
	"github.com/ashureev/reflow/internal/engine"
)

// demoApp is the application script the server hosts: a small
// interactive dashboard exercising widgets, session state, and cached
// computations. Replace it with your own script.
func demoApp(rc *engine.RunContext) error {
	rc.Markdown("# Reflow demo")

	// Counter backed by session state; buttons are ephemeral, so the
	// increment happens only in the rerun their click triggered.
	count, _ := rc.StateGet("counter", float64(0)).(float64)

	if clicked, err := rc.Button("Increment"); err != nil {
		return err
	} else if clicked {
		count++
		if err := rc.StateSet("counter", count); err != nil {
			return err
		}
		rc.RequestRerun()
	}
	if clicked, err := rc.Button("Reset"); err != nil {
		return err
	} else if clicked {
		if err := rc.StateClear("counter"); err != nil {
			return err
		}
		count = 0
	}
	rc.Metric("Count", count)

	name, err := rc.TextInput("Your name", "", engine.WithKey("name"))
	if err != nil {
		return err
	}
	age, err := rc.Slider("Your age", 0, 120, 25, engine.WithKey("age"))
	if err != nil {
		return err
	}
	if name != "" {
		rc.Text(fmt.Sprintf("Hello, %s!", name))
	}

	// Expensive derivation keyed on the slider value: recomputed only
	// when age changes, shared across sessions asking for the same age.
	profile, err := rc.Cached(
		cache.FuncSpec{Name: "age_profile", Version: 1, Deps: []string{"profiles"}},
		func(ctx context.Context) (any, error) {
			// Stand-in for a slow lookup.
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return map[string]any{
				"age":     age,
				"decade":  int(age) / 10 * 10,
				"retired": age >= 67,
			}, nil
		},
		age,
	)
	if err != nil {
		return err
	}
	rc.JSON(profile)

	theme, err := rc.Select("Theme", []string{"light", "dark"}, "light", engine.WithKey("theme"))
	if err != nil {
		return err
	}
	rc.Chart(map[string]any{"kind": "line", "series": "visits", "theme": theme})
	return nil
}
