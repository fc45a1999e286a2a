package cache

import (
	"errors"
	"testing"

	"github.com/ashureev/reflow/internal/domain"
)

func TestNewFingerprint_Deterministic(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []any
		wantSame bool
	}{
		{
			name:     "identical args",
			a:        []any{"url", 5},
			b:        []any{"url", 5},
			wantSame: true,
		},
		{
			name:     "different args",
			a:        []any{"url", 5},
			b:        []any{"url", 6},
			wantSame: false,
		},
		{
			name:     "value equality for maps regardless of construction order",
			a:        []any{map[string]any{"x": 1, "y": 2}},
			b:        []any{map[string]any{"y": 2, "x": 1}},
			wantSame: true,
		},
		{
			name:     "argument order matters",
			a:        []any{1, 2},
			b:        []any{2, 1},
			wantSame: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fpA, err := NewFingerprint("load", 1, tt.a...)
			if err != nil {
				t.Fatalf("fingerprint a: %v", err)
			}
			fpB, err := NewFingerprint("load", 1, tt.b...)
			if err != nil {
				t.Fatalf("fingerprint b: %v", err)
			}
			if (fpA == fpB) != tt.wantSame {
				t.Errorf("fingerprints same = %v, want %v", fpA == fpB, tt.wantSame)
			}
		})
	}
}

func TestNewFingerprint_FunctionIdentity(t *testing.T) {
	byName, _ := NewFingerprint("load", 1, "x")
	otherName, _ := NewFingerprint("fetch", 1, "x")
	if byName == otherName {
		t.Error("different function names share a fingerprint")
	}

	v1, _ := NewFingerprint("load", 1, "x")
	v2, _ := NewFingerprint("load", 2, "x")
	if v1 == v2 {
		t.Error("version bump did not change the fingerprint")
	}
}

func TestNewFingerprint_NotCacheable(t *testing.T) {
	_, err := NewFingerprint("load", 1, func() {})

	var nc *domain.NotCacheableError
	if !errors.As(err, &nc) {
		t.Fatalf("err = %v, want NotCacheableError", err)
	}
	if nc.Func != "load" {
		t.Errorf("NotCacheableError.Func = %q, want load", nc.Func)
	}
}
