package state

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGet_MissingKeyReturnsDefaultWithoutCreating(t *testing.T) {
	s := NewStore()

	got := s.Get("counter", 42)
	if got != 42 {
		t.Errorf("Get default = %v, want 42", got)
	}
	if s.Has("counter") {
		t.Error("Get must not create the entry")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestCommit_MakesWritesDurable(t *testing.T) {
	s := NewStore()

	p := s.Begin()
	p.Set("name", "alice")
	if s.Has("name") {
		t.Error("pending write must not be visible in committed state")
	}

	s.Commit(p)
	if got := s.Get("name", ""); got != "alice" {
		t.Errorf("Get after commit = %v, want alice", got)
	}
}

func TestPending_ReadYourWrites(t *testing.T) {
	s := NewStore()
	prev := s.Begin()
	prev.Set("k", "committed")
	s.Commit(prev)

	p := s.Begin()
	if got := p.Get("k", ""); got != "committed" {
		t.Errorf("pending read of committed value = %v, want committed", got)
	}
	p.Set("k", "mine")
	if got := p.Get("k", ""); got != "mine" {
		t.Errorf("read-your-writes = %v, want mine", got)
	}
	// The base store still sees the committed value.
	if got := s.Get("k", ""); got != "committed" {
		t.Errorf("base store sees %v, want committed", got)
	}
}

func TestPending_ClearHidesAndRemoves(t *testing.T) {
	s := NewStore()
	p := s.Begin()
	p.Set("k", 1)
	s.Commit(p)

	p2 := s.Begin()
	p2.Clear("k")
	if p2.Has("k") {
		t.Error("cleared key must be absent in the rerun's view")
	}
	if got := p2.Get("k", "gone"); got != "gone" {
		t.Errorf("cleared key Get = %v, want default", got)
	}

	s.Commit(p2)
	if s.Has("k") {
		t.Error("cleared key must be removed on commit")
	}
}

func TestDiscardedPending_HasNoEffect(t *testing.T) {
	s := NewStore()
	base := s.Begin()
	base.Set("k", "v1")
	s.Commit(base)

	abandoned := s.Begin()
	abandoned.Set("k", "v2")
	abandoned.Set("other", "x")
	// Never committed: simulates a cancelled or failed rerun.

	if got := s.Get("k", ""); got != "v1" {
		t.Errorf("committed value = %v, want v1", got)
	}
	if s.Has("other") {
		t.Error("uncommitted write leaked into the store")
	}
}

func TestVersions_MonotonicPerKey(t *testing.T) {
	s := NewStore()

	for i := 1; i <= 3; i++ {
		p := s.Begin()
		p.Set("k", i)
		s.Commit(p)
		if got := s.Version("k"); got != uint64(i) {
			t.Errorf("version after commit %d = %d, want %d", i, got, i)
		}
	}

	// A commit that does not touch the key leaves its version alone.
	p := s.Begin()
	p.Set("unrelated", true)
	s.Commit(p)
	if got := s.Version("k"); got != 3 {
		t.Errorf("version = %d, want 3", got)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := NewStore()
	p := s.Begin()
	p.Set("a", 1)
	p.Set("b", 2)
	s.Commit(p)

	snap := s.Snapshot()
	snap["a"] = 99
	snap["c"] = 3

	if got := s.Get("a", 0); got != 1 {
		t.Errorf("store mutated through snapshot: a = %v", got)
	}
	if s.Has("c") {
		t.Error("store mutated through snapshot: c exists")
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	s := NewStore()
	p := s.Begin()
	p.Set("a", "x")
	p.Set("b", float64(2))
	s.Commit(p)

	s2 := NewStore()
	s2.Restore(s.Entries())

	if diff := cmp.Diff(s.Snapshot(), s2.Snapshot()); diff != "" {
		t.Errorf("restored snapshot mismatch (-want +got):\n%s", diff)
	}
	if got := s2.Version("b"); got != 1 {
		t.Errorf("restored version = %d, want 1", got)
	}
}
