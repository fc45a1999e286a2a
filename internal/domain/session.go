package domain

import "time"

// Session identifies one independent interaction stream. Runtime-side
// session state (store, widget values, scheduler) lives in
// internal/session; this record is what gets persisted.
type Session struct {
	SessionID  string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// StateEntry is one persisted key of a session's state store. Value is
// opaque; the version counter increases on every committed write.
type StateEntry struct {
	Key       string
	Value     any
	Version   uint64
	UpdatedAt time.Time
}

// WidgetRecord binds a resolved widget identity to its value for one
// rerun. Records are rebuilt every rerun from the script's declarative
// calls; values carry over by identity.
type WidgetRecord struct {
	Identity string
	Kind     ElementKind
	Default  any
	Value    any
}
