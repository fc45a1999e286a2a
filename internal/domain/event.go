package domain

// Event is an interaction delivered by the rendering collaborator: a
// widget identified by the previous tree changed to a new value. A nil
// *Event triggers a rerun with no interaction (initial run, or a
// script-requested rerun).
//
// A form submit arrives as one event: Identity names the submit
// button and Updates carries every edit batched inside the form. The
// whole batch is applied in the single rerun the submit triggers.
type Event struct {
	Identity string   `json:"identity"`
	Value    any      `json:"value"`
	Updates  []Update `json:"updates,omitempty"`
}

// Update is one widget edit inside a batched event.
type Update struct {
	Identity string `json:"identity"`
	Value    any    `json:"value"`
}
