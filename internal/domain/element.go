// Package domain holds the core types shared across the runtime.
package domain

// ElementKind identifies a UI element descriptor. The runtime never
// renders these; a client-side collaborator turns them into markup.
type ElementKind string

// Interactive widget kinds.
const (
	KindSlider      ElementKind = "slider"
	KindNumberInput ElementKind = "number_input"
	KindTextInput   ElementKind = "text_input"
	KindCheckbox    ElementKind = "checkbox"
	KindSelect      ElementKind = "select"
	KindButton      ElementKind = "button"
	KindFileUpload  ElementKind = "file_upload"
)

// Display-only kinds. Their payload is opaque to the runtime.
const (
	KindText     ElementKind = "text"
	KindMarkdown ElementKind = "markdown"
	KindJSON     ElementKind = "json"
	KindMetric   ElementKind = "metric"
	KindTable    ElementKind = "table"
	KindChart    ElementKind = "chart"
)

// Element is one node of the emitted UI tree: a widget with its
// resolved identity and current value, or a display with its payload.
type Element struct {
	Identity string      `json:"identity"`
	Kind     ElementKind `json:"kind"`
	Label    string      `json:"label,omitempty"`
	Value    any         `json:"value,omitempty"`
	Payload  any         `json:"payload,omitempty"`
}

// UITree is the ordered output of one completed rerun. Elements appear
// in script source order so the client can diff positionally.
type UITree struct {
	Elements []Element `json:"elements"`
}

// Frame is what the scheduler delivers after each generation: a tree
// on success or an error descriptor on failure, never both.
type Frame struct {
	Generation uint64           `json:"generation"`
	Tree       *UITree          `json:"tree,omitempty"`
	Error      *ErrorDescriptor `json:"error,omitempty"`
}
