// Package pdfform introspects fillable PDF templates and applies typed
// values to independent writable copies of them.
package pdfform

// Codec opens templates and merges finished documents. Implementations must
// be safe for concurrent use.
type Codec interface {
	// Open parses a template and returns a reusable handle. It fails with
	// *UnfillableTemplateError when the template has no fillable fields and
	// *TemplateCorruptError when it cannot be parsed.
	Open(path string) (Template, error)

	// Merge concatenates the given documents, in order, into output.
	Merge(inputs []string, output string) error
}

// Template is a parsed template handle. The parsed state is immutable and
// shareable; NewFill may be called from multiple goroutines simultaneously,
// each fill owning its own writable copy.
type Template interface {
	Path() string

	// Fields returns the field catalog in document order. The order is
	// stable across calls for an unmodified template.
	Fields() []FieldDescriptor

	// NewFill derives an independent writable copy. Fails with
	// *TemplateCorruptError when no copy can be produced.
	NewFill() (Fill, error)
}

// Fill is one writable copy of a template. A Fill is not safe for
// concurrent use; each worker owns its fill exclusively.
type Fill interface {
	// SetText writes a text value. An empty value clears the field.
	SetText(fieldID, value string) error

	// SetCheckbox checks or unchecks a checkbox, resolving the widget's
	// actual "on" appearance state.
	SetCheckbox(fieldID string, checked bool) error

	// SetChoice selects an option of a choice field. An empty option
	// clears the selection.
	SetChoice(fieldID, option string) error

	// Flatten renders the current values as static page content and removes
	// the interactive form. One-way; call only after all values are final.
	Flatten() error

	// WriteFile serializes the filled copy to path.
	WriteFile(path string) error
}
