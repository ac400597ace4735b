package pdfform

import "fmt"

// FieldKind classifies a fillable field. The set is closed so value
// coercion can switch exhaustively.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindCheckbox FieldKind = "checkbox"
	KindChoice   FieldKind = "choice"
	KindDate     FieldKind = "date"
)

// FieldDescriptor identifies one fillable field in a template.
// Descriptors are immutable once introspected; IDs are unique per template.
type FieldDescriptor struct {
	ID      string    `json:"id"`
	Kind    FieldKind `json:"kind"`
	Page    int       `json:"page"`
	Options []string  `json:"options,omitempty"` // choice fields only
	Value   string    `json:"value,omitempty"`   // value present at introspection time
}

// UnfillableTemplateError reports a template without any fillable fields.
type UnfillableTemplateError struct {
	Path string
}

func (e *UnfillableTemplateError) Error() string {
	return fmt.Sprintf("template %s contains no fillable form fields", e.Path)
}

// TemplateCorruptError reports a template that cannot be parsed or cannot
// produce an independent writable copy.
type TemplateCorruptError struct {
	Path string
	Err  error
}

func (e *TemplateCorruptError) Error() string {
	return fmt.Sprintf("template %s is corrupt: %v", e.Path, e.Err)
}

func (e *TemplateCorruptError) Unwrap() error {
	return e.Err
}

// UnknownFieldError reports a write against a field id the template does
// not define.
type UnknownFieldError struct {
	FieldID string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("template defines no field %q", e.FieldID)
}
