// Package fill applies a validated mapping and one record to a template
// copy, producing a filled document with per-field failure isolation.
package fill

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/mapping"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/pdfform"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/tabular"
)

// Status classifies the outcome of filling one record.
type Status string

const (
	StatusFilled          Status = "filled"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFailed          Status = "failed"
	StatusTimedOut        Status = "timed_out"
	StatusSkipped         Status = "skipped"
)

// FieldFailure records one field that could not be written.
type FieldFailure struct {
	FieldID string
	Err     error
}

// Result is the per-record outcome consumed by the batch report.
type Result struct {
	Index        int
	Status       Status
	OutputPath   string
	FailedFields []FieldFailure
	Err          error
}

// Succeeded reports whether an output artifact was produced.
func (r Result) Succeeded() bool {
	return r.Status == StatusFilled || r.Status == StatusPartiallyFilled
}

// ValueNotInDomainError reports a choice-field value outside the field's
// allowed options. Field-level and non-fatal to the record by default.
type ValueNotInDomainError struct {
	FieldID string
	Value   string
	Options []string
}

func (e *ValueNotInDomainError) Error() string {
	return fmt.Sprintf("value %q for field %q is not one of: %s",
		e.Value, e.FieldID, strings.Join(e.Options, ", "))
}

// Options configures the engine.
type Options struct {
	// Flatten converts each output to a non-editable state after all
	// values are written.
	Flatten bool

	// StrictValues makes a field-level coercion failure fatal for the
	// record instead of producing a partially filled document.
	StrictValues bool

	// Timeout bounds one record's fill. Zero means no limit.
	Timeout time.Duration
}

// Engine fills template copies from records. It holds only read-only state
// and is safe for concurrent use by multiple workers.
type Engine struct {
	template  pdfform.Template
	validated *mapping.Validated
	opts      Options
}

// New creates an engine bound to a template handle and validated mapping.
func New(template pdfform.Template, validated *mapping.Validated, opts Options) *Engine {
	return &Engine{template: template, validated: validated, opts: opts}
}

// Fill produces one filled document for the record at the given index.
// The output is written to a temporary file and renamed into place on
// success, so outPath never holds a half-written document.
func (e *Engine) Fill(ctx context.Context, index int, record tabular.Record, outPath string) Result {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		done <- e.fillOnce(ctx, index, record, outPath)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		status := StatusFailed
		if ctx.Err() == context.DeadlineExceeded {
			status = StatusTimedOut
		}
		return Result{Index: index, Status: status, Err: ctx.Err()}
	}
}

func (e *Engine) fillOnce(ctx context.Context, index int, record tabular.Record, outPath string) Result {
	res := Result{Index: index}

	f, err := e.template.NewFill()
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	for _, pair := range e.validated.Pairs {
		err := e.apply(f, pair.Field, record[pair.Column])
		if fatal := e.recordFieldError(&res, pair.Field.ID, err); fatal {
			return res
		}
	}

	if len(e.validated.Rules) > 0 {
		env := make(map[string]any, len(record))
		for col, val := range record {
			env[col] = val
		}
		for _, rule := range e.validated.Rules {
			out, err := expr.Run(rule.Program, env)
			if err == nil {
				err = e.apply(f, rule.Field, stringify(out))
			}
			if fatal := e.recordFieldError(&res, rule.Field.ID, err); fatal {
				return res
			}
		}
	}

	if e.opts.Flatten {
		if err := f.Flatten(); err != nil {
			res.Status = StatusFailed
			res.Err = err
			return res
		}
	}

	tmpPath := outPath + ".partial"
	if err := f.WriteFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	// The deadline may have lapsed during the write. A record already
	// reported as timed out must not publish an artifact afterwards.
	if err := ctx.Err(); err != nil {
		os.Remove(tmpPath)
		res.Status = StatusFailed
		if err == context.DeadlineExceeded {
			res.Status = StatusTimedOut
		}
		res.Err = err
		return res
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		res.Status = StatusFailed
		res.Err = fmt.Errorf("failed to publish output: %w", err)
		return res
	}

	res.OutputPath = outPath
	if len(res.FailedFields) > 0 {
		res.Status = StatusPartiallyFilled
	} else {
		res.Status = StatusFilled
	}
	return res
}

// recordFieldError folds one field's error into the result. It reports
// whether the error is fatal for the record.
func (e *Engine) recordFieldError(res *Result, fieldID string, err error) bool {
	if err == nil {
		return false
	}
	if e.opts.StrictValues {
		res.Status = StatusFailed
		res.Err = err
		res.FailedFields = append(res.FailedFields, FieldFailure{FieldID: fieldID, Err: err})
		return true
	}
	res.FailedFields = append(res.FailedFields, FieldFailure{FieldID: fieldID, Err: err})
	return false
}

// apply coerces the raw record value per field kind and writes it. Absent
// values produce the field's empty representation.
func (e *Engine) apply(f pdfform.Fill, field pdfform.FieldDescriptor, raw string) error {
	switch field.Kind {
	case pdfform.KindText:
		return f.SetText(field.ID, raw)
	case pdfform.KindDate:
		return f.SetText(field.ID, normalizeDate(raw))
	case pdfform.KindCheckbox:
		return f.SetCheckbox(field.ID, truthy(raw))
	case pdfform.KindChoice:
		if raw == "" {
			return f.SetChoice(field.ID, "")
		}
		if len(field.Options) > 0 && !containsOption(field.Options, raw) {
			return &ValueNotInDomainError{FieldID: field.ID, Value: raw, Options: field.Options}
		}
		return f.SetChoice(field.ID, raw)
	default:
		return fmt.Errorf("unhandled field kind %q for field %q", field.Kind, field.ID)
	}
}

func containsOption(options []string, value string) bool {
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}
