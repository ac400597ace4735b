package mapping

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/pdfform"
)

// UnresolvedReferenceError reports pairs or rules referencing columns or
// fields that do not exist in the bound schema or field catalog. Typical
// cause: a saved mapping reloaded against a changed template or source.
type UnresolvedReferenceError struct {
	Columns []string
	Fields  []string
}

func (e *UnresolvedReferenceError) Error() string {
	var parts []string
	if len(e.Columns) > 0 {
		parts = append(parts, fmt.Sprintf("unknown columns: %s", strings.Join(e.Columns, ", ")))
	}
	if len(e.Fields) > 0 {
		parts = append(parts, fmt.Sprintf("unknown fields: %s", strings.Join(e.Fields, ", ")))
	}
	return "mapping does not resolve: " + strings.Join(parts, "; ")
}

// RuleCompileError reports an expression rule that fails to compile.
type RuleCompileError struct {
	FieldID string
	Err     error
}

func (e *RuleCompileError) Error() string {
	return fmt.Sprintf("rule for field %q does not compile: %v", e.FieldID, e.Err)
}

func (e *RuleCompileError) Unwrap() error {
	return e.Err
}

// BoundPair is a pair resolved against the field catalog.
type BoundPair struct {
	Column string
	Field  pdfform.FieldDescriptor
}

// BoundRule is a rule resolved and compiled.
type BoundRule struct {
	Field   pdfform.FieldDescriptor
	Program *vm.Program
}

// Validated is a mapping checked against a concrete schema and field
// catalog. It is read-only once created and safe to share across workers.
type Validated struct {
	Pairs []BoundPair
	Rules []BoundRule
}

// Bind validates the mapping against the source schema and the template's
// field catalog, compiling expression rules along the way. All unresolved
// references are collected before failing so the caller can report every
// missing name at once.
func (m *Mapping) Bind(columns []string, fields []pdfform.FieldDescriptor) (*Validated, error) {
	colSet := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		colSet[c] = struct{}{}
	}
	fieldByID := make(map[string]pdfform.FieldDescriptor, len(fields))
	for _, f := range fields {
		fieldByID[f.ID] = f
	}

	unresolved := &UnresolvedReferenceError{}
	seen := make(map[string]struct{}, len(m.Pairs)+len(m.Rules))
	v := &Validated{}

	for _, p := range m.Pairs {
		if _, ok := seen[p.FieldID]; ok {
			return nil, &DuplicateTargetError{FieldID: p.FieldID}
		}
		seen[p.FieldID] = struct{}{}

		field, fieldOK := fieldByID[p.FieldID]
		if !fieldOK {
			unresolved.Fields = append(unresolved.Fields, p.FieldID)
		}
		if _, colOK := colSet[p.Column]; !colOK {
			unresolved.Columns = append(unresolved.Columns, p.Column)
		}
		if fieldOK {
			v.Pairs = append(v.Pairs, BoundPair{Column: p.Column, Field: field})
		}
	}

	for _, r := range m.Rules {
		if _, ok := seen[r.FieldID]; ok {
			return nil, &DuplicateTargetError{FieldID: r.FieldID}
		}
		seen[r.FieldID] = struct{}{}

		field, fieldOK := fieldByID[r.FieldID]
		if !fieldOK {
			unresolved.Fields = append(unresolved.Fields, r.FieldID)
			continue
		}
		program, err := expr.Compile(r.Expr, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, &RuleCompileError{FieldID: r.FieldID, Err: err}
		}
		v.Rules = append(v.Rules, BoundRule{Field: field, Program: program})
	}

	if len(unresolved.Columns) > 0 || len(unresolved.Fields) > 0 {
		return nil, unresolved
	}
	return v, nil
}

// Default pairs columns with fields positionally, mirroring the pairing
// suggestion presented when no saved mapping exists.
func Default(columns []string, fields []pdfform.FieldDescriptor) *Mapping {
	m := New()
	n := len(columns)
	if len(fields) < n {
		n = len(fields)
	}
	for i := 0; i < n; i++ {
		m.Pairs = append(m.Pairs, Pair{Column: columns[i], FieldID: fields[i].ID})
	}
	return m
}
