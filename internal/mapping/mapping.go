// Package mapping models the persisted association between source columns
// and template field identifiers, plus the sheet/offset context captured
// when the mapping was created.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Pair binds one source column to one template field.
// It serializes as a two-element array: ["column", "field_id"].
type Pair struct {
	Column  string
	FieldID string
}

// MarshalJSON emits the pair as ["column", "field_id"].
func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Column, p.FieldID})
}

// UnmarshalJSON reads the ["column", "field_id"] form.
func (p *Pair) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("mapping pair must have exactly 2 elements, got %d", len(raw))
	}
	p.Column, p.FieldID = raw[0], raw[1]
	return nil
}

// Rule computes a field value from an expression evaluated against the
// record, with columns available as variables. Rules cover literal,
// concatenation, and conditional assignments that plain pairs cannot.
type Rule struct {
	FieldID string `json:"field_id"`
	Expr    string `json:"expr"`
}

// Mapping is the persisted column-to-field association. Pair order is
// meaningful and preserved; serialization is deterministic so repeated
// saves of an unmodified mapping are byte-identical.
type Mapping struct {
	Pairs       []Pair  `json:"pairs"`
	Sheet       *string `json:"sheet"`
	HeaderRow   int     `json:"header_offset"`
	DataRow     int     `json:"data_offset"`
	FirstColumn int     `json:"first_column"`
	Rules       []Rule  `json:"rules,omitempty"`
}

// New returns an empty mapping.
func New() *Mapping {
	return &Mapping{Pairs: []Pair{}}
}

// DuplicateTargetError reports two assignments writing the same field.
type DuplicateTargetError struct {
	FieldID string
}

func (e *DuplicateTargetError) Error() string {
	return fmt.Sprintf("field %q is already mapped", e.FieldID)
}

// targeted reports whether fieldID is already assigned by a pair or rule.
func (m *Mapping) targeted(fieldID string) bool {
	for _, p := range m.Pairs {
		if p.FieldID == fieldID {
			return true
		}
	}
	for _, r := range m.Rules {
		if r.FieldID == fieldID {
			return true
		}
	}
	return false
}

// AddPair appends a column-to-field pair. A field may be targeted by at
// most one pair or rule.
func (m *Mapping) AddPair(column, fieldID string) error {
	if m.targeted(fieldID) {
		return &DuplicateTargetError{FieldID: fieldID}
	}
	m.Pairs = append(m.Pairs, Pair{Column: column, FieldID: fieldID})
	return nil
}

// AddRule appends an expression rule for a field.
func (m *Mapping) AddRule(fieldID, expression string) error {
	if m.targeted(fieldID) {
		return &DuplicateTargetError{FieldID: fieldID}
	}
	m.Rules = append(m.Rules, Rule{FieldID: fieldID, Expr: expression})
	return nil
}

// RemovePair deletes the assignment targeting fieldID, pair or rule.
// It reports whether anything was removed.
func (m *Mapping) RemovePair(fieldID string) bool {
	for i, p := range m.Pairs {
		if p.FieldID == fieldID {
			m.Pairs = append(m.Pairs[:i], m.Pairs[i+1:]...)
			return true
		}
	}
	for i, r := range m.Rules {
		if r.FieldID == fieldID {
			m.Rules = append(m.Rules[:i], m.Rules[i+1:]...)
			return true
		}
	}
	return false
}

// Load reads a mapping from its JSON persistence format.
func Load(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping %s: %w", path, err)
	}
	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse mapping %s: %w", path, err)
	}
	return m, nil
}

// Save writes the mapping atomically: the JSON lands in a temp file next to
// the destination and is renamed into place, so a crash never leaves a
// partially written mapping behind.
func (m *Mapping) Save(path string) error {
	data, err := m.Serialize()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mapping-*")
	if err != nil {
		return fmt.Errorf("failed to create temp mapping file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write mapping: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close mapping file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish mapping: %w", err)
	}
	return nil
}

// Serialize returns the deterministic JSON form of the mapping.
func (m *Mapping) Serialize() ([]byte, error) {
	if m.Pairs == nil {
		m.Pairs = []Pair{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize mapping: %w", err)
	}
	return append(data, '\n'), nil
}
