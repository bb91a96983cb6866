package column

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// ErrSchemaMismatch is returned for a batch whose schema is not the stored
// column list.
var ErrSchemaMismatch = errors.New("column: batch schema does not match stored columns")

type step struct {
	field Field
	col   int
}

// Layout maps the column list an entry was stored with onto a record's bound
// fields. Stored columns the record does not declare (or declares with
// another kind) are never read; declared columns missing from storage keep
// whatever value the record was reset to.
type Layout struct {
	stored  []Desc
	types   []arrow.DataType
	steps   []step
	matched []string
	missing []string
}

// NewLayout builds the read plan for fields against stored.
func NewLayout(fields []Field, stored []Desc) (*Layout, error) {
	byName := make(map[string]Field, len(fields))
	for _, f := range fields {
		byName[f.Desc().Name] = f
	}
	l := &Layout{stored: stored, types: make([]arrow.DataType, len(stored))}
	seen := make(map[string]bool, len(stored))
	for i, d := range stored {
		t, err := DataType(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("building layout: column %q: %w", d.Name, err)
		}
		l.types[i] = t
		seen[d.Name] = true
		if f, ok := byName[d.Name]; ok && f.Desc().Kind == d.Kind {
			l.steps = append(l.steps, step{field: f, col: i})
			l.matched = append(l.matched, d.Name)
		}
	}
	for _, f := range fields {
		if !seen[f.Desc().Name] {
			l.missing = append(l.missing, f.Desc().Name)
		}
	}
	return l, nil
}

// Check verifies that batches with schema s hold the stored columns.
func (l *Layout) Check(s *arrow.Schema) error {
	if s.NumFields() != len(l.stored) {
		return fmt.Errorf("%w: %d columns, want %d", ErrSchemaMismatch, s.NumFields(), len(l.stored))
	}
	for i, d := range l.stored {
		f := s.Field(i)
		if f.Name != d.Name || !arrow.TypeEqual(f.Type, l.types[i]) {
			return fmt.Errorf("%w: column %d is %s %s, want %s", ErrSchemaMismatch, i, f.Name, f.Type, d)
		}
	}
	return nil
}

// Load reads row i of a batch that passed Check.
func (l *Layout) Load(batch arrow.Record, i int) {
	for _, s := range l.steps {
		s.field.Load(batch.Column(s.col), i)
	}
}

// Matched returns the names of stored columns bound to record fields.
func (l *Layout) Matched() []string { return l.matched }

// Missing returns the names of record fields absent from storage.
func (l *Layout) Missing() []string { return l.missing }
