// Package table implements lookup tables rules read through
// table_<code>(dimension values...).
package table

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/liamcoop/ruleengine/script"
)

// MaxDimensions bounds the number of dimensions of a table.
const MaxDimensions = 4

// DimensionKind selects how a lookup value matches dimension entries.
type DimensionKind string

const (
	// KindValue matches entries equal to the lookup value.
	KindValue DimensionKind = "value"
	// KindDate matches entries equal to the lookup date.
	KindDate DimensionKind = "date"
	// KindRange matches entries with start <= value < end; an open bound
	// is None.
	KindRange DimensionKind = "range"
	// KindDateRange is KindRange over dates.
	KindDateRange DimensionKind = "range-date"
)

var (
	// ErrTableNotFound is returned for unknown table codes.
	ErrTableNotFound = errors.New("table not found")

	// ErrAmbiguousCell is returned when a lookup matches several cells.
	ErrAmbiguousCell = errors.New("several cells with same dimensions")
)

// Entry is one possible position along a dimension.
type Entry struct {
	Value script.Value `json:"value" yaml:"value"`
	Start script.Value `json:"start" yaml:"start"`
	End   script.Value `json:"end" yaml:"end"`
}

// Dimension is one axis of a table.
type Dimension struct {
	Name    string        `json:"name" yaml:"name"`
	Kind    DimensionKind `json:"kind" yaml:"kind"`
	Entries []Entry       `json:"entries" yaml:"entries"`
}

// Cell holds the value at one entry index per dimension.
type Cell struct {
	Key   []int        `json:"key" yaml:"key"`
	Value script.Value `json:"value" yaml:"value"`
}

// Table is a lookup table.
type Table struct {
	Code       string      `json:"code" yaml:"code"`
	Name       string      `json:"name" yaml:"name"`
	Dimensions []Dimension `json:"dimensions" yaml:"dimensions"`
	Cells      []Cell      `json:"cells" yaml:"cells"`
}

// Validate checks the table shape.
func (t *Table) Validate() error {
	if t.Code == "" {
		return fmt.Errorf("table code cannot be empty")
	}
	if len(t.Dimensions) == 0 || len(t.Dimensions) > MaxDimensions {
		return fmt.Errorf("table %s has %d dimensions, expected 1 to %d", t.Code, len(t.Dimensions), MaxDimensions)
	}
	for _, d := range t.Dimensions {
		switch d.Kind {
		case KindValue, KindDate, KindRange, KindDateRange:
		default:
			return fmt.Errorf("table %s: dimension %s has unknown kind %q", t.Code, d.Name, d.Kind)
		}
	}
	for _, c := range t.Cells {
		if len(c.Key) != len(t.Dimensions) {
			return fmt.Errorf("table %s: cell key %v does not have %d dimensions", t.Code, c.Key, len(t.Dimensions))
		}
		for i, k := range c.Key {
			if k < 0 || k >= len(t.Dimensions[i].Entries) {
				return fmt.Errorf("table %s: cell key %v out of range for dimension %s", t.Code, c.Key, t.Dimensions[i].Name)
			}
		}
	}
	return nil
}

// Lookup returns the cell value addressed by values, one per dimension, or
// None when no cell matches.
func (t *Table) Lookup(values ...script.Value) (script.Value, error) {
	if len(values) > len(t.Dimensions) {
		return script.None(), fmt.Errorf("table %s has %d dimensions, got %d values", t.Code, len(t.Dimensions), len(values))
	}

	key := make([]int, len(t.Dimensions))
	for i, d := range t.Dimensions {
		v := script.None()
		if i < len(values) {
			v = values[i]
		}
		idx, err := d.find(v)
		if err != nil {
			return script.None(), fmt.Errorf("table %s: %w", t.Code, err)
		}
		if idx < 0 {
			return script.None(), nil
		}
		key[i] = idx
	}

	var (
		found script.Value
		n     int
	)
	for _, c := range t.Cells {
		if equalKeys(c.Key, key) {
			found = c.Value
			n++
		}
	}
	if n > 1 {
		return script.None(), fmt.Errorf("table %s: %w %v", t.Code, ErrAmbiguousCell, key)
	}
	return found, nil
}

func (d Dimension) find(v script.Value) (int, error) {
	idx := -1
	for i, e := range d.Entries {
		if !e.matches(d.Kind, v) {
			continue
		}
		if idx >= 0 {
			return -1, fmt.Errorf("dimension %s: overlapping entries for %s", d.Name, v.Literal())
		}
		idx = i
	}
	return idx, nil
}

func (e Entry) matches(kind DimensionKind, v script.Value) bool {
	switch kind {
	case KindValue, KindDate:
		return e.Value.Equal(v)
	case KindRange, KindDateRange:
		if v.IsNone() {
			return false
		}
		return below(e.Start, v, true) && below(v, e.End, false)
	}
	return false
}

// below reports a <= b (orEqual) or a < b; None is an open bound.
func below(a, b script.Value, orEqual bool) bool {
	if a.IsNone() || b.IsNone() {
		return true
	}
	var c int
	switch {
	case a.Kind() == script.KindDecimal && b.Kind() == script.KindDecimal:
		c = a.Dec().Cmp(b.Dec())
	case a.Kind() == script.KindDate && b.Kind() == script.KindDate:
		c = a.Time().Compare(b.Time())
	default:
		return false
	}
	if orEqual {
		return c <= 0
	}
	return c < 0
}

func equalKeys(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Store gives access to tables by code.
type Store interface {
	Get(code string) (*Table, error)
}

// InMemoryStore is a Store backed by a map.
type InMemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tables: make(map[string]*Table)}
}

// Put validates and stores t, replacing any table with the same code.
func (s *InMemoryStore) Put(t *Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.Code] = t
	return nil
}

// Get returns the table with the given code.
func (s *InMemoryStore) Get(code string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, code)
	}
	return t, nil
}

// Codes lists the stored table codes in order.
func (s *InMemoryStore) Codes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tables))
	for c := range s.tables {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
