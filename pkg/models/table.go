package models

import (
	"fmt"
)

// ColumnKind distinguishes how a column is encoded. The kind is a tagged
// variant: a Series carries float values or string values, never both.
type ColumnKind string

const (
	// ColumnContinuous marks a numeric column encoded by mode-specific
	// normalization against a fitted Gaussian mixture.
	ColumnContinuous ColumnKind = "continuous"

	// ColumnDiscrete marks a categorical column encoded as a one-hot vector
	// over its fit-time category set.
	ColumnDiscrete ColumnKind = "discrete"
)

// Series is a single named column. Continuous columns hold Floats, discrete
// columns hold Strings; the inactive slice is nil.
type Series struct {
	Name    string     `json:"name"`
	Kind    ColumnKind `json:"kind"`
	Floats  []float64  `json:"floats,omitempty"`
	Strings []string   `json:"strings,omitempty"`
}

// NewFloatSeries creates a continuous column.
func NewFloatSeries(name string, values []float64) Series {
	return Series{Name: name, Kind: ColumnContinuous, Floats: values}
}

// NewStringSeries creates a discrete column.
func NewStringSeries(name string, values []string) Series {
	return Series{Name: name, Kind: ColumnDiscrete, Strings: values}
}

// Len returns the number of rows in the series.
func (s *Series) Len() int {
	if s.Kind == ColumnDiscrete {
		return len(s.Strings)
	}
	return len(s.Floats)
}

// Table is an ordered collection of equally sized columns. Column order is
// fixed at construction and preserved through transform and generation.
type Table struct {
	columns []Series
	names   map[string]int
}

// NewTable creates a table from ordered columns. All columns must have the
// same length and unique names.
func NewTable(columns ...Series) (*Table, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("table must have at least one column")
	}

	names := make(map[string]int, len(columns))
	rows := columns[0].Len()
	for i, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, dup := names[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", col.Name)
		}
		if col.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", col.Name, col.Len(), rows)
		}
		names[col.Name] = i
	}

	return &Table{columns: columns, names: names}, nil
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	return t.columns[0].Len()
}

// NumColumns returns the column count.
func (t *Table) NumColumns() int {
	return len(t.columns)
}

// ColumnNames returns the column names in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.Name
	}
	return names
}

// Column returns the named column.
func (t *Table) Column(name string) (*Series, bool) {
	idx, ok := t.names[name]
	if !ok {
		return nil, false
	}
	return &t.columns[idx], true
}

// ColumnAt returns the column at the given position.
func (t *Table) ColumnAt(i int) *Series {
	return &t.columns[i]
}

// HasColumn reports whether the table contains the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.names[name]
	return ok
}
