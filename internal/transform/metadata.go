package transform

import (
	"github.com/tabsynth/tabsynth/pkg/models"
)

// ComponentParams holds the parameters of one fitted mixture component.
type ComponentParams struct {
	Weight float64 `json:"weight"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
}

// ColumnMeta is the immutable per-column encoding learned at fit time.
// It is a tagged variant over the column kind: continuous columns carry
// mixture components, discrete columns carry an ordered category set.
type ColumnMeta struct {
	Name       string            `json:"name"`
	Kind       models.ColumnKind `json:"kind"`
	Components []ComponentParams `json:"components,omitempty"`
	Categories []string          `json:"categories,omitempty"`
}

// Width returns the number of slots this column occupies in a transformed row:
// continuous columns contribute a normalized scalar plus a component one-hot,
// discrete columns a one-hot over their categories.
func (c *ColumnMeta) Width() int {
	if c.Kind == models.ColumnDiscrete {
		return len(c.Categories)
	}
	return 1 + len(c.Components)
}

// Segment describes where a column's encoding lives inside a transformed row.
type Segment struct {
	Column      string
	Kind        models.ColumnKind
	Offset      int
	ScalarWidth int // 1 for continuous, 0 for discrete
	OneHotWidth int // mixture components or categories
}

// Width returns the total slot count of the segment.
func (s Segment) Width() int {
	return s.ScalarWidth + s.OneHotWidth
}

// Metadata is the fit-time column metadata for a whole table. Built once per
// Fit call, immutable afterwards, and shared read-only with the sampler and
// the training loop.
type Metadata struct {
	Columns []ColumnMeta `json:"columns"`

	catIndex []map[string]int
}

func newMetadata(columns []ColumnMeta) *Metadata {
	md := &Metadata{Columns: columns}
	md.buildIndex()
	return md
}

// buildIndex rebuilds the category lookup maps. Called after construction and
// after deserializing a checkpoint.
func (md *Metadata) buildIndex() {
	md.catIndex = make([]map[string]int, len(md.Columns))
	for i, col := range md.Columns {
		if col.Kind != models.ColumnDiscrete {
			continue
		}
		idx := make(map[string]int, len(col.Categories))
		for j, cat := range col.Categories {
			idx[cat] = j
		}
		md.catIndex[i] = idx
	}
}

// Width returns the fixed length of a transformed row.
func (md *Metadata) Width() int {
	w := 0
	for i := range md.Columns {
		w += md.Columns[i].Width()
	}
	return w
}

// Segments returns the per-column layout of a transformed row, in the fixed
// concatenation order established at fit time.
func (md *Metadata) Segments() []Segment {
	segments := make([]Segment, len(md.Columns))
	offset := 0
	for i := range md.Columns {
		col := &md.Columns[i]
		seg := Segment{Column: col.Name, Kind: col.Kind, Offset: offset}
		if col.Kind == models.ColumnDiscrete {
			seg.OneHotWidth = len(col.Categories)
		} else {
			seg.ScalarWidth = 1
			seg.OneHotWidth = len(col.Components)
		}
		segments[i] = seg
		offset += seg.Width()
	}
	return segments
}

// DiscreteColumns returns the indices of discrete columns in table order.
func (md *Metadata) DiscreteColumns() []int {
	var out []int
	for i := range md.Columns {
		if md.Columns[i].Kind == models.ColumnDiscrete {
			out = append(out, i)
		}
	}
	return out
}

// CategoryIndex returns the fit-time index of a category within a column.
func (md *Metadata) CategoryIndex(column int, value string) (int, bool) {
	if md.catIndex == nil {
		md.buildIndex()
	}
	idx := md.catIndex[column]
	if idx == nil {
		return 0, false
	}
	j, ok := idx[value]
	return j, ok
}

// ColumnIndex returns the position of a named column.
func (md *Metadata) ColumnIndex(name string) (int, bool) {
	for i := range md.Columns {
		if md.Columns[i].Name == name {
			return i, true
		}
	}
	return 0, false
}
