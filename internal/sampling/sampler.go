package sampling

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/tabsynth/tabsynth/internal/transform"
	"github.com/tabsynth/tabsynth/pkg/errors"
	"github.com/tabsynth/tabsynth/pkg/models"
)

// indexedColumn is the row index for one discrete column: one bucket of row
// ids per category. Buckets are disjoint and their union is the full row set.
type indexedColumn struct {
	column     int // position in metadata columns
	name       string
	categories []string
	buckets    [][]int
	freq       []int
}

// DataSampler indexes transformed rows by categorical value so minibatches can
// be drawn conditionally during training. Built once per fit, then shared
// read-only; randomness comes from the caller-supplied generator.
type DataSampler struct {
	numRows int
	columns []indexedColumn
}

// NewDataSampler builds the row index from a transformed matrix and its
// fit-time metadata. Category membership is read from the one-hot segments.
func NewDataSampler(m *mat.Dense, meta *transform.Metadata) (*DataSampler, error) {
	rows, _ := m.Dims()
	s := &DataSampler{numRows: rows}

	for ci, seg := range meta.Segments() {
		if seg.Kind != models.ColumnDiscrete {
			continue
		}
		idx := indexedColumn{
			column:     ci,
			name:       seg.Column,
			categories: meta.Columns[ci].Categories,
			buckets:    make([][]int, seg.OneHotWidth),
		}
		for r := 0; r < rows; r++ {
			cat := argmaxSegment(m, r, seg.Offset, seg.OneHotWidth)
			idx.buckets[cat] = append(idx.buckets[cat], r)
		}
		idx.freq = make([]int, len(idx.buckets))
		for j, bucket := range idx.buckets {
			idx.freq[j] = len(bucket)
		}
		s.columns = append(s.columns, idx)
	}

	return s, nil
}

// RestoreDataSampler rebuilds a sampler from checkpointed category
// frequencies. The restored sampler supports conditional vector construction
// for generation; row buckets are not restored, so it cannot serve training.
func RestoreDataSampler(meta *transform.Metadata, numRows int, frequencies [][]int) *DataSampler {
	s := &DataSampler{numRows: numRows}
	pos := 0
	for _, ci := range meta.DiscreteColumns() {
		col := &meta.Columns[ci]
		s.columns = append(s.columns, indexedColumn{
			column:     ci,
			name:       col.Name,
			categories: col.Categories,
			freq:       frequencies[pos],
		})
		pos++
	}
	return s
}

// Frequencies returns per-column category frequencies for checkpointing.
func (s *DataSampler) Frequencies() [][]int {
	out := make([][]int, len(s.columns))
	for i := range s.columns {
		out[i] = append([]int(nil), s.columns[i].freq...)
	}
	return out
}

// NumRows returns the number of indexed rows.
func (s *DataSampler) NumRows() int {
	return s.numRows
}

// NumDiscreteColumns returns the number of indexed discrete columns.
func (s *DataSampler) NumDiscreteColumns() int {
	return len(s.columns)
}

// ColumnName returns the name of the i-th indexed discrete column.
func (s *DataSampler) ColumnName(i int) string {
	return s.columns[i].name
}

// NumCategories returns the category count of the i-th discrete column.
func (s *DataSampler) NumCategories(i int) int {
	return len(s.columns[i].freq)
}

// CategoryFrequency returns the number of rows holding the given category.
func (s *DataSampler) CategoryFrequency(column, category int) int {
	return s.columns[column].freq[category]
}

// SampleUniform draws n row indices uniformly at random with replacement from
// the full row set.
func (s *DataSampler) SampleUniform(rng *rand.Rand, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = rng.Intn(s.numRows)
	}
	return out
}

// SampleMatching draws one row index per batch entry from the bucket named by
// that entry's condition. Unconditioned entries draw from the full row set.
// An empty bucket means metadata and index disagree; that is an internal
// invariant violation, not a user error.
func (s *DataSampler) SampleMatching(rng *rand.Rand, batch *ConditionBatch) ([]int, error) {
	out := make([]int, batch.Size())
	for i := 0; i < batch.Size(); i++ {
		col := batch.Columns[i]
		if col < 0 {
			out[i] = rng.Intn(s.numRows)
			continue
		}
		cat := batch.Categories[i]
		bucket := s.columns[col].buckets[cat]
		if len(bucket) == 0 {
			return nil, errors.NewEmptyBucketError(s.columns[col].name, s.columns[col].categories[cat])
		}
		out[i] = bucket[rng.Intn(len(bucket))]
	}
	return out, nil
}

// argmaxSegment returns the position of the largest value in
// m[row, start:start+width], ties to the lowest index.
func argmaxSegment(m *mat.Dense, row, start, width int) int {
	best := 0
	bestVal := m.At(row, start)
	for j := 1; j < width; j++ {
		if v := m.At(row, start+j); v > bestVal {
			bestVal = v
			best = j
		}
	}
	return best
}
