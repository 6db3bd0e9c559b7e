package sampling

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsynth/tabsynth/internal/transform"
	apperrors "github.com/tabsynth/tabsynth/pkg/errors"
	"github.com/tabsynth/tabsynth/pkg/models"
)

// fixtureSampler fits a transformer on a skewed table and indexes it:
// 6 red, 3 blue, 1 green.
func fixtureSampler(t *testing.T) (*DataSampler, *transform.Metadata) {
	t.Helper()

	colors := []string{"red", "red", "blue", "red", "green", "red", "blue", "red", "blue", "red"}
	xs := make([]float64, len(colors))
	for i := range xs {
		xs[i] = float64(i)
	}

	table, err := models.NewTable(
		models.NewFloatSeries("x", xs),
		models.NewStringSeries("color", colors),
	)
	require.NoError(t, err)

	tr := transform.NewTransformer(3, 0.005, nil)
	require.NoError(t, tr.Fit(table, []string{"color"}))
	m, err := tr.Transform(table)
	require.NoError(t, err)

	s, err := NewDataSampler(m, tr.Metadata())
	require.NoError(t, err)
	return s, tr.Metadata()
}

func buildSampler(t *testing.T, table *models.Table, discrete []string) *DataSampler {
	t.Helper()
	tr := transform.NewTransformer(3, 0.005, nil)
	require.NoError(t, tr.Fit(table, discrete))
	m, err := tr.Transform(table)
	require.NoError(t, err)
	s, err := NewDataSampler(m, tr.Metadata())
	require.NoError(t, err)
	return s
}

func TestDataSamplerIndexesBuckets(t *testing.T) {
	s, _ := fixtureSampler(t)

	assert.Equal(t, 10, s.NumRows())
	require.Equal(t, 1, s.NumDiscreteColumns())
	assert.Equal(t, "color", s.ColumnName(0))
	require.Equal(t, 3, s.NumCategories(0))

	// Category order is first appearance: red, blue, green.
	assert.Equal(t, 6, s.CategoryFrequency(0, 0))
	assert.Equal(t, 3, s.CategoryFrequency(0, 1))
	assert.Equal(t, 1, s.CategoryFrequency(0, 2))
}

func TestDataSamplerBucketsPartitionRows(t *testing.T) {
	s, _ := fixtureSampler(t)

	seen := make(map[int]bool)
	for _, bucket := range s.columns[0].buckets {
		for _, r := range bucket {
			assert.False(t, seen[r], "row %d appears in two buckets", r)
			seen[r] = true
		}
	}
	assert.Len(t, seen, s.NumRows())
}

func TestSampleUniform(t *testing.T) {
	s, _ := fixtureSampler(t)
	rng := rand.New(rand.NewSource(1))

	idx := s.SampleUniform(rng, 100)
	require.Len(t, idx, 100)
	for _, r := range idx {
		assert.GreaterOrEqual(t, r, 0)
		assert.Less(t, r, s.NumRows())
	}
}

func TestSampleMatchingRespectsCondition(t *testing.T) {
	s, _ := fixtureSampler(t)
	rng := rand.New(rand.NewSource(2))

	batch := &ConditionBatch{
		Columns:    []int{0, 0, 0, -1},
		Categories: []int{2, 1, 0, 0},
	}
	idx, err := s.SampleMatching(rng, batch)
	require.NoError(t, err)
	require.Len(t, idx, 4)

	inBucket := func(cat, row int) bool {
		for _, r := range s.columns[0].buckets[cat] {
			if r == row {
				return true
			}
		}
		return false
	}
	assert.True(t, inBucket(2, idx[0]))
	assert.True(t, inBucket(1, idx[1]))
	assert.True(t, inBucket(0, idx[2]))
	assert.Less(t, idx[3], s.NumRows())
}

func TestSampleMatchingEmptyBucket(t *testing.T) {
	s := &DataSampler{
		numRows: 3,
		columns: []indexedColumn{{
			column:     0,
			name:       "color",
			categories: []string{"red", "blue"},
			buckets:    [][]int{{0, 1, 2}, nil},
			freq:       []int{3, 0},
		}},
	}

	batch := &ConditionBatch{Columns: []int{0}, Categories: []int{1}}
	_, err := s.SampleMatching(rand.New(rand.NewSource(3)), batch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrEmptyBucket))

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "blue", appErr.Context["category"])
}

func TestRestoreDataSampler(t *testing.T) {
	s, meta := fixtureSampler(t)

	restored := RestoreDataSampler(meta, s.NumRows(), s.Frequencies())
	assert.Equal(t, s.NumRows(), restored.NumRows())
	assert.Equal(t, s.NumDiscreteColumns(), restored.NumDiscreteColumns())
	assert.Equal(t, s.Frequencies(), restored.Frequencies())
	assert.Equal(t, s.CategoryFrequency(0, 2), restored.CategoryFrequency(0, 2))
	assert.Equal(t, "color", restored.ColumnName(0))
}
