package sampling

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/tabsynth/tabsynth/pkg/errors"
	"github.com/tabsynth/tabsynth/pkg/models"
)

// Condition names a (column, category) pair the generator should reproduce.
type Condition struct {
	Column string
	Value  string
}

// ConditionBatch holds one conditional vector per minibatch row plus the
// active-column mask consumed by the training loop. Columns[i] is the ordinal
// of the conditioned discrete column (-1 when unconditioned) and Categories[i]
// the category index within that column.
type ConditionBatch struct {
	Vectors    *mat.Dense // size x Dim; nil when Dim is zero
	Columns    []int
	Categories []int
}

// Size returns the number of rows in the batch.
func (b *ConditionBatch) Size() int {
	return len(b.Columns)
}

// VectorBuilder constructs conditional vectors. Training-time category choice
// follows the configured rebalancing policy to oversample rare categories;
// generation-time choice follows the empirical category frequency so the
// synthetic marginal matches the real one.
type VectorBuilder struct {
	sampler *DataSampler
	policy  string

	dim       int
	offsets   []int       // cond-vector offset per discrete column
	trainCums [][]float64 // cumulative category distribution per column, policy-weighted
	genCums   [][]float64 // cumulative empirical category distribution per column
}

// NewVectorBuilder creates a builder over the sampler's discrete columns.
// A table with no discrete columns yields a zero-width builder; training then
// runs unconditioned.
func NewVectorBuilder(sampler *DataSampler, policy string) (*VectorBuilder, error) {
	b := &VectorBuilder{sampler: sampler, policy: policy}

	for i := 0; i < sampler.NumDiscreteColumns(); i++ {
		b.offsets = append(b.offsets, b.dim)
		b.dim += sampler.NumCategories(i)

		train, err := policyDistribution(sampler, i, policy)
		if err != nil {
			return nil, err
		}
		b.trainCums = append(b.trainCums, cumulative(train))
		b.genCums = append(b.genCums, cumulative(empiricalDistribution(sampler, i)))
	}

	return b, nil
}

// Dim returns the conditional vector width: the total number of category slots
// across all discrete columns.
func (b *VectorBuilder) Dim() int {
	return b.dim
}

// GlobalSlot maps a (discrete column ordinal, category) pair to its slot in
// the conditional vector.
func (b *VectorBuilder) GlobalSlot(column, category int) int {
	return b.offsets[column] + category
}

// SampleTrainingConditions draws n conditions for a training step: the column
// uniformly over discrete columns, the category by the rebalancing policy.
// Each produced vector has exactly one active slot.
func (b *VectorBuilder) SampleTrainingConditions(rng *rand.Rand, n int) *ConditionBatch {
	return b.sample(rng, n, b.trainCums)
}

// SampleGenerationConditions draws n conditions for inference using the
// empirical category frequencies.
func (b *VectorBuilder) SampleGenerationConditions(rng *rand.Rand, n int) *ConditionBatch {
	return b.sample(rng, n, b.genCums)
}

func (b *VectorBuilder) sample(rng *rand.Rand, n int, cums [][]float64) *ConditionBatch {
	batch := &ConditionBatch{
		Columns:    make([]int, n),
		Categories: make([]int, n),
	}
	if b.dim == 0 {
		for i := range batch.Columns {
			batch.Columns[i] = -1
		}
		return batch
	}

	batch.Vectors = mat.NewDense(n, b.dim, nil)
	numCols := b.sampler.NumDiscreteColumns()
	for i := 0; i < n; i++ {
		col := rng.Intn(numCols)
		cat := drawCumulative(rng, cums[col])
		batch.Columns[i] = col
		batch.Categories[i] = cat
		batch.Vectors.Set(i, b.GlobalSlot(col, cat), 1)
	}
	return batch
}

// FixedCondition builds a batch that repeats one caller-supplied condition.
func (b *VectorBuilder) FixedCondition(cond *Condition, n int) (*ConditionBatch, error) {
	col := -1
	for i := 0; i < b.sampler.NumDiscreteColumns(); i++ {
		if b.sampler.ColumnName(i) == cond.Column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, errors.NewSchemaMismatchError(cond.Column,
			fmt.Sprintf("condition column %q is not a fit-time discrete column", cond.Column))
	}

	cat := -1
	for j, c := range b.sampler.columns[col].categories {
		if c == cond.Value {
			cat = j
			break
		}
	}
	if cat < 0 {
		return nil, errors.NewUnknownCategoryError(cond.Column, -1, cond.Value)
	}

	batch := &ConditionBatch{
		Vectors:    mat.NewDense(n, b.dim, nil),
		Columns:    make([]int, n),
		Categories: make([]int, n),
	}
	slot := b.GlobalSlot(col, cat)
	for i := 0; i < n; i++ {
		batch.Columns[i] = col
		batch.Categories[i] = cat
		batch.Vectors.Set(i, slot, 1)
	}
	return batch, nil
}

// policyDistribution computes the training-time category distribution for one
// discrete column under the configured rebalancing policy.
func policyDistribution(s *DataSampler, column int, policy string) ([]float64, error) {
	k := s.NumCategories(column)
	weights := make([]float64, k)

	switch policy {
	case models.ConditionPolicyLogFrequency:
		for j := 0; j < k; j++ {
			weights[j] = math.Log1p(float64(s.CategoryFrequency(column, j)))
		}
	case models.ConditionPolicyInverseFrequency:
		for j := 0; j < k; j++ {
			f := s.CategoryFrequency(column, j)
			if f > 0 {
				weights[j] = 1.0 / float64(f)
			}
		}
	case models.ConditionPolicyUniform:
		for j := 0; j < k; j++ {
			weights[j] = 1
		}
	default:
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfiguration,
			fmt.Sprintf("unknown condition policy %q", policy))
	}

	normalize(weights)
	return weights, nil
}

func empiricalDistribution(s *DataSampler, column int) []float64 {
	k := s.NumCategories(column)
	weights := make([]float64, k)
	for j := 0; j < k; j++ {
		weights[j] = float64(s.CategoryFrequency(column, j))
	}
	normalize(weights)
	return weights
}

func normalize(weights []float64) {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(len(weights))
		}
		return
	}
	for i := range weights {
		weights[i] /= total
	}
}

func cumulative(dist []float64) []float64 {
	out := make([]float64, len(dist))
	sum := 0.0
	for i, p := range dist {
		sum += p
		out[i] = sum
	}
	out[len(out)-1] = 1 // guard against rounding
	return out
}

func drawCumulative(rng *rand.Rand, cum []float64) int {
	u := rng.Float64()
	for i, c := range cum {
		if u < c {
			return i
		}
	}
	return len(cum) - 1
}
