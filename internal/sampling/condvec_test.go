package sampling

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tabsynth/tabsynth/pkg/errors"
	"github.com/tabsynth/tabsynth/pkg/models"
)

func fixtureBuilder(t *testing.T) *VectorBuilder {
	t.Helper()
	s, _ := fixtureSampler(t)
	b, err := NewVectorBuilder(s, models.ConditionPolicyLogFrequency)
	require.NoError(t, err)
	return b
}

func TestVectorBuilderDim(t *testing.T) {
	b := fixtureBuilder(t)
	assert.Equal(t, 3, b.Dim())
	assert.Equal(t, 0, b.GlobalSlot(0, 0))
	assert.Equal(t, 2, b.GlobalSlot(0, 2))
}

func TestSampleTrainingConditionsSingleActiveSlot(t *testing.T) {
	b := fixtureBuilder(t)
	rng := rand.New(rand.NewSource(7))

	batch := b.SampleTrainingConditions(rng, 50)
	require.Equal(t, 50, batch.Size())
	require.NotNil(t, batch.Vectors)

	for i := 0; i < batch.Size(); i++ {
		col := batch.Columns[i]
		cat := batch.Categories[i]
		require.GreaterOrEqual(t, col, 0)

		active := 0
		for j := 0; j < b.Dim(); j++ {
			v := batch.Vectors.At(i, j)
			if v == 1 {
				active++
				assert.Equal(t, b.GlobalSlot(col, cat), j)
			} else {
				assert.Equal(t, 0.0, v)
			}
		}
		assert.Equal(t, 1, active)
	}
}

func TestSampleConditionsAreReproducible(t *testing.T) {
	b := fixtureBuilder(t)

	a := b.SampleTrainingConditions(rand.New(rand.NewSource(11)), 32)
	c := b.SampleTrainingConditions(rand.New(rand.NewSource(11)), 32)

	assert.Equal(t, a.Columns, c.Columns)
	assert.Equal(t, a.Categories, c.Categories)
}

func TestPolicyDistributions(t *testing.T) {
	s, _ := fixtureSampler(t) // frequencies: red 6, blue 3, green 1

	logDist, err := policyDistribution(s, 0, models.ConditionPolicyLogFrequency)
	require.NoError(t, err)
	total := math.Log1p(6) + math.Log1p(3) + math.Log1p(1)
	assert.InDelta(t, math.Log1p(6)/total, logDist[0], 1e-12)
	assert.InDelta(t, math.Log1p(1)/total, logDist[2], 1e-12)
	// Rebalancing: the rare category gets more mass than its empirical share.
	assert.Greater(t, logDist[2], 0.1)

	invDist, err := policyDistribution(s, 0, models.ConditionPolicyInverseFrequency)
	require.NoError(t, err)
	assert.Greater(t, invDist[2], invDist[1])
	assert.Greater(t, invDist[1], invDist[0])

	uniDist, err := policyDistribution(s, 0, models.ConditionPolicyUniform)
	require.NoError(t, err)
	for _, p := range uniDist {
		assert.InDelta(t, 1.0/3, p, 1e-12)
	}

	_, err = policyDistribution(s, 0, "quadratic")
	assert.Error(t, err)
}

func TestEmpiricalDistribution(t *testing.T) {
	s, _ := fixtureSampler(t)
	dist := empiricalDistribution(s, 0)
	assert.InDelta(t, 0.6, dist[0], 1e-12)
	assert.InDelta(t, 0.3, dist[1], 1e-12)
	assert.InDelta(t, 0.1, dist[2], 1e-12)
}

func TestFixedCondition(t *testing.T) {
	b := fixtureBuilder(t)

	batch, err := b.FixedCondition(&Condition{Column: "color", Value: "blue"}, 4)
	require.NoError(t, err)
	require.Equal(t, 4, batch.Size())
	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, batch.Columns[i])
		assert.Equal(t, 1, batch.Categories[i])
		assert.Equal(t, 1.0, batch.Vectors.At(i, b.GlobalSlot(0, 1)))
	}
}

func TestFixedConditionUnknownColumn(t *testing.T) {
	b := fixtureBuilder(t)
	_, err := b.FixedCondition(&Condition{Column: "size", Value: "large"}, 1)
	assert.True(t, errors.Is(err, apperrors.ErrSchemaMismatch))
}

func TestFixedConditionUnknownValue(t *testing.T) {
	b := fixtureBuilder(t)
	_, err := b.FixedCondition(&Condition{Column: "color", Value: "purple"}, 1)
	assert.True(t, errors.Is(err, apperrors.ErrUnknownCategory))
}

func TestBuilderWithoutDiscreteColumns(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	table, err := models.NewTable(models.NewFloatSeries("x", xs))
	require.NoError(t, err)

	s := buildSampler(t, table, nil)
	b, err := NewVectorBuilder(s, models.ConditionPolicyLogFrequency)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Dim())

	batch := b.SampleTrainingConditions(rand.New(rand.NewSource(1)), 5)
	assert.Nil(t, batch.Vectors)
	for _, col := range batch.Columns {
		assert.Equal(t, -1, col)
	}
}
