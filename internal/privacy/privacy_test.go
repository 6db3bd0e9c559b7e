package privacy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func globalNorm(grads []*mat.Dense) float64 {
	var sq float64
	for _, g := range grads {
		rows, cols := g.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				v := g.At(r, c)
				sq += v * v
			}
		}
	}
	return math.Sqrt(sq)
}

func TestNewMechanismValidation(t *testing.T) {
	_, err := NewMechanism(0, 1.1)
	assert.Error(t, err)
	_, err = NewMechanism(1, 0)
	assert.Error(t, err)

	m, err := NewMechanism(1, 1.1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.ClipNorm())
	assert.Equal(t, 1.1, m.NoiseMultiplier())
}

func TestClipGradientsScalesLargeNorm(t *testing.T) {
	m, err := NewMechanism(1.0, 1.1)
	require.NoError(t, err)

	grads := []*mat.Dense{
		mat.NewDense(2, 2, []float64{3, 4, 0, 0}),
		mat.NewDense(1, 1, []float64{12}),
	}
	require.InDelta(t, 13, globalNorm(grads), 1e-9)

	m.ClipGradients(grads)
	assert.InDelta(t, 1.0, globalNorm(grads), 1e-9)

	// Direction is preserved.
	assert.InDelta(t, 3.0/13, grads[0].At(0, 0), 1e-9)
}

func TestClipGradientsLeavesSmallNormAlone(t *testing.T) {
	m, err := NewMechanism(10, 1.1)
	require.NoError(t, err)

	grads := []*mat.Dense{mat.NewDense(1, 2, []float64{0.3, 0.4})}
	m.ClipGradients(grads)
	assert.Equal(t, 0.3, grads[0].At(0, 0))
	assert.Equal(t, 0.4, grads[0].At(0, 1))
}

func TestPerturbGradientsAddsCalibratedNoise(t *testing.T) {
	m, err := NewMechanism(1.0, 2.0)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))

	const n = 20000
	grads := []*mat.Dense{mat.NewDense(1, n, nil)}
	m.PerturbGradients(rng, grads)

	var sum, sq float64
	for j := 0; j < n; j++ {
		v := grads[0].At(0, j)
		sum += v
		sq += v * v
	}
	mean := sum / n
	stddev := math.Sqrt(sq/n - mean*mean)

	assert.InDelta(t, 0, mean, 0.1)
	assert.InDelta(t, 2.0, stddev, 0.1)
}

func TestStepEpsilon(t *testing.T) {
	m, err := NewMechanism(1.0, 1.1)
	require.NoError(t, err)

	eps := m.StepEpsilon(1e-5)
	assert.InDelta(t, math.Sqrt(2*math.Log(1.25/1e-5))/1.1, eps, 1e-12)

	// More noise buys a smaller per-step epsilon.
	noisier, err := NewMechanism(1.0, 2.0)
	require.NoError(t, err)
	assert.Less(t, noisier.StepEpsilon(1e-5), eps)
}

func TestBudgetAccountantValidation(t *testing.T) {
	_, err := NewBudgetAccountant(0, 1e-5)
	assert.Error(t, err)
	_, err = NewBudgetAccountant(10, 0)
	assert.Error(t, err)
	_, err = NewBudgetAccountant(10, 1)
	assert.Error(t, err)
}

func TestBudgetAccountantSpendAndExhaust(t *testing.T) {
	a, err := NewBudgetAccountant(10, 1e-5)
	require.NoError(t, err)

	assert.True(t, a.CanSpend(10))
	assert.False(t, a.CanSpend(10.1))

	a.Spend(4, "discriminator_update")
	a.Spend(4, "discriminator_update")
	assert.InDelta(t, 8, a.Consumed(), 1e-12)
	assert.True(t, a.CanSpend(2))
	assert.False(t, a.CanSpend(2.1))

	status := a.Status()
	assert.Equal(t, 10.0, status.BudgetEpsilon)
	assert.InDelta(t, 2, status.RemainingEpsilon, 1e-12)
	assert.Equal(t, 2, status.TransactionCount)
}

func TestBudgetAccountantConcurrentSpend(t *testing.T) {
	a, err := NewBudgetAccountant(1000, 1e-5)
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				a.Spend(0.5, "test")
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.InDelta(t, 400, a.Consumed(), 1e-9)
}
