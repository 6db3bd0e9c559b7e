package gan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAdamConvergesOnQuadratic(t *testing.T) {
	opt := NewAdamOptimizer(0.1, 0.9, 0.999)

	params := []*mat.Dense{mat.NewDense(1, 1, []float64{5})}
	grads := []*mat.Dense{mat.NewDense(1, 1, nil)}

	// Minimize f(x) = x^2.
	for i := 0; i < 500; i++ {
		grads[0].Set(0, 0, 2*params[0].At(0, 0))
		opt.Step(params, grads)
	}

	assert.InDelta(t, 0, params[0].At(0, 0), 1e-2)
	assert.Equal(t, 500, opt.GetTimeStep())
}

func TestAdamFirstStepIsBounded(t *testing.T) {
	opt := NewAdamOptimizer(0.01, 0.5, 0.9)

	params := []*mat.Dense{mat.NewDense(1, 1, []float64{1})}
	grads := []*mat.Dense{mat.NewDense(1, 1, []float64{1e6})}
	opt.Step(params, grads)

	// Bias-corrected Adam moves by at most ~lr on the first step regardless
	// of gradient magnitude.
	assert.InDelta(t, 1-0.01, params[0].At(0, 0), 1e-6)
}

func TestAdamHandlesMultipleParams(t *testing.T) {
	opt := NewAdamOptimizer(0.05, 0.9, 0.999)

	params := []*mat.Dense{
		mat.NewDense(2, 2, []float64{3, -3, 1, -1}),
		mat.NewDense(1, 1, []float64{2}),
	}
	grads := []*mat.Dense{
		mat.NewDense(2, 2, nil),
		mat.NewDense(1, 1, nil),
	}

	for i := 0; i < 800; i++ {
		for pi, p := range params {
			rows, cols := p.Dims()
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					grads[pi].Set(r, c, 2*p.At(r, c))
				}
			}
		}
		opt.Step(params, grads)
	}

	for _, p := range params {
		rows, cols := p.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				assert.InDelta(t, 0, p.At(r, c), 1e-2)
			}
		}
	}
}

func TestAdamReset(t *testing.T) {
	opt := NewAdamOptimizer(0.1, 0.9, 0.999)
	params := []*mat.Dense{mat.NewDense(1, 1, []float64{1})}
	grads := []*mat.Dense{mat.NewDense(1, 1, []float64{1})}

	opt.Step(params, grads)
	require.Equal(t, 1, opt.GetTimeStep())

	opt.Reset()
	assert.Equal(t, 0, opt.GetTimeStep())

	opt.SetLearningRate(0.2)
	assert.Equal(t, 0.2, opt.GetLearningRate())

	// Stepping after reset must not panic or reuse stale moments.
	opt.Step(params, grads)
	assert.False(t, math.IsNaN(params[0].At(0, 0)))
}
