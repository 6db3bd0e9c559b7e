package gan

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamOptimizer implements the Adam optimization algorithm over a fixed set of
// parameter matrices. Moment estimates are allocated lazily on the first step.
type AdamOptimizer struct {
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	t            int
	m            []*mat.Dense // first moment estimate
	v            []*mat.Dense // second moment estimate
}

// NewAdamOptimizer creates a new Adam optimizer.
func NewAdamOptimizer(learningRate, beta1, beta2 float64) *AdamOptimizer {
	return &AdamOptimizer{
		learningRate: learningRate,
		beta1:        beta1,
		beta2:        beta2,
		epsilon:      1e-8,
	}
}

// Step updates params in place using the matching gradients.
func (opt *AdamOptimizer) Step(params, grads []*mat.Dense) {
	opt.t++

	if len(opt.m) != len(params) {
		opt.initializeMoments(params)
	}

	beta1Correction := 1 - math.Pow(opt.beta1, float64(opt.t))
	beta2Correction := 1 - math.Pow(opt.beta2, float64(opt.t))

	for i, param := range params {
		grad := grads[i]
		rows, cols := param.Dims()

		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				g := grad.At(r, c)

				m := opt.beta1*opt.m[i].At(r, c) + (1-opt.beta1)*g
				v := opt.beta2*opt.v[i].At(r, c) + (1-opt.beta2)*g*g
				opt.m[i].Set(r, c, m)
				opt.v[i].Set(r, c, v)

				mHat := m / beta1Correction
				vHat := v / beta2Correction

				update := opt.learningRate * mHat / (math.Sqrt(vHat) + opt.epsilon)
				param.Set(r, c, param.At(r, c)-update)
			}
		}
	}
}

// initializeMoments initializes the moment estimates to zero.
func (opt *AdamOptimizer) initializeMoments(params []*mat.Dense) {
	opt.m = make([]*mat.Dense, len(params))
	opt.v = make([]*mat.Dense, len(params))
	for i, param := range params {
		rows, cols := param.Dims()
		opt.m[i] = mat.NewDense(rows, cols, nil)
		opt.v[i] = mat.NewDense(rows, cols, nil)
	}
}

// GetLearningRate returns the current learning rate.
func (opt *AdamOptimizer) GetLearningRate() float64 {
	return opt.learningRate
}

// SetLearningRate sets the learning rate.
func (opt *AdamOptimizer) SetLearningRate(lr float64) {
	opt.learningRate = lr
}

// GetTimeStep returns the current time step.
func (opt *AdamOptimizer) GetTimeStep() int {
	return opt.t
}

// Reset clears the optimizer state.
func (opt *AdamOptimizer) Reset() {
	opt.t = 0
	opt.m = nil
	opt.v = nil
}
