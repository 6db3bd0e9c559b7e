package privacy

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/tabsynth/tabsynth/pkg/errors"
)

// Mechanism implements the Gaussian mechanism for gradient-based training:
// discriminator gradients are clipped to a bounded global L2 norm and then
// perturbed with calibrated Gaussian noise before each update.
type Mechanism struct {
	clipNorm        float64
	noiseMultiplier float64
}

// NewMechanism creates a Gaussian mechanism with the given clipping norm and
// noise multiplier (noise stddev = noiseMultiplier * clipNorm).
func NewMechanism(clipNorm, noiseMultiplier float64) (*Mechanism, error) {
	if clipNorm <= 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidPrivacyParams,
			"clip norm must be positive")
	}
	if noiseMultiplier <= 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidPrivacyParams,
			"noise multiplier must be positive")
	}
	return &Mechanism{clipNorm: clipNorm, noiseMultiplier: noiseMultiplier}, nil
}

// ClipGradients scales all gradient matrices in place so their joint L2 norm
// does not exceed the clipping norm.
func (m *Mechanism) ClipGradients(grads []*mat.Dense) {
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

	norm := math.Sqrt(sq)
	if norm <= m.clipNorm {
		return
	}

	scale := m.clipNorm / norm
	for _, g := range grads {
		g.Scale(scale, g)
	}
}

// PerturbGradients adds calibrated Gaussian noise to every gradient entry.
// Gradients must already be clipped so the noise scale matches sensitivity.
func (m *Mechanism) PerturbGradients(rng *rand.Rand, grads []*mat.Dense) {
	stddev := m.noiseMultiplier * m.clipNorm
	for _, g := range grads {
		rows, cols := g.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				g.Set(r, c, g.At(r, c)+rng.NormFloat64()*stddev)
			}
		}
	}
}

// StepEpsilon returns the epsilon consumed by one noisy update under the
// Gaussian mechanism: sigma >= sqrt(2 ln(1.25/delta)) * sensitivity / epsilon,
// solved for epsilon with sensitivity equal to the clipping norm.
func (m *Mechanism) StepEpsilon(delta float64) float64 {
	return math.Sqrt(2*math.Log(1.25/delta)) / m.noiseMultiplier
}

// ClipNorm returns the configured clipping norm.
func (m *Mechanism) ClipNorm() float64 {
	return m.clipNorm
}

// NoiseMultiplier returns the configured noise multiplier.
func (m *Mechanism) NoiseMultiplier() float64 {
	return m.noiseMultiplier
}
