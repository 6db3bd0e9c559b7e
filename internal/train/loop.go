package train

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/tabsynth/tabsynth/pkg/errors"
)

const (
	// ceEpsilon keeps the conditional cross-entropy finite on collapsed
	// softmax outputs.
	ceEpsilon = 1e-12

	// fdEpsilon is the step of the directional central difference used for
	// the gradient-penalty parameter gradient.
	fdEpsilon = 1e-4
)

// fitLoop runs the adversarial optimization. Cancellation and privacy-budget
// checks happen at epoch boundaries only, so optimizer state is never left
// mid-step.
func (s *Synthesizer) fitLoop(ctx context.Context, data *mat.Dense) error {
	rows, _ := data.Dims()
	steps := rows / s.config.BatchSize
	if steps == 0 {
		steps = 1
	}

	var epochCost float64
	if s.accountant != nil {
		epochCost = s.mechanism.StepEpsilon(s.config.PrivacyDelta) *
			float64(steps*s.config.DiscriminatorSteps)
	}

	for epoch := 1; epoch <= s.config.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.accountant != nil && !s.accountant.CanSpend(epochCost) {
			return errors.NewPrivacyBudgetExhaustedError(
				s.accountant.Consumed(), s.accountant.Budget(), epoch)
		}

		start := time.Now()
		var dLoss, gLoss, cLoss float64
		for step := 0; step < steps; step++ {
			for k := 0; k < s.config.DiscriminatorSteps; k++ {
				l, err := s.trainDiscriminatorStep(data, epoch, step)
				if err != nil {
					return err
				}
				dLoss = l
			}

			adv, ce, err := s.trainGeneratorStep(epoch, step)
			if err != nil {
				return err
			}
			gLoss, cLoss = adv, ce
		}

		s.trainedEpochs = epoch
		s.history = append(s.history, EpochMetrics{
			Epoch:             epoch,
			GeneratorLoss:     gLoss,
			DiscriminatorLoss: dLoss,
			ConditionalLoss:   cLoss,
			Duration:          time.Since(start),
		})

		s.metrics.ObserveEpoch(steps, gLoss+cLoss, dLoss)
		if s.accountant != nil {
			s.metrics.ObserveEpsilonConsumed(s.accountant.Consumed())
		}

		if epoch%10 == 0 || epoch == s.config.Epochs {
			fields := logrus.Fields{
				"model_id":           s.id,
				"epoch":              epoch,
				"generator_loss":     gLoss,
				"discriminator_loss": dLoss,
				"conditional_loss":   cLoss,
			}
			if s.accountant != nil {
				fields["epsilon_consumed"] = s.accountant.Consumed()
			}
			s.logger.WithFields(fields).Info("Training progress")
		}
	}

	return nil
}

// trainDiscriminatorStep performs one critic update: WGAN loss on identically
// conditioned real and generated batches plus a gradient penalty on
// interpolates.
func (s *Synthesizer) trainDiscriminatorStep(data *mat.Dense, epoch, step int) (float64, error) {
	n := s.config.BatchSize
	pac := s.config.PacSize
	groups := n / pac

	batch := s.condBuilder.SampleTrainingConditions(s.rng, n)
	realIdx, err := s.sampler.SampleMatching(s.rng, batch)
	if err != nil {
		return 0, err
	}

	condT := transposeCond(batch.Vectors)
	real := gatherColumns(data, realIdx)
	noise := sampleNoise(s.rng, s.config.EmbeddingDim, n)
	fake := s.generator.Forward(vstack(noise, condT))

	realPacked := pack(vstack(real, condT), pac)
	fakePacked := pack(vstack(fake, condT), pac)

	// One forward over fake and real columns keeps a single backward pass.
	joint := hcat(fakePacked, realPacked)
	scores := s.discriminator.Forward(joint)

	var fakeMean, realMean float64
	for j := 0; j < groups; j++ {
		fakeMean += scores.At(0, j)
		realMean += scores.At(0, groups+j)
	}
	fakeMean /= float64(groups)
	realMean /= float64(groups)

	dScore := mat.NewDense(1, 2*groups, nil)
	for j := 0; j < groups; j++ {
		dScore.Set(0, j, 1/float64(groups))
		dScore.Set(0, groups+j, -1/float64(groups))
	}
	s.discriminator.Backward(dScore)
	grads := cloneMats(s.discriminator.Grads())

	penalty := s.gradientPenalty(realPacked, fakePacked, grads)

	loss := fakeMean - realMean + penalty
	if !isFinite(loss) {
		return 0, errors.NewTrainingDivergedError(epoch, step, loss)
	}

	if s.mechanism != nil {
		s.mechanism.ClipGradients(grads)
		s.mechanism.PerturbGradients(s.rng, grads)
		s.accountant.Spend(s.mechanism.StepEpsilon(s.config.PrivacyDelta), "discriminator_update")
	}

	s.optD.Step(s.discriminator.Params(), grads)
	return loss, nil
}

// gradientPenalty evaluates the penalty on per-group interpolates and adds
// its parameter gradient into grads. The penalty's dependence on the critic
// parameters is second order; a directional central difference along the
// input gradient avoids a second backward pass through the network.
func (s *Synthesizer) gradientPenalty(realPacked, fakePacked *mat.Dense, grads []*mat.Dense) float64 {
	h, groups := realPacked.Dims()
	lambda := s.config.GradientPenaltyWeight
	if lambda == 0 {
		return 0
	}

	interp := mat.NewDense(h, groups, nil)
	for j := 0; j < groups; j++ {
		alpha := s.rng.Float64()
		for i := 0; i < h; i++ {
			interp.Set(i, j, alpha*realPacked.At(i, j)+(1-alpha)*fakePacked.At(i, j))
		}
	}

	s.discriminator.Forward(interp)
	ones := mat.NewDense(1, groups, nil)
	for j := 0; j < groups; j++ {
		ones.Set(0, j, 1)
	}
	gIn := s.discriminator.Backward(ones)

	norms := make([]float64, groups)
	var penalty float64
	for j := 0; j < groups; j++ {
		var sq float64
		for i := 0; i < h; i++ {
			v := gIn.At(i, j)
			sq += v * v
		}
		norms[j] = math.Sqrt(sq)
		d := norms[j] - 1
		penalty += d * d
	}
	penalty = lambda * penalty / float64(groups)

	// Unit directions along the input gradient; columns with a vanishing
	// gradient contribute nothing.
	dir := mat.NewDense(h, groups, nil)
	for j := 0; j < groups; j++ {
		if norms[j] < 1e-12 {
			continue
		}
		for i := 0; i < h; i++ {
			dir.Set(i, j, gIn.At(i, j)/norms[j])
		}
	}

	xPlus := mat.NewDense(h, groups, nil)
	xMinus := mat.NewDense(h, groups, nil)
	for j := 0; j < groups; j++ {
		for i := 0; i < h; i++ {
			xPlus.Set(i, j, interp.At(i, j)+fdEpsilon*dir.At(i, j))
			xMinus.Set(i, j, interp.At(i, j)-fdEpsilon*dir.At(i, j))
		}
	}

	weight := mat.NewDense(1, groups, nil)
	for j := 0; j < groups; j++ {
		weight.Set(0, j, lambda*2*(norms[j]-1)/(float64(groups)*2*fdEpsilon))
	}

	s.discriminator.Forward(xPlus)
	s.discriminator.Backward(weight)
	addMats(grads, s.discriminator.Grads(), 1)

	s.discriminator.Forward(xMinus)
	s.discriminator.Backward(weight)
	addMats(grads, s.discriminator.Grads(), -1)

	return penalty
}

// trainGeneratorStep performs one generator update: adversarial loss through
// the critic plus a conditional cross-entropy term that penalizes the
// generator for not reproducing the sampled condition's category in its own
// output. The cross-entropy applies only to the active column named by the
// condition mask.
func (s *Synthesizer) trainGeneratorStep(epoch, step int) (float64, float64, error) {
	n := s.config.BatchSize
	pac := s.config.PacSize
	groups := n / pac

	batch := s.condBuilder.SampleTrainingConditions(s.rng, n)
	condT := transposeCond(batch.Vectors)
	noise := sampleNoise(s.rng, s.config.EmbeddingDim, n)
	fake := s.generator.Forward(vstack(noise, condT))

	fakePacked := pack(vstack(fake, condT), pac)
	scores := s.discriminator.Forward(fakePacked)

	var adv float64
	for j := 0; j < groups; j++ {
		adv += scores.At(0, j)
	}
	adv = -adv / float64(groups)

	dScore := mat.NewDense(1, groups, nil)
	for j := 0; j < groups; j++ {
		dScore.Set(0, j, -1/float64(groups))
	}
	dPacked := s.discriminator.Backward(dScore)
	dFake := unpackTop(dPacked, pac, s.dataWidth+condDim(condT), s.dataWidth, n)

	var ce float64
	conditioned := 0
	for _, col := range batch.Columns {
		if col >= 0 {
			conditioned++
		}
	}
	if conditioned > 0 {
		for i, col := range batch.Columns {
			if col < 0 {
				continue
			}
			seg := s.discSegments[col]
			row := seg.Offset + batch.Categories[i]
			p := fake.At(row, i)
			ce += -math.Log(p + ceEpsilon)
			dFake.Set(row, i, dFake.At(row, i)-1/(float64(conditioned)*(p+ceEpsilon)))
		}
		ce /= float64(conditioned)
	}

	loss := adv + ce
	if !isFinite(loss) {
		return 0, 0, errors.NewTrainingDivergedError(epoch, step, loss)
	}

	s.generator.Backward(dFake)
	s.optG.Step(s.generator.Params(), s.generator.Grads())
	return adv, ce, nil
}

// Matrix helpers. Batches are column-major: one sample per column.

func sampleNoise(rng *rand.Rand, dim, n int) *mat.Dense {
	out := mat.NewDense(dim, n, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, rng.NormFloat64())
		}
	}
	return out
}

// gatherColumns extracts the given rows of a rows x width matrix as columns
// of a width x n matrix.
func gatherColumns(data *mat.Dense, idx []int) *mat.Dense {
	_, width := data.Dims()
	out := mat.NewDense(width, len(idx), nil)
	for j, r := range idx {
		for i := 0; i < width; i++ {
			out.Set(i, j, data.At(r, i))
		}
	}
	return out
}

// transposeCond turns an n x dim condition matrix into dim x n columns, or
// nil for a zero-width condition space.
func transposeCond(v *mat.Dense) *mat.Dense {
	if v == nil {
		return nil
	}
	n, dim := v.Dims()
	out := mat.NewDense(dim, n, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, v.At(j, i))
		}
	}
	return out
}

func condDim(condT *mat.Dense) int {
	if condT == nil {
		return 0
	}
	r, _ := condT.Dims()
	return r
}

// vstack stacks a over b column-wise; b may be nil.
func vstack(a, b *mat.Dense) *mat.Dense {
	if b == nil {
		return a
	}
	ra, n := a.Dims()
	rb, _ := b.Dims()
	out := mat.NewDense(ra+rb, n, nil)
	for j := 0; j < n; j++ {
		for i := 0; i < ra; i++ {
			out.Set(i, j, a.At(i, j))
		}
		for i := 0; i < rb; i++ {
			out.Set(ra+i, j, b.At(i, j))
		}
	}
	return out
}

// hcat concatenates columns of a and b.
func hcat(a, b *mat.Dense) *mat.Dense {
	r, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(r, ca+cb, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < ca; j++ {
			out.Set(i, j, a.At(i, j))
		}
		for j := 0; j < cb; j++ {
			out.Set(i, ca+j, b.At(i, j))
		}
	}
	return out
}

// pack groups pac consecutive columns into single taller columns.
func pack(x *mat.Dense, pac int) *mat.Dense {
	h, n := x.Dims()
	groups := n / pac
	out := mat.NewDense(h*pac, groups, nil)
	for g := 0; g < groups; g++ {
		for p := 0; p < pac; p++ {
			for i := 0; i < h; i++ {
				out.Set(p*h+i, g, x.At(i, g*pac+p))
			}
		}
	}
	return out
}

// unpackTop reverses pack for the first keep rows of each packed slot,
// dropping the condition rows.
func unpackTop(packed *mat.Dense, pac, slotHeight, keep, n int) *mat.Dense {
	out := mat.NewDense(keep, n, nil)
	groups := n / pac
	for g := 0; g < groups; g++ {
		for p := 0; p < pac; p++ {
			for i := 0; i < keep; i++ {
				out.Set(i, g*pac+p, packed.At(p*slotHeight+i, g))
			}
		}
	}
	return out
}

func cloneMats(src []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(src))
	for i, m := range src {
		out[i] = mat.DenseCopyOf(m)
	}
	return out
}

// addMats adds scale*src into dst elementwise.
func addMats(dst, src []*mat.Dense, scale float64) {
	for i := range dst {
		rows, cols := dst[i].Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				dst[i].Set(r, c, dst[i].At(r, c)+scale*src[i].At(r, c))
			}
		}
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
