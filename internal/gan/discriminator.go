package gan

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// leakySlope is the negative-side slope of the discriminator's activations.
const leakySlope = 0.2

// Discriminator scores packed minibatches of transformed rows. Packing groups
// pac rows (with their conditional vectors) into a single input column, which
// raises the critic's capacity to detect mode collapse. Input columns are
// pac*(rowWidth+condDim) tall; the output is one realism score per group.
type Discriminator struct {
	pac      int
	inputDim int
	layers   []*DenseLayer

	hidden []*mat.Dense
}

// NewDiscriminator builds the critic network. rowWidth is the transformed row
// width, condDim the conditional vector width.
func NewDiscriminator(rowWidth, condDim, pac int, hiddenDims []int, rng *rand.Rand) *Discriminator {
	d := &Discriminator{
		pac:      pac,
		inputDim: pac * (rowWidth + condDim),
	}
	prev := d.inputDim
	for _, dim := range hiddenDims {
		d.layers = append(d.layers, NewDenseLayer(prev, dim, rng))
		prev = dim
	}
	d.layers = append(d.layers, NewDenseLayer(prev, 1, rng))
	return d
}

// Pac returns the pack size.
func (d *Discriminator) Pac() int {
	return d.pac
}

// InputDim returns the packed input height.
func (d *Discriminator) InputDim() int {
	return d.inputDim
}

// Forward scores a batch of packed input columns, returning a 1 x groups row
// of critic scores.
func (d *Discriminator) Forward(packed *mat.Dense) *mat.Dense {
	d.hidden = d.hidden[:0]

	act := packed
	for i := 0; i < len(d.layers)-1; i++ {
		act = leakyReLUForward(d.layers[i].Forward(act), leakySlope)
		d.hidden = append(d.hidden, act)
	}
	return d.layers[len(d.layers)-1].Forward(act)
}

// Backward propagates the score gradient through the network, filling
// parameter gradients and returning the gradient with respect to the packed
// input. The input gradient feeds both the gradient penalty and the generator
// update.
func (d *Discriminator) Backward(dScore *mat.Dense) *mat.Dense {
	grad := d.layers[len(d.layers)-1].Backward(dScore)
	for i := len(d.layers) - 2; i >= 0; i-- {
		grad = leakyReLUBackward(d.hidden[i], grad, leakySlope)
		grad = d.layers[i].Backward(grad)
	}
	return grad
}

// Params returns all network parameters in a stable order.
func (d *Discriminator) Params() []*mat.Dense {
	var out []*mat.Dense
	for _, l := range d.layers {
		out = append(out, l.Params()...)
	}
	return out
}

// Grads returns all parameter gradients matching Params.
func (d *Discriminator) Grads() []*mat.Dense {
	var out []*mat.Dense
	for _, l := range d.layers {
		out = append(out, l.Grads()...)
	}
	return out
}
