package gan

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/tabsynth/tabsynth/internal/transform"
	"github.com/tabsynth/tabsynth/pkg/models"
)

// Generator maps (latent noise || conditional vector) columns to transformed
// rows. Continuous scalar slots pass through tanh so they land in [-1, 1];
// one-hot segments (mixture indicators and categories) pass through a softmax
// so each segment sums to 1.
type Generator struct {
	layers   []*DenseLayer
	segments []transform.Segment

	hidden []*mat.Dense // cached hidden activations
	output *mat.Dense   // cached activated output
}

// NewGenerator builds the generator network. inputDim is the latent dimension
// plus the conditional vector width; segments describe the output layout.
func NewGenerator(inputDim int, hiddenDims []int, segments []transform.Segment, rng *rand.Rand) *Generator {
	outputDim := 0
	for _, seg := range segments {
		outputDim += seg.Width()
	}

	g := &Generator{segments: segments}
	prev := inputDim
	for _, dim := range hiddenDims {
		g.layers = append(g.layers, NewDenseLayer(prev, dim, rng))
		prev = dim
	}
	g.layers = append(g.layers, NewDenseLayer(prev, outputDim, rng))
	return g
}

// Forward runs the network on a batch of input columns and returns the
// activated output, one transformed row per column.
func (g *Generator) Forward(input *mat.Dense) *mat.Dense {
	g.hidden = g.hidden[:0]

	act := input
	for i := 0; i < len(g.layers)-1; i++ {
		act = reluForward(g.layers[i].Forward(act))
		g.hidden = append(g.hidden, act)
	}

	out := g.layers[len(g.layers)-1].Forward(act)
	for _, seg := range g.segments {
		if seg.Kind == models.ColumnDiscrete {
			softmaxRows(out, seg.Offset, seg.Offset+seg.OneHotWidth)
			continue
		}
		tanhRows(out, seg.Offset, seg.Offset+1)
		softmaxRows(out, seg.Offset+1, seg.Offset+1+seg.OneHotWidth)
	}

	g.output = out
	return out
}

// Backward propagates the gradient with respect to the activated output back
// through the network, filling parameter gradients.
func (g *Generator) Backward(dOut *mat.Dense) {
	dPre := g.activationBackward(dOut)

	grad := g.layers[len(g.layers)-1].Backward(dPre)
	for i := len(g.layers) - 2; i >= 0; i-- {
		grad = reluBackward(g.hidden[i], grad)
		grad = g.layers[i].Backward(grad)
	}
}

// activationBackward maps the output-activation gradient to the pre-activation
// gradient, segment by segment.
func (g *Generator) activationBackward(dOut *mat.Dense) *mat.Dense {
	rows, cols := dOut.Dims()
	dPre := mat.NewDense(rows, cols, nil)

	for _, seg := range g.segments {
		if seg.Kind == models.ColumnDiscrete {
			g.softmaxBackward(dOut, dPre, seg.Offset, seg.Offset+seg.OneHotWidth)
			continue
		}
		g.tanhBackward(dOut, dPre, seg.Offset)
		g.softmaxBackward(dOut, dPre, seg.Offset+1, seg.Offset+1+seg.OneHotWidth)
	}
	return dPre
}

func (g *Generator) tanhBackward(dOut, dPre *mat.Dense, row int) {
	_, cols := dOut.Dims()
	for j := 0; j < cols; j++ {
		a := g.output.At(row, j)
		dPre.Set(row, j, dOut.At(row, j)*(1-a*a))
	}
}

// softmaxBackward applies the softmax Jacobian per column:
// dpre_i = s_i * (dout_i - sum_k s_k dout_k).
func (g *Generator) softmaxBackward(dOut, dPre *mat.Dense, start, end int) {
	_, cols := dOut.Dims()
	for j := 0; j < cols; j++ {
		var dot float64
		for i := start; i < end; i++ {
			dot += g.output.At(i, j) * dOut.At(i, j)
		}
		for i := start; i < end; i++ {
			s := g.output.At(i, j)
			dPre.Set(i, j, s*(dOut.At(i, j)-dot))
		}
	}
}

// Output returns the activated output of the last Forward call.
func (g *Generator) Output() *mat.Dense {
	return g.output
}

// Params returns all network parameters in a stable order.
func (g *Generator) Params() []*mat.Dense {
	var out []*mat.Dense
	for _, l := range g.layers {
		out = append(out, l.Params()...)
	}
	return out
}

// Grads returns all parameter gradients matching Params.
func (g *Generator) Grads() []*mat.Dense {
	var out []*mat.Dense
	for _, l := range g.layers {
		out = append(out, l.Grads()...)
	}
	return out
}
