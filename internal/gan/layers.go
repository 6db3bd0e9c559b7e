package gan

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// DenseLayer is a fully connected layer operating on column-major batches:
// input is (in x n), output (out x n). Forward caches the input so Backward
// can produce parameter gradients; Backward overwrites the gradients from the
// previous step.
type DenseLayer struct {
	W *mat.Dense // out x in
	B *mat.Dense // out x 1

	GradW *mat.Dense
	GradB *mat.Dense

	input *mat.Dense
}

// NewDenseLayer creates a layer with Xavier-initialized weights drawn from the
// supplied random source.
func NewDenseLayer(in, out int, rng *rand.Rand) *DenseLayer {
	w := mat.NewDense(out, in, nil)
	scale := math.Sqrt(2.0 / float64(in))
	for r := 0; r < out; r++ {
		for c := 0; c < in; c++ {
			w.Set(r, c, rng.NormFloat64()*scale)
		}
	}
	return &DenseLayer{
		W:     w,
		B:     mat.NewDense(out, 1, nil),
		GradW: mat.NewDense(out, in, nil),
		GradB: mat.NewDense(out, 1, nil),
	}
}

// Forward computes W*x + b with the bias broadcast across the batch.
func (l *DenseLayer) Forward(x *mat.Dense) *mat.Dense {
	l.input = x

	out := &mat.Dense{}
	out.Mul(l.W, x)

	rows, cols := out.Dims()
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			out.Set(i, j, out.At(i, j)+l.B.At(i, 0))
		}
	}
	return out
}

// Backward consumes the gradient with respect to this layer's output and
// returns the gradient with respect to its input. Parameter gradients are
// averaged over the batch by the caller's scaling of dOut.
func (l *DenseLayer) Backward(dOut *mat.Dense) *mat.Dense {
	l.GradW.Mul(dOut, l.input.T())

	rows, cols := dOut.Dims()
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += dOut.At(i, j)
		}
		l.GradB.Set(i, 0, sum)
	}

	dIn := &mat.Dense{}
	dIn.Mul(l.W.T(), dOut)
	return dIn
}

// Params returns the layer parameters in optimizer order.
func (l *DenseLayer) Params() []*mat.Dense {
	return []*mat.Dense{l.W, l.B}
}

// Grads returns the gradients matching Params.
func (l *DenseLayer) Grads() []*mat.Dense {
	return []*mat.Dense{l.GradW, l.GradB}
}

// reluForward applies max(0, x) elementwise.
func reluForward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := x.At(i, j); v > 0 {
				out.Set(i, j, v)
			}
		}
	}
	return out
}

// reluBackward masks dOut by the activation output.
func reluBackward(out, dOut *mat.Dense) *mat.Dense {
	rows, cols := out.Dims()
	dIn := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if out.At(i, j) > 0 {
				dIn.Set(i, j, dOut.At(i, j))
			}
		}
	}
	return dIn
}

// leakyReLUForward applies max(alpha*x, x) elementwise.
func leakyReLUForward(x *mat.Dense, alpha float64) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := x.At(i, j)
			if v < 0 {
				v *= alpha
			}
			out.Set(i, j, v)
		}
	}
	return out
}

// leakyReLUBackward scales dOut by 1 or alpha depending on the sign of the
// activation output. The output sign matches the pre-activation sign, so the
// cached output suffices.
func leakyReLUBackward(out, dOut *mat.Dense, alpha float64) *mat.Dense {
	rows, cols := out.Dims()
	dIn := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			g := dOut.At(i, j)
			if out.At(i, j) < 0 {
				g *= alpha
			}
			dIn.Set(i, j, g)
		}
	}
	return dIn
}

// tanhRows applies tanh to the given row range, in place.
func tanhRows(x *mat.Dense, start, end int) {
	_, cols := x.Dims()
	for i := start; i < end; i++ {
		for j := 0; j < cols; j++ {
			x.Set(i, j, math.Tanh(x.At(i, j)))
		}
	}
}

// softmaxRows normalizes the given row range of every column into a
// categorical distribution, in place, with the max subtracted for stability.
func softmaxRows(x *mat.Dense, start, end int) {
	_, cols := x.Dims()
	for j := 0; j < cols; j++ {
		maxVal := math.Inf(-1)
		for i := start; i < end; i++ {
			if v := x.At(i, j); v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for i := start; i < end; i++ {
			e := math.Exp(x.At(i, j) - maxVal)
			x.Set(i, j, e)
			sum += e
		}
		for i := start; i < end; i++ {
			x.Set(i, j, x.At(i, j)/sum)
		}
	}
}
