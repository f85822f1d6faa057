// Package nn is a small sequential neural network toolkit: dense, convolution,
// pooling and flatten layers trained with Adam on categorical cross-entropy.
//
// Activations flow between layers as *mat.Dense with one row per example. A
// layer with a spatial shape stores its rows in height, width, channel order.
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Activation names follow the Keras/TF.js vocabulary so topologies stay portable.
type Activation string

const (
	ActivationLinear  Activation = "linear"
	ActivationReLU    Activation = "relu"
	ActivationSoftmax Activation = "softmax"
)

// Param is a trainable tensor. Value and Grad are flat, row-major buffers of
// the same length.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

func newParam(name string, shape ...int) *Param {
	n := shapeSize(shape)
	return &Param{
		Name:  name,
		Shape: shape,
		Value: make([]float64, n),
		Grad:  make([]float64, n),
	}
}

// Layer is implemented by every layer kind in this package only.
type Layer interface {
	// Name is the unique layer name inside its model, e.g. "dense_1".
	Name() string
	// OutputShape is the per-example output shape (no batch dimension).
	OutputShape() []int

	spec() LayerSpec
	build(name string, inputShape []int, rng *rand.Rand) error
	forward(x *mat.Dense, training bool) *mat.Dense
	backward(grad *mat.Dense) *mat.Dense
	params() []*Param
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func glorotUniform(p *Param, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * limit
	}
}

func applyActivation(act Activation, m *mat.Dense) {
	switch act {
	case ActivationReLU:
		raw := m.RawMatrix()
		for i := 0; i < raw.Rows; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
			for j, v := range row {
				if v < 0 {
					row[j] = 0
				}
			}
		}
	case ActivationSoftmax:
		rows, _ := m.Dims()
		for i := 0; i < rows; i++ {
			softmaxInPlace(m.RawRowView(i))
		}
	}
}

func softmaxInPlace(row []float64) {
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for j, v := range row {
		e := math.Exp(v - max)
		row[j] = e
		sum += e
	}
	for j := range row {
		row[j] /= sum
	}
}

// reluMask zeroes grad wherever the cached activation did not fire.
func reluMask(grad, activated *mat.Dense) {
	rows, _ := grad.Dims()
	for i := 0; i < rows; i++ {
		g := grad.RawRowView(i)
		a := activated.RawRowView(i)
		for j := range g {
			if a[j] <= 0 {
				g[j] = 0
			}
		}
	}
}

func checkActivation(act Activation) error {
	switch act {
	case ActivationLinear, ActivationReLU, ActivationSoftmax:
		return nil
	default:
		return fmt.Errorf("unsupported activation %q", act)
	}
}
