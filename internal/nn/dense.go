package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer: y = act(x·W + b).
type Dense struct {
	Units      int
	Activation Activation

	name   string
	inDim  int
	kernel *Param
	bias   *Param

	// training caches
	input  *mat.Dense
	output *mat.Dense
}

// NewDense returns an unbuilt dense layer.
func NewDense(units int, act Activation) *Dense {
	return &Dense{Units: units, Activation: act}
}

func (d *Dense) Name() string       { return d.name }
func (d *Dense) OutputShape() []int { return []int{d.Units} }

func (d *Dense) build(name string, inputShape []int, rng *rand.Rand) error {
	if len(inputShape) != 1 {
		return fmt.Errorf("dense %s: expected 1-D input, got shape %v", name, inputShape)
	}
	if d.Units <= 0 {
		return errors.New("dense units must be positive")
	}
	if err := checkActivation(d.Activation); err != nil {
		return err
	}
	d.name = name
	d.inDim = inputShape[0]
	d.kernel = newParam(name+"/kernel", d.inDim, d.Units)
	d.bias = newParam(name+"/bias", d.Units)
	glorotUniform(d.kernel, d.inDim, d.Units, rng)
	return nil
}

func (d *Dense) kernelMatrix() *mat.Dense {
	return mat.NewDense(d.inDim, d.Units, d.kernel.Value)
}

func (d *Dense) forward(x *mat.Dense, training bool) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, d.Units, nil)
	out.Mul(x, d.kernelMatrix())
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += d.bias.Value[j]
		}
	}
	applyActivation(d.Activation, out)
	if training {
		d.input = x
		d.output = out
	}
	return out
}

// backward expects grad with respect to the layer output. For a softmax
// layer it must already be the gradient with respect to the logits.
func (d *Dense) backward(grad *mat.Dense) *mat.Dense {
	if d.Activation == ActivationReLU {
		reluMask(grad, d.output)
	}

	kernelGrad := mat.NewDense(d.inDim, d.Units, d.kernel.Grad)
	kernelGrad.Mul(d.input.T(), grad)

	for j := range d.bias.Grad {
		d.bias.Grad[j] = 0
	}
	rows, _ := grad.Dims()
	for i := 0; i < rows; i++ {
		for j, g := range grad.RawRowView(i) {
			d.bias.Grad[j] += g
		}
	}

	var dx mat.Dense
	dx.Mul(grad, d.kernelMatrix().T())
	return &dx
}

func (d *Dense) params() []*Param { return []*Param{d.kernel, d.bias} }

func (d *Dense) spec() LayerSpec {
	return LayerSpec{
		ClassName: classDense,
		Config: LayerConfig{
			Name:       d.name,
			Units:      d.Units,
			Activation: d.Activation,
			UseBias:    true,
		},
	}
}
