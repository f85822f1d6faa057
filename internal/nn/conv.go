package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Conv2D is a stride-1, valid-padding 2-D convolution over HWC inputs.
// Each example is lowered to an im2col matrix so the convolution is a single
// matrix product per example.
type Conv2D struct {
	Filters    int
	KernelSize int
	Activation Activation

	name       string
	inH, inW   int
	inC        int
	outH, outW int
	kernel     *Param
	bias       *Param

	// training caches, one im2col matrix per example
	cols   []*mat.Dense
	output *mat.Dense
}

// NewConv2D returns an unbuilt convolution layer with a square kernel.
func NewConv2D(filters, kernelSize int, act Activation) *Conv2D {
	return &Conv2D{Filters: filters, KernelSize: kernelSize, Activation: act}
}

func (c *Conv2D) Name() string       { return c.name }
func (c *Conv2D) OutputShape() []int { return []int{c.outH, c.outW, c.Filters} }

func (c *Conv2D) build(name string, inputShape []int, rng *rand.Rand) error {
	if len(inputShape) != 3 {
		return fmt.Errorf("conv2d %s: expected [h, w, c] input, got shape %v", name, inputShape)
	}
	if c.Filters <= 0 || c.KernelSize <= 0 {
		return errors.New("conv2d filters and kernel size must be positive")
	}
	if err := checkActivation(c.Activation); err != nil {
		return err
	}
	if c.Activation == ActivationSoftmax {
		return errors.New("conv2d does not support softmax activation")
	}
	c.name = name
	c.inH, c.inW, c.inC = inputShape[0], inputShape[1], inputShape[2]
	c.outH = c.inH - c.KernelSize + 1
	c.outW = c.inW - c.KernelSize + 1
	if c.outH <= 0 || c.outW <= 0 {
		return fmt.Errorf("conv2d %s: kernel %d larger than input %v", name, c.KernelSize, inputShape)
	}

	k := c.KernelSize
	c.kernel = newParam(name+"/kernel", k, k, c.inC, c.Filters)
	c.bias = newParam(name+"/bias", c.Filters)
	glorotUniform(c.kernel, k*k*c.inC, k*k*c.Filters, rng)
	return nil
}

func (c *Conv2D) patchSize() int { return c.KernelSize * c.KernelSize * c.inC }

func (c *Conv2D) kernelMatrix() *mat.Dense {
	return mat.NewDense(c.patchSize(), c.Filters, c.kernel.Value)
}

// im2col lays out every receptive field of one example as a row.
func (c *Conv2D) im2col(sample []float64) *mat.Dense {
	k := c.KernelSize
	positions := c.outH * c.outW
	cols := mat.NewDense(positions, c.patchSize(), nil)
	for oh := 0; oh < c.outH; oh++ {
		for ow := 0; ow < c.outW; ow++ {
			row := cols.RawRowView(oh*c.outW + ow)
			n := 0
			for kh := 0; kh < k; kh++ {
				base := ((oh+kh)*c.inW + ow) * c.inC
				copy(row[n:n+k*c.inC], sample[base:base+k*c.inC])
				n += k * c.inC
			}
		}
	}
	return cols
}

// col2im scatters patch gradients back onto one example's input gradient.
func (c *Conv2D) col2im(dcols *mat.Dense, dst []float64) {
	k := c.KernelSize
	for oh := 0; oh < c.outH; oh++ {
		for ow := 0; ow < c.outW; ow++ {
			row := dcols.RawRowView(oh*c.outW + ow)
			n := 0
			for kh := 0; kh < k; kh++ {
				base := ((oh+kh)*c.inW + ow) * c.inC
				for j := 0; j < k*c.inC; j++ {
					dst[base+j] += row[n+j]
				}
				n += k * c.inC
			}
		}
	}
}

func (c *Conv2D) forward(x *mat.Dense, training bool) *mat.Dense {
	rows, _ := x.Dims()
	positions := c.outH * c.outW
	out := mat.NewDense(rows, positions*c.Filters, nil)
	kernel := c.kernelMatrix()
	if training {
		c.cols = make([]*mat.Dense, rows)
	}
	for s := 0; s < rows; s++ {
		cols := c.im2col(x.RawRowView(s))
		dst := mat.NewDense(positions, c.Filters, out.RawRowView(s))
		dst.Mul(cols, kernel)
		for p := 0; p < positions; p++ {
			row := dst.RawRowView(p)
			for f := range row {
				row[f] += c.bias.Value[f]
			}
		}
		if training {
			c.cols[s] = cols
		}
	}
	applyActivation(c.Activation, out)
	if training {
		c.output = out
	}
	return out
}

func (c *Conv2D) backward(grad *mat.Dense) *mat.Dense {
	if c.Activation == ActivationReLU {
		reluMask(grad, c.output)
	}
	rows, _ := grad.Dims()
	positions := c.outH * c.outW
	kernel := c.kernelMatrix()
	kernelGrad := mat.NewDense(c.patchSize(), c.Filters, c.kernel.Grad)
	kernelGrad.Zero()
	for j := range c.bias.Grad {
		c.bias.Grad[j] = 0
	}

	dx := mat.NewDense(rows, c.inH*c.inW*c.inC, nil)
	var partial, dcols mat.Dense
	for s := 0; s < rows; s++ {
		g := mat.NewDense(positions, c.Filters, grad.RawRowView(s))

		partial.Reset()
		partial.Mul(c.cols[s].T(), g)
		kernelGrad.Add(kernelGrad, &partial)

		for p := 0; p < positions; p++ {
			for f, v := range g.RawRowView(p) {
				c.bias.Grad[f] += v
			}
		}

		dcols.Reset()
		dcols.Mul(g, kernel.T())
		c.col2im(&dcols, dx.RawRowView(s))
	}
	return dx
}

func (c *Conv2D) params() []*Param { return []*Param{c.kernel, c.bias} }

func (c *Conv2D) spec() LayerSpec {
	return LayerSpec{
		ClassName: classConv2D,
		Config: LayerConfig{
			Name:       c.name,
			Filters:    c.Filters,
			KernelSize: []int{c.KernelSize, c.KernelSize},
			Strides:    []int{1, 1},
			Padding:    "valid",
			Activation: c.Activation,
			UseBias:    true,
		},
	}
}
