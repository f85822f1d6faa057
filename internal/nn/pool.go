package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// MaxPooling2D downsamples HWC inputs with non-overlapping square windows.
type MaxPooling2D struct {
	PoolSize int

	name       string
	inH, inW   int
	inC        int
	outH, outW int

	// training cache: flat input offset of each selected maximum
	argmax [][]int
	inCols int
}

// NewMaxPooling2D returns a pooling layer whose stride equals its pool size.
func NewMaxPooling2D(poolSize int) *MaxPooling2D {
	return &MaxPooling2D{PoolSize: poolSize}
}

func (p *MaxPooling2D) Name() string       { return p.name }
func (p *MaxPooling2D) OutputShape() []int { return []int{p.outH, p.outW, p.inC} }

func (p *MaxPooling2D) build(name string, inputShape []int, _ *rand.Rand) error {
	if len(inputShape) != 3 {
		return fmt.Errorf("max_pooling2d %s: expected [h, w, c] input, got shape %v", name, inputShape)
	}
	if p.PoolSize <= 0 {
		return errors.New("pool size must be positive")
	}
	p.name = name
	p.inH, p.inW, p.inC = inputShape[0], inputShape[1], inputShape[2]
	p.outH = p.inH / p.PoolSize
	p.outW = p.inW / p.PoolSize
	if p.outH == 0 || p.outW == 0 {
		return fmt.Errorf("max_pooling2d %s: pool %d larger than input %v", name, p.PoolSize, inputShape)
	}
	p.inCols = p.inH * p.inW * p.inC
	return nil
}

func (p *MaxPooling2D) forward(x *mat.Dense, training bool) *mat.Dense {
	rows, _ := x.Dims()
	outCols := p.outH * p.outW * p.inC
	out := mat.NewDense(rows, outCols, nil)
	if training {
		p.argmax = make([][]int, rows)
	}
	for s := 0; s < rows; s++ {
		in := x.RawRowView(s)
		dst := out.RawRowView(s)
		var picks []int
		if training {
			picks = make([]int, outCols)
		}
		for oh := 0; oh < p.outH; oh++ {
			for ow := 0; ow < p.outW; ow++ {
				for ch := 0; ch < p.inC; ch++ {
					best := math.Inf(-1)
					bestIdx := -1
					for ph := 0; ph < p.PoolSize; ph++ {
						for pw := 0; pw < p.PoolSize; pw++ {
							idx := ((oh*p.PoolSize+ph)*p.inW+(ow*p.PoolSize+pw))*p.inC + ch
							if in[idx] > best {
								best = in[idx]
								bestIdx = idx
							}
						}
					}
					o := (oh*p.outW+ow)*p.inC + ch
					dst[o] = best
					if training {
						picks[o] = bestIdx
					}
				}
			}
		}
		if training {
			p.argmax[s] = picks
		}
	}
	return out
}

func (p *MaxPooling2D) backward(grad *mat.Dense) *mat.Dense {
	rows, _ := grad.Dims()
	dx := mat.NewDense(rows, p.inCols, nil)
	for s := 0; s < rows; s++ {
		dst := dx.RawRowView(s)
		for o, g := range grad.RawRowView(s) {
			dst[p.argmax[s][o]] += g
		}
	}
	return dx
}

func (p *MaxPooling2D) params() []*Param { return nil }

func (p *MaxPooling2D) spec() LayerSpec {
	return LayerSpec{
		ClassName: classMaxPooling2D,
		Config: LayerConfig{
			Name:     p.name,
			PoolSize: []int{p.PoolSize, p.PoolSize},
			Strides:  []int{p.PoolSize, p.PoolSize},
			Padding:  "valid",
		},
	}
}

// Flatten collapses a spatial shape into one dimension. Rows are already
// stored flat, so the data passes through unchanged.
type Flatten struct {
	name string
	size int
}

// NewFlatten returns an unbuilt flatten layer.
func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Name() string       { return f.name }
func (f *Flatten) OutputShape() []int { return []int{f.size} }

func (f *Flatten) build(name string, inputShape []int, _ *rand.Rand) error {
	f.name = name
	f.size = shapeSize(inputShape)
	return nil
}

func (f *Flatten) forward(x *mat.Dense, _ bool) *mat.Dense { return x }
func (f *Flatten) backward(grad *mat.Dense) *mat.Dense     { return grad }
func (f *Flatten) params() []*Param                        { return nil }

func (f *Flatten) spec() LayerSpec {
	return LayerSpec{ClassName: classFlatten, Config: LayerConfig{Name: f.name}}
}
