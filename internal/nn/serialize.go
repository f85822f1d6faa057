package nn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

const (
	classSequential   = "Sequential"
	classDense        = "Dense"
	classConv2D       = "Conv2D"
	classMaxPooling2D = "MaxPooling2D"
	classFlatten      = "Flatten"

	// DTypeFloat32 is the only weight encoding written or read.
	DTypeFloat32 = "float32"
)

// ErrWeightMismatch is returned when a weight manifest or payload does not fit the topology.
var ErrWeightMismatch = errors.New("weights do not match topology")

// Topology describes a model's architecture in Keras-compatible JSON.
type Topology struct {
	ClassName string         `json:"class_name"`
	Config    SequentialSpec `json:"config"`
}

// SequentialSpec is the config block of a Sequential topology.
type SequentialSpec struct {
	Name   string      `json:"name"`
	Layers []LayerSpec `json:"layers"`
}

// LayerSpec is one layer entry of a topology.
type LayerSpec struct {
	ClassName string      `json:"class_name"`
	Config    LayerConfig `json:"config"`
}

// LayerConfig holds the union of configuration fields used by the supported layers.
type LayerConfig struct {
	Name            string     `json:"name"`
	BatchInputShape []*int     `json:"batch_input_shape,omitempty"`
	Units           int        `json:"units,omitempty"`
	Filters         int        `json:"filters,omitempty"`
	KernelSize      []int      `json:"kernel_size,omitempty"`
	PoolSize        []int      `json:"pool_size,omitempty"`
	Strides         []int      `json:"strides,omitempty"`
	Padding         string     `json:"padding,omitempty"`
	Activation      Activation `json:"activation,omitempty"`
	UseBias         bool       `json:"use_bias,omitempty"`
}

// WeightSpec names one tensor of the binary weight payload.
type WeightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// Topology returns the model's architecture description.
func (m *Sequential) Topology() Topology {
	layers := make([]LayerSpec, len(m.layers))
	for i, l := range m.layers {
		layers[i] = l.spec()
	}
	batchShape := make([]*int, 0, len(m.inputShape)+1)
	batchShape = append(batchShape, nil)
	for _, d := range m.inputShape {
		batchShape = append(batchShape, &d)
	}
	layers[0].Config.BatchInputShape = batchShape
	return Topology{
		ClassName: classSequential,
		Config:    SequentialSpec{Name: m.name, Layers: layers},
	}
}

// WeightSpecs lists every parameter in payload order.
func (m *Sequential) WeightSpecs() []WeightSpec {
	params := m.Params()
	specs := make([]WeightSpec, len(params))
	for i, p := range params {
		specs[i] = WeightSpec{Name: p.Name, Shape: append([]int(nil), p.Shape...), DType: DTypeFloat32}
	}
	return specs
}

// WeightData encodes every parameter as little-endian float32, concatenated
// in WeightSpecs order.
func (m *Sequential) WeightData() []byte {
	params := m.Params()
	total := 0
	for _, p := range params {
		total += len(p.Value)
	}
	buf := make([]byte, 0, total*4)
	for _, p := range params {
		for _, v := range p.Value {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
		}
	}
	return buf
}

// FromArtifacts rebuilds a model from its topology, weight manifest and
// payload. Specs must name the topology's parameters in order.
func FromArtifacts(topo Topology, specs []WeightSpec, data []byte) (*Sequential, error) {
	if topo.ClassName != classSequential {
		return nil, fmt.Errorf("unsupported model class %q", topo.ClassName)
	}
	if len(topo.Config.Layers) == 0 {
		return nil, errors.New("topology has no layers")
	}

	inputShape, err := inputShapeOf(topo.Config.Layers[0].Config)
	if err != nil {
		return nil, err
	}
	layers := make([]Layer, len(topo.Config.Layers))
	for i, spec := range topo.Config.Layers {
		l, err := layerFromSpec(spec)
		if err != nil {
			return nil, err
		}
		layers[i] = l
	}

	// Initial values are overwritten below; a fixed source keeps building cheap and deterministic.
	m, err := NewSequential(inputShape, rand.New(rand.NewPCG(0, 0)), layers...)
	if err != nil {
		return nil, err
	}
	if topo.Config.Name != "" {
		m.name = topo.Config.Name
	}

	params := m.Params()
	if len(specs) != len(params) {
		return nil, fmt.Errorf("%w: manifest lists %d tensors, topology has %d", ErrWeightMismatch, len(specs), len(params))
	}
	offset := 0
	for i, p := range params {
		spec := specs[i]
		if spec.Name != p.Name || !slices.Equal(spec.Shape, p.Shape) {
			return nil, fmt.Errorf("%w: tensor %d is %s%v, want %s%v", ErrWeightMismatch, i, spec.Name, spec.Shape, p.Name, p.Shape)
		}
		if spec.DType != DTypeFloat32 {
			return nil, fmt.Errorf("%w: tensor %s has dtype %q", ErrWeightMismatch, spec.Name, spec.DType)
		}
		size := len(p.Value) * 4
		if offset+size > len(data) {
			return nil, fmt.Errorf("%w: payload ends inside tensor %s", ErrWeightMismatch, spec.Name)
		}
		for j := range p.Value {
			bits := binary.LittleEndian.Uint32(data[offset+j*4:])
			p.Value[j] = float64(math.Float32frombits(bits))
		}
		offset += size
	}
	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d trailing payload bytes", ErrWeightMismatch, len(data)-offset)
	}
	return m, nil
}

func inputShapeOf(cfg LayerConfig) ([]int, error) {
	if len(cfg.BatchInputShape) < 2 {
		return nil, fmt.Errorf("layer %s: missing batch_input_shape", cfg.Name)
	}
	shape := make([]int, 0, len(cfg.BatchInputShape)-1)
	for _, d := range cfg.BatchInputShape[1:] {
		if d == nil || *d <= 0 {
			return nil, fmt.Errorf("layer %s: input dimensions must be fixed and positive", cfg.Name)
		}
		shape = append(shape, *d)
	}
	return shape, nil
}

func layerFromSpec(spec LayerSpec) (Layer, error) {
	cfg := spec.Config
	switch spec.ClassName {
	case classDense:
		return NewDense(cfg.Units, cfg.Activation), nil
	case classConv2D:
		if len(cfg.KernelSize) != 2 || cfg.KernelSize[0] != cfg.KernelSize[1] {
			return nil, fmt.Errorf("layer %s: only square kernels are supported", cfg.Name)
		}
		if len(cfg.Strides) > 0 && !slices.Equal(cfg.Strides, []int{1, 1}) {
			return nil, fmt.Errorf("layer %s: only unit strides are supported", cfg.Name)
		}
		if cfg.Padding != "" && cfg.Padding != "valid" {
			return nil, fmt.Errorf("layer %s: unsupported padding %q", cfg.Name, cfg.Padding)
		}
		return NewConv2D(cfg.Filters, cfg.KernelSize[0], cfg.Activation), nil
	case classMaxPooling2D:
		if len(cfg.PoolSize) != 2 || cfg.PoolSize[0] != cfg.PoolSize[1] {
			return nil, fmt.Errorf("layer %s: only square pools are supported", cfg.Name)
		}
		return NewMaxPooling2D(cfg.PoolSize[0]), nil
	case classFlatten:
		return NewFlatten(), nil
	default:
		return nil, fmt.Errorf("unsupported layer class %q", spec.ClassName)
	}
}
