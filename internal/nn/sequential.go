package nn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrNonFinite is returned by Fit when the loss stops being a finite number.
var ErrNonFinite = errors.New("non-finite loss")

// DefaultBatchSize is used by Fit when no batch size is configured.
const DefaultBatchSize = 32

// Sequential is a linear stack of layers ending in a softmax classifier.
type Sequential struct {
	name       string
	inputShape []int
	layers     []Layer
}

// NewSequential builds layers in order against inputShape (no batch
// dimension). Only the last layer may use a softmax activation, and it must.
func NewSequential(inputShape []int, rng *rand.Rand, layers ...Layer) (*Sequential, error) {
	if len(layers) == 0 {
		return nil, errors.New("sequential model needs at least one layer")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	counts := make(map[string]int)
	shape := append([]int(nil), inputShape...)
	for i, l := range layers {
		class := l.spec().ClassName
		counts[class]++
		name := fmt.Sprintf("%s_%d", layerPrefix(class), counts[class])
		if err := l.build(name, shape, rng); err != nil {
			return nil, err
		}
		last := i == len(layers)-1
		if d, ok := l.(*Dense); ok && d.Activation == ActivationSoftmax && !last {
			return nil, fmt.Errorf("layer %s: softmax is only supported on the output layer", name)
		}
		shape = l.OutputShape()
	}
	if d, ok := layers[len(layers)-1].(*Dense); !ok || d.Activation != ActivationSoftmax {
		return nil, errors.New("output layer must be a softmax dense layer")
	}

	return &Sequential{
		name:       "sequential_1",
		inputShape: append([]int(nil), inputShape...),
		layers:     layers,
	}, nil
}

func layerPrefix(class string) string {
	switch class {
	case classConv2D:
		return "conv2d"
	case classMaxPooling2D:
		return "max_pooling2d"
	default:
		return strings.ToLower(class)
	}
}

// InputShape returns the per-example input shape.
func (m *Sequential) InputShape() []int { return append([]int(nil), m.inputShape...) }

// InputSize is the flat width of one input row.
func (m *Sequential) InputSize() int { return shapeSize(m.inputShape) }

// Classes is the width of the softmax output.
func (m *Sequential) Classes() int { return m.layers[len(m.layers)-1].OutputShape()[0] }

// Layers returns the model's layers in order.
func (m *Sequential) Layers() []Layer { return m.layers }

// Params returns every trainable parameter in manifest order.
func (m *Sequential) Params() []*Param {
	var ps []*Param
	for _, l := range m.layers {
		ps = append(ps, l.params()...)
	}
	return ps
}

func (m *Sequential) forward(x *mat.Dense, training bool) *mat.Dense {
	out := x
	for _, l := range m.layers {
		out = l.forward(out, training)
	}
	return out
}

func (m *Sequential) backward(grad *mat.Dense) {
	for i := len(m.layers) - 1; i >= 0; i-- {
		grad = m.layers[i].backward(grad)
	}
}

// Predict returns class probabilities, one row per input row. It keeps no
// state, so concurrent calls on a trained model are safe.
func (m *Sequential) Predict(x *mat.Dense) (*mat.Dense, error) {
	if _, cols := x.Dims(); cols != m.InputSize() {
		return nil, fmt.Errorf("predict: input width %d, model expects %d", cols, m.InputSize())
	}
	return m.forward(x, false), nil
}

// FitConfig controls a training run.
type FitConfig struct {
	Epochs    int
	BatchSize int
	Shuffle   bool
	Optimizer *Adam
	Rand      *rand.Rand
}

// EpochLogs are reported after every epoch.
type EpochLogs struct {
	Epoch    int // zero-based
	Loss     float64
	Accuracy float64
}

// Fit trains the model on x (one example per row) against one-hot targets y.
// onEpochEnd, if set, runs after each epoch in order. ctx is checked between
// epochs. Once training finishes, parameters are rounded to float32 precision
// so that the persisted form reproduces the model exactly.
func (m *Sequential) Fit(ctx context.Context, x, y *mat.Dense, cfg FitConfig, onEpochEnd func(EpochLogs)) ([]EpochLogs, error) {
	n, cols := x.Dims()
	yn, classes := y.Dims()
	if n == 0 {
		return nil, errors.New("fit: no training examples")
	}
	if n != yn {
		return nil, fmt.Errorf("fit: %d inputs but %d targets", n, yn)
	}
	if cols != m.InputSize() {
		return nil, fmt.Errorf("fit: input width %d, model expects %d", cols, m.InputSize())
	}
	if classes != m.Classes() {
		return nil, fmt.Errorf("fit: target width %d, model has %d classes", classes, m.Classes())
	}
	if cfg.Epochs <= 0 {
		return nil, errors.New("fit: epochs must be positive")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	opt := cfg.Optimizer
	if opt == nil {
		opt = NewAdam(DefaultLearningRate)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	params := m.Params()
	history := make([]EpochLogs, 0, cfg.Epochs)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}
		if cfg.Shuffle {
			rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var lossSum, correct float64
		for start := 0; start < n; start += batchSize {
			end := min(start+batchSize, n)
			xb := gatherRows(x, order[start:end])
			yb := gatherRows(y, order[start:end])

			probs := m.forward(xb, true)
			loss, hits, grad := crossEntropy(probs, yb)
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return history, fmt.Errorf("epoch %d: %w", epoch+1, ErrNonFinite)
			}
			m.backward(grad)
			opt.Step(params)

			lossSum += loss * float64(end-start)
			correct += float64(hits)
		}

		logs := EpochLogs{Epoch: epoch, Loss: lossSum / float64(n), Accuracy: correct / float64(n)}
		history = append(history, logs)
		if onEpochEnd != nil {
			onEpochEnd(logs)
		}
	}

	m.roundToFloat32()
	return history, nil
}

func (m *Sequential) roundToFloat32() {
	for _, p := range m.Params() {
		for i, v := range p.Value {
			p.Value[i] = float64(float32(v))
		}
	}
}

func gatherRows(src *mat.Dense, idx []int) *mat.Dense {
	_, cols := src.Dims()
	dst := mat.NewDense(len(idx), cols, nil)
	for i, r := range idx {
		copy(dst.RawRowView(i), src.RawRowView(r))
	}
	return dst
}

const probEpsilon = 1e-7

// crossEntropy returns the mean categorical cross-entropy, the number of
// correct argmax predictions, and the gradient with respect to the softmax
// logits.
func crossEntropy(probs, targets *mat.Dense) (float64, int, *mat.Dense) {
	rows, cols := probs.Dims()
	grad := mat.NewDense(rows, cols, nil)
	loss := 0.0
	hits := 0
	for i := 0; i < rows; i++ {
		p := probs.RawRowView(i)
		t := targets.RawRowView(i)
		g := grad.RawRowView(i)
		for j := range p {
			clipped := math.Min(math.Max(p[j], probEpsilon), 1-probEpsilon)
			loss -= t[j] * math.Log(clipped)
			g[j] = (p[j] - t[j]) / float64(rows)
		}
		if Argmax(p) == Argmax(t) {
			hits++
		}
	}
	return loss / float64(rows), hits, grad
}

// Argmax returns the first index holding the maximum value.
func Argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// OneHot builds a (len(labels) × classes) target matrix.
func OneHot(labels []int, classes int) (*mat.Dense, error) {
	if len(labels) == 0 || classes <= 0 {
		return nil, errors.New("one-hot: empty labels or classes")
	}
	y := mat.NewDense(len(labels), classes, nil)
	for i, l := range labels {
		if l < 0 || l >= classes {
			return nil, fmt.Errorf("label %d out of range [0, %d)", l, classes)
		}
		y.Set(i, l, 1)
	}
	return y, nil
}
