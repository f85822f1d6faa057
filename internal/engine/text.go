package engine

import (
	"context"
	"fmt"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/embedding"
	"github.com/kennethnrk/echo/internal/model"
	"github.com/kennethnrk/echo/internal/nn"
	"gonum.org/v1/gonum/mat"
)

// TextConfig controls text training.
type TextConfig struct {
	Epochs         int
	BatchSize      int
	HiddenUnits    int
	DisableShuffle bool
}

// DefaultTextConfig is used for every text training run unless overridden.
func DefaultTextConfig() TextConfig {
	return TextConfig{Epochs: 35, BatchSize: 4, HiddenUnits: 128}
}

// TextClassifier embeds sentences and trains a two-layer dense network on them.
type TextClassifier struct {
	slot         *embedding.Slot
	cfg          TextConfig
	learningRate float64
	seed         uint64
}

func (*TextClassifier) sealed() {}

// Modality returns constants.ModalityText.
func (*TextClassifier) Modality() constants.Modality { return constants.ModalityText }

// Train fits a new network on every pattern of inputs. The provider must be
// ready; otherwise ErrProviderNotReady is returned and nothing is trained.
func (c *TextClassifier) Train(ctx context.Context, inputs []model.Input, onProgress ProgressFunc) (*model.Instance, error) {
	patterns, labels, err := trainingSet(inputs)
	if err != nil {
		return nil, err
	}
	provider, err := c.slot.Provider()
	if err != nil {
		return nil, err
	}

	x, err := embed(ctx, provider, patterns)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrainingFailure, err)
	}
	y, err := nn.OneHot(labels, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrainingFailure, err)
	}

	rng := newRand(c.seed)
	net, err := nn.NewSequential([]int{provider.Dimension()}, rng,
		nn.NewDense(c.cfg.HiddenUnits, nn.ActivationReLU),
		nn.NewDense(len(inputs), nn.ActivationSoftmax),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrainingFailure, err)
	}

	err = fitNetwork(ctx, net, x, y, nn.FitConfig{
		Epochs:    c.cfg.Epochs,
		BatchSize: c.cfg.BatchSize,
		Shuffle:   !c.cfg.DisableShuffle,
		Optimizer: nn.NewAdam(c.learningRate),
		Rand:      rng,
	}, onProgress)
	if err != nil {
		return nil, err
	}
	return finish(constants.ModalityText, net, inputs)
}

// Predict classifies a single sentence.
func (c *TextClassifier) Predict(ctx context.Context, inst *model.Instance, input string) (model.Prediction, error) {
	provider, err := c.slot.Provider()
	if err != nil {
		return model.Prediction{}, err
	}
	if inst.Network == nil {
		return model.Prediction{}, ErrNoModelLoaded
	}
	x, err := embed(ctx, provider, []string{input})
	if err != nil {
		return model.Prediction{}, err
	}
	probs, err := inst.Network.Predict(x)
	if err != nil {
		return model.Prediction{}, err
	}
	return predictionFrom(inst, probs.RawRowView(0))
}

// embed returns one row per text.
func embed(ctx context.Context, provider embedding.Provider, texts []string) (*mat.Dense, error) {
	vecs, err := provider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	dim := provider.Dimension()
	data := make([]float64, 0, len(texts)*dim)
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("embed: vector %d has width %d, want %d", i, len(v), dim)
		}
		for _, f := range v {
			data = append(data, float64(f))
		}
	}
	return mat.NewDense(len(texts), dim, data), nil
}
