package engine

import (
	"context"
	"fmt"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/model"
	"github.com/kennethnrk/echo/internal/nn"
	"github.com/kennethnrk/echo/internal/tensorimage"
	"gonum.org/v1/gonum/mat"
)

// ImageConfig controls image training. A zero BatchSize uses nn.DefaultBatchSize.
type ImageConfig struct {
	ImageSize   int
	Epochs      int
	BatchSize   int
	Filters     int
	KernelSize  int
	PoolSize    int
	HiddenUnits int
}

// DefaultImageConfig is used for every image training run unless overridden.
func DefaultImageConfig() ImageConfig {
	return ImageConfig{ImageSize: 64, Epochs: 20, Filters: 16, KernelSize: 3, PoolSize: 2, HiddenUnits: 64}
}

// ImageClassifier trains a small convolutional network on image files.
type ImageClassifier struct {
	cfg          ImageConfig
	learningRate float64
	seed         uint64
}

func (*ImageClassifier) sealed() {}

// Modality returns constants.ModalityImage.
func (*ImageClassifier) Modality() constants.Modality { return constants.ModalityImage }

// Train decodes every pattern (a file path) and fits a new network.
// A pattern that cannot be decoded aborts the run.
func (c *ImageClassifier) Train(ctx context.Context, inputs []model.Input, onProgress ProgressFunc) (*model.Instance, error) {
	paths, labels, err := trainingSet(inputs)
	if err != nil {
		return nil, err
	}

	size := c.cfg.ImageSize
	width := size * size * tensorimage.Channels
	data := make([]float64, 0, len(paths)*width)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTrainingFailure, err)
		}
		tensor, err := tensorimage.ToTensor(p, size)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTrainingFailure, err)
		}
		data = append(data, tensor...)
	}
	x := mat.NewDense(len(paths), width, data)
	y, err := nn.OneHot(labels, len(inputs))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrainingFailure, err)
	}

	rng := newRand(c.seed)
	net, err := nn.NewSequential([]int{size, size, tensorimage.Channels}, rng,
		nn.NewConv2D(c.cfg.Filters, c.cfg.KernelSize, nn.ActivationReLU),
		nn.NewMaxPooling2D(c.cfg.PoolSize),
		nn.NewFlatten(),
		nn.NewDense(c.cfg.HiddenUnits, nn.ActivationReLU),
		nn.NewDense(len(inputs), nn.ActivationSoftmax),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrainingFailure, err)
	}

	err = fitNetwork(ctx, net, x, y, nn.FitConfig{
		Epochs:    c.cfg.Epochs,
		BatchSize: c.cfg.BatchSize,
		Shuffle:   true,
		Optimizer: nn.NewAdam(c.learningRate),
		Rand:      rng,
	}, onProgress)
	if err != nil {
		return nil, err
	}
	return finish(constants.ModalityImage, net, inputs)
}

// Predict classifies the image at path, scaled to the network's input size.
func (c *ImageClassifier) Predict(ctx context.Context, inst *model.Instance, path string) (model.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return model.Prediction{}, err
	}
	if inst.Network == nil {
		return model.Prediction{}, ErrNoModelLoaded
	}
	shape := inst.Network.InputShape()
	if len(shape) != 3 || shape[0] != shape[1] || shape[2] != tensorimage.Channels {
		return model.Prediction{}, fmt.Errorf("model input shape %v is not a square RGB image", shape)
	}
	tensor, err := tensorimage.ToTensor(path, shape[0])
	if err != nil {
		return model.Prediction{}, err
	}
	probs, err := inst.Network.Predict(mat.NewDense(1, len(tensor), tensor))
	if err != nil {
		return model.Prediction{}, err
	}
	return predictionFrom(inst, probs.RawRowView(0))
}
