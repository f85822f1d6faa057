// Package engine trains, persists and queries intent classifiers. It owns the
// embedding provider and dispatches every operation to the classifier of the
// relevant modality.
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/embedding"
	"github.com/kennethnrk/echo/internal/model"
	"github.com/kennethnrk/echo/internal/modelstore"
	"github.com/kennethnrk/echo/internal/nn"
	"github.com/kennethnrk/echo/internal/registry"
)

// Config tunes the classifiers. Zero values fall back to the defaults.
type Config struct {
	Text         TextConfig
	Image        ImageConfig
	LearningRate float64
	// Seed makes weight initialization and shuffling reproducible when non-zero.
	Seed uint64
}

// Engine is safe for concurrent use; it keeps no per-model state of its own.
type Engine struct {
	slot  *embedding.Slot
	text  *TextClassifier
	image *ImageClassifier
}

// New builds an engine with an empty provider slot.
func New(cfg Config) *Engine {
	lr := cfg.LearningRate
	if lr <= 0 {
		lr = nn.DefaultLearningRate
	}
	slot := embedding.NewSlot()
	return &Engine{
		slot:  slot,
		text:  &TextClassifier{slot: slot, cfg: withTextDefaults(cfg.Text), learningRate: lr, seed: cfg.Seed},
		image: &ImageClassifier{cfg: withImageDefaults(cfg.Image), learningRate: lr, seed: cfg.Seed},
	}
}

func withTextDefaults(c TextConfig) TextConfig {
	def := DefaultTextConfig()
	if c.Epochs <= 0 {
		c.Epochs = def.Epochs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.HiddenUnits <= 0 {
		c.HiddenUnits = def.HiddenUnits
	}
	return c
}

func withImageDefaults(c ImageConfig) ImageConfig {
	def := DefaultImageConfig()
	if c.ImageSize <= 0 {
		c.ImageSize = def.ImageSize
	}
	if c.Epochs <= 0 {
		c.Epochs = def.Epochs
	}
	if c.Filters <= 0 {
		c.Filters = def.Filters
	}
	if c.KernelSize <= 0 {
		c.KernelSize = def.KernelSize
	}
	if c.PoolSize <= 0 {
		c.PoolSize = def.PoolSize
	}
	if c.HiddenUnits <= 0 {
		c.HiddenUnits = def.HiddenUnits
	}
	return c
}

// Init loads the embedding provider. It must succeed before text models can
// be trained or queried.
func (e *Engine) Init(ctx context.Context, open embedding.OpenFunc) error {
	if err := e.slot.Load(ctx, open); err != nil {
		return err
	}
	p, _ := e.slot.Provider()
	log.Printf("Embedding provider ready (dim=%d)", p.Dimension())
	return nil
}

// Provider exposes the provider slot for status reporting.
func (e *Engine) Provider() *embedding.Slot { return e.slot }

// Close releases the embedding provider.
func (e *Engine) Close() error { return e.slot.Close() }

// Classifier returns the classifier for modality.
func (e *Engine) Classifier(modality constants.Modality) (Classifier, error) {
	switch modality {
	case constants.ModalityText:
		return e.text, nil
	case constants.ModalityImage:
		return e.image, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModality, modality)
	}
}

// Epochs returns the number of progress callbacks a run of modality produces.
func (e *Engine) Epochs(modality constants.Modality) int {
	switch modality {
	case constants.ModalityText:
		return e.text.cfg.Epochs
	case constants.ModalityImage:
		return e.image.cfg.Epochs
	default:
		return 0
	}
}

// Train builds and fits a new model. The result is not adopted by any
// registry; callers decide when to persist and activate it.
func (e *Engine) Train(ctx context.Context, modality constants.Modality, inputs []model.Input, onProgress ProgressFunc) (*model.Instance, error) {
	c, err := e.Classifier(modality)
	if err != nil {
		return nil, err
	}
	return c.Train(ctx, inputs, onProgress)
}

// Save persists inst into dir.
func (e *Engine) Save(inst *model.Instance, dir string) error {
	return modelstore.Save(inst, dir)
}

// Load reads the model in dir and, when found, makes it the active instance
// of reg for projectID. A missing model is reported as found=false.
func (e *Engine) Load(reg *registry.Registry, projectID, dir string) (bool, error) {
	inst, found, err := modelstore.Load(dir)
	if err != nil || !found {
		return false, err
	}
	reg.Adopt(projectID, dir, inst)
	log.Printf("Loaded %s model for project %s from %s", inst.Modality, projectID, dir)
	return true, nil
}

// Predict classifies input with the active instance and returns the stored
// response of the winning intent, before random choice or transforms.
func (e *Engine) Predict(ctx context.Context, reg *registry.Registry, input string) (model.ResolvedResponse, error) {
	p, err := e.PredictDetailed(ctx, reg, input)
	if err != nil {
		return model.ResolvedResponse{}, err
	}
	return p.Response, nil
}

// PredictDetailed is Predict with the label index, intent id and confidence.
func (e *Engine) PredictDetailed(ctx context.Context, reg *registry.Registry, input string) (model.Prediction, error) {
	inst, ok := reg.Instance()
	if !ok {
		return model.Prediction{}, ErrNoModelLoaded
	}
	return e.PredictInstance(ctx, inst, input)
}

// PredictInstance classifies input with inst rather than the registry's
// active instance, so callers holding a snapshot keep predicting with it.
func (e *Engine) PredictInstance(ctx context.Context, inst *model.Instance, input string) (model.Prediction, error) {
	if inst == nil {
		return model.Prediction{}, ErrNoModelLoaded
	}
	c, err := e.Classifier(inst.Modality)
	if err != nil {
		return model.Prediction{}, err
	}
	return c.Predict(ctx, inst, input)
}
