package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/model"
	"github.com/kennethnrk/echo/internal/nn"
	"gonum.org/v1/gonum/mat"
)

// ProgressFunc receives the completed share of a training run, 0-100.
type ProgressFunc func(percent float64)

// Classifier trains and queries a network for one modality. The set of
// implementations is closed: TextClassifier and ImageClassifier.
type Classifier interface {
	Modality() constants.Modality
	Train(ctx context.Context, inputs []model.Input, onProgress ProgressFunc) (*model.Instance, error)
	Predict(ctx context.Context, inst *model.Instance, input string) (model.Prediction, error)

	sealed()
}

// trainingSet pairs every pattern with the index of its Input.
func trainingSet(inputs []model.Input) (patterns []string, labels []int, err error) {
	classes := 0
	for i, in := range inputs {
		if len(in.Patterns) > 0 {
			classes++
		}
		for _, p := range in.Patterns {
			patterns = append(patterns, p)
			labels = append(labels, i)
		}
	}
	if classes < 2 {
		return nil, nil, ErrTooFewIntents
	}
	return patterns, labels, nil
}

// fitNetwork runs the optimizer and converts epoch ends into progress percentages.
func fitNetwork(ctx context.Context, net *nn.Sequential, x, y *mat.Dense, cfg nn.FitConfig, onProgress ProgressFunc) error {
	history, err := net.Fit(ctx, x, y, cfg, func(logs nn.EpochLogs) {
		if onProgress != nil {
			onProgress(100 * float64(logs.Epoch+1) / float64(cfg.Epochs))
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTrainingFailure, err)
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		log.Printf("Training finished after %d epochs (loss=%.4f, accuracy=%.3f)", n, last.Loss, last.Accuracy)
	}
	return nil
}

// finish attaches output metadata to a fitted network. inputs is copied so
// generated intent ids do not leak back to the caller.
func finish(modality constants.Modality, net *nn.Sequential, inputs []model.Input) (*model.Instance, error) {
	inputs = slices.Clone(inputs)
	model.AssignIntentIDs(inputs)
	output, err := model.BuildOutput(modality, inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrainingFailure, err)
	}
	return &model.Instance{Network: net, Output: output, Modality: modality}, nil
}

// predictionFrom picks the most probable label; ties go to the lowest index.
func predictionFrom(inst *model.Instance, probs []float64) (model.Prediction, error) {
	idx := nn.Argmax(probs)
	resp, ok := inst.Response(idx)
	if !ok {
		return model.Prediction{}, fmt.Errorf("no response for label %d", idx)
	}
	return model.Prediction{
		Index:      idx,
		IntentID:   inst.IntentID(idx),
		Confidence: probs[idx],
		Response:   resp,
	}, nil
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
