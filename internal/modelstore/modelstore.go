// Package modelstore persists a trained Instance as three files in one
// directory: model.json (topology and weight manifest), weights.bin (raw
// little-endian float32 weights) and output.json (response metadata).
package modelstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/model"
	"github.com/kennethnrk/echo/internal/nn"
)

const (
	DescriptionFile = "model.json"
	WeightsFile     = "weights.bin"
	MetadataFile    = "output.json"

	layersFormat = "layers-model"
	generatedBy  = "echo-nn"
)

// ErrInvalidArtifact is returned when files exist but cannot be reconstructed.
var ErrInvalidArtifact = errors.New("invalid model artifact")

type description struct {
	ModelTopology   nn.Topology    `json:"modelTopology"`
	Format          string         `json:"format"`
	GeneratedBy     string         `json:"generatedBy"`
	ConvertedBy     *string        `json:"convertedBy"`
	WeightsManifest []weightsGroup `json:"weightsManifest"`
}

type weightsGroup struct {
	Paths   []string        `json:"paths"`
	Weights []nn.WeightSpec `json:"weights"`
}

// Save writes the three artifacts into dir, creating it if needed. Existing
// files are overwritten.
func Save(inst *model.Instance, dir string) error {
	if inst == nil || inst.Network == nil {
		return errors.New("save: no model instance")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	desc := description{
		ModelTopology: inst.Network.Topology(),
		Format:        layersFormat,
		GeneratedBy:   generatedBy,
		WeightsManifest: []weightsGroup{{
			Paths:   []string{WeightsFile},
			Weights: inst.Network.WeightSpecs(),
		}},
	}
	descData, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal model description: %w", err)
	}

	output := inst.Output
	output.Modality = inst.Modality
	outData, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, WeightsFile), inst.Network.WeightData(), 0o644); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, DescriptionFile), descData, 0o644); err != nil {
		return fmt.Errorf("write model description: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), outData, 0o644); err != nil {
		return fmt.Errorf("write output metadata: %w", err)
	}
	return nil
}

// Exists reports whether all three artifacts are present in dir.
func Exists(dir string) (bool, error) {
	for _, name := range []string{DescriptionFile, WeightsFile, MetadataFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if info.IsDir() {
			return false, fmt.Errorf("%w: %s is a directory", ErrInvalidArtifact, name)
		}
	}
	return true, nil
}

// Load reconstructs an Instance from dir. found is false, with a nil error,
// when any artifact is missing.
func Load(dir string) (*model.Instance, bool, error) {
	ok, err := Exists(dir)
	if err != nil || !ok {
		return nil, false, err
	}

	descData, err := os.ReadFile(filepath.Join(dir, DescriptionFile))
	if err != nil {
		return nil, false, fmt.Errorf("read model description: %w", err)
	}
	var desc description
	if err := json.Unmarshal(descData, &desc); err != nil {
		return nil, false, fmt.Errorf("%w: parse %s: %v", ErrInvalidArtifact, DescriptionFile, err)
	}

	specs, data, err := readWeights(dir, desc.WeightsManifest)
	if err != nil {
		return nil, false, err
	}
	network, err := nn.FromArtifacts(desc.ModelTopology, specs, data)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	outData, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, false, fmt.Errorf("read output metadata: %w", err)
	}
	var output model.Output
	if err := json.Unmarshal(outData, &output); err != nil {
		return nil, false, fmt.Errorf("%w: parse %s: %v", ErrInvalidArtifact, MetadataFile, err)
	}
	modality, ok := constants.ParseModality(string(output.Modality))
	if !ok {
		return nil, false, fmt.Errorf("%w: unknown modality %q", ErrInvalidArtifact, output.Modality)
	}
	if len(output.Responses) != network.Classes() {
		return nil, false, fmt.Errorf("%w: %d responses for %d classes", ErrInvalidArtifact, len(output.Responses), network.Classes())
	}

	return &model.Instance{Network: network, Output: output, Modality: modality}, true, nil
}

// readWeights concatenates the manifest groups in order. Paths must name
// files directly inside dir.
func readWeights(dir string, manifest []weightsGroup) ([]nn.WeightSpec, []byte, error) {
	var specs []nn.WeightSpec
	var data []byte
	for _, group := range manifest {
		for _, p := range group.Paths {
			if p == "" || filepath.Base(p) != p {
				return nil, nil, fmt.Errorf("%w: weights path %q", ErrInvalidArtifact, p)
			}
			chunk, err := os.ReadFile(filepath.Join(dir, p))
			if err != nil {
				return nil, nil, fmt.Errorf("read weights: %w", err)
			}
			data = append(data, chunk...)
		}
		specs = append(specs, group.Weights...)
	}
	return specs, data, nil
}
