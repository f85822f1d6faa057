package modelstore

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/model"
	"github.com/kennethnrk/echo/internal/nn"
)

func trainedInstance(t *testing.T) *model.Instance {
	t.Helper()
	rng := rand.New(rand.NewPCG(3, 4))
	network, err := nn.NewSequential([]int{4}, rng,
		nn.NewDense(6, nn.ActivationReLU),
		nn.NewDense(2, nn.ActivationSoftmax),
	)
	require.NoError(t, err)

	x := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0.9, 0.1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0.9, 0.1,
	})
	y, err := nn.OneHot([]int{0, 0, 1, 1}, 2)
	require.NoError(t, err)
	_, err = network.Fit(context.Background(), x, y, nn.FitConfig{Epochs: 5, BatchSize: 2, Rand: rng}, nil)
	require.NoError(t, err)

	inputs := []model.Input{
		{ID: "a", Name: "greet", Response: model.Response{Type: constants.ResponseTypeStatic, Content: model.ResponseContent{Static: "hello"}}},
		{ID: "b", Name: "bye", Response: model.Response{
			Type:    constants.ResponseTypeRandom,
			Content: model.ResponseContent{Random: []string{"bye", "ciao"}},
			Script:  model.Script{Enabled: true, Content: "upper(content)"},
		}},
	}
	output, err := model.BuildOutput(constants.ModalityText, inputs)
	require.NoError(t, err)
	return &model.Instance{Network: network, Output: output, Modality: constants.ModalityText}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	inst := trainedInstance(t)
	dir := filepath.Join(t.TempDir(), "project", "output")

	require.NoError(t, Save(inst, dir))
	// Saving twice is idempotent.
	require.NoError(t, Save(inst, dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	loaded, found, err := Load(dir)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, inst.Output, loaded.Output)
	assert.Equal(t, constants.ModalityText, loaded.Modality)

	want, got := inst.Network.Params(), loaded.Network.Params()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Value, got[i].Value, want[i].Name)
	}

	batch := mat.NewDense(2, 4, []float64{1, 0, 0, 0, 0, 0, 1, 0})
	p1, err := inst.Network.Predict(batch)
	require.NoError(t, err)
	p2, err := loaded.Network.Predict(batch)
	require.NoError(t, err)
	assert.True(t, mat.Equal(p1, p2))
	for r := 0; r < 2; r++ {
		assert.Equal(t, nn.Argmax(p1.RawRowView(r)), nn.Argmax(p2.RawRowView(r)))
	}
}

func TestSaveWritesManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(trainedInstance(t), dir))

	raw, err := os.ReadFile(filepath.Join(dir, DescriptionFile))
	require.NoError(t, err)
	var desc map[string]any
	require.NoError(t, json.Unmarshal(raw, &desc))
	assert.Contains(t, desc, "modelTopology")
	assert.Contains(t, desc, "convertedBy")
	manifest := desc["weightsManifest"].([]any)
	require.Len(t, manifest, 1)
	group := manifest[0].(map[string]any)
	assert.Equal(t, []any{WeightsFile}, group["paths"])
	assert.Len(t, group["weights"], 4)

	raw, err = os.ReadFile(filepath.Join(dir, MetadataFile))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "text", out["type"])
}

func TestLoadMissingArtifactIsNotFound(t *testing.T) {
	for _, missing := range []string{DescriptionFile, WeightsFile, MetadataFile} {
		dir := t.TempDir()
		require.NoError(t, Save(trainedInstance(t), dir))
		require.NoError(t, os.Remove(filepath.Join(dir, missing)))

		inst, found, err := Load(dir)
		require.NoError(t, err, missing)
		assert.False(t, found, missing)
		assert.Nil(t, inst)
	}

	_, found, err := Load(filepath.Join(t.TempDir(), "never-trained"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadRejectsCorruptArtifacts(t *testing.T) {
	corrupt := map[string]func(dir string){
		"description": func(dir string) {
			os.WriteFile(filepath.Join(dir, DescriptionFile), []byte("{not json"), 0o644)
		},
		"metadata": func(dir string) {
			os.WriteFile(filepath.Join(dir, MetadataFile), []byte("[]"), 0o644)
		},
		"modality": func(dir string) {
			os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`{"type":"audio","responses":[]}`), 0o644)
		},
		"short weights": func(dir string) {
			path := filepath.Join(dir, WeightsFile)
			data, _ := os.ReadFile(path)
			os.WriteFile(path, data[:len(data)-8], 0o644)
		},
	}
	for name, mutate := range corrupt {
		dir := t.TempDir()
		require.NoError(t, Save(trainedInstance(t), dir))
		mutate(dir)

		inst, found, err := Load(dir)
		require.ErrorIs(t, err, ErrInvalidArtifact, name)
		assert.False(t, found, name)
		assert.Nil(t, inst, name)
	}
}

func TestSaveRejectsEmptyInstance(t *testing.T) {
	require.Error(t, Save(nil, t.TempDir()))
	require.Error(t, Save(&model.Instance{}, t.TempDir()))
}
