package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// ONNXModelFile and ONNXVocabFile are looked up inside the model directory.
	ONNXModelFile = "model.onnx"
	ONNXVocabFile = "vocab.txt"

	// DefaultMaxTokens bounds each tokenized sentence, special tokens included.
	DefaultMaxTokens = 128
)

// ONNXConfig describes a sentence-encoder exported to ONNX.
type ONNXConfig struct {
	ModelDir string
	// SharedLibraryPath points at libonnxruntime; empty uses the loader default.
	SharedLibraryPath string
	Dimension         int
	MaxTokens         int
	Lowercase         bool
	// InputNames defaults to input_ids and attention_mask. token_type_ids is
	// fed zeros when listed.
	InputNames []string
	// OutputName defaults to sentence_embedding.
	OutputName string
	// MeanPool averages a [batch, seq, dim] output over the attention mask.
	// Otherwise the output is read as pooled [batch, dim].
	MeanPool bool
}

// ONNXProvider runs a local sentence encoder through onnxruntime.
type ONNXProvider struct {
	cfg       ONNXConfig
	tokenizer *WordPiece

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// ortEnv tracks the process-wide onnxruntime environment.
var ortEnv struct {
	sync.Mutex
	owned bool
}

// NewONNXProvider loads the tokenizer and creates an inference session.
func NewONNXProvider(cfg ONNXConfig) (*ONNXProvider, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if len(cfg.InputNames) == 0 {
		cfg.InputNames = []string{"input_ids", "attention_mask"}
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "sentence_embedding"
	}

	modelPath := filepath.Join(cfg.ModelDir, ONNXModelFile)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx model: %w", err)
	}
	vocab, err := LoadVocab(filepath.Join(cfg.ModelDir, ONNXVocabFile))
	if err != nil {
		return nil, err
	}
	tokenizer, err := NewWordPiece(vocab, cfg.Lowercase)
	if err != nil {
		return nil, err
	}

	if err := initONNXRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath, cfg.InputNames, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &ONNXProvider{cfg: cfg, tokenizer: tokenizer, session: session}, nil
}

func initONNXRuntime(libraryPath string) error {
	ortEnv.Lock()
	defer ortEnv.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	ortEnv.owned = true
	return nil
}

// Dimension returns the sentence vector width.
func (p *ONNXProvider) Dimension() int { return p.cfg.Dimension }

// Embed tokenizes the batch and runs it through the encoder in one call.
func (p *ONNXProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, mask, seqLen := p.tokenizer.Encode(texts, p.cfg.MaxTokens)
	batch := int64(len(texts))
	shape := ort.NewShape(batch, int64(seqLen))

	inputs := make([]ort.Value, 0, len(p.cfg.InputNames))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, name := range p.cfg.InputNames {
		var data []int64
		switch name {
		case "input_ids":
			data = ids
		case "attention_mask":
			data = mask
		case "token_type_ids":
			data = make([]int64, len(ids))
		default:
			return nil, fmt.Errorf("unsupported onnx input %q", name)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("input tensor %s: %w", name, err)
		}
		inputs = append(inputs, t)
	}

	dim := int64(p.cfg.Dimension)
	outShape := ort.NewShape(batch, dim)
	if p.cfg.MeanPool {
		outShape = ort.NewShape(batch, int64(seqLen), dim)
	}
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer output.Destroy()

	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return nil, ErrProviderNotReady
	}
	err = p.session.Run(inputs, []ort.Value{output})
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	data := output.GetData()
	if p.cfg.MeanPool {
		return meanPool(data, mask, len(texts), seqLen, p.cfg.Dimension), nil
	}
	out := make([][]float32, len(texts))
	for i := range out {
		vec := make([]float32, p.cfg.Dimension)
		copy(vec, data[i*p.cfg.Dimension:(i+1)*p.cfg.Dimension])
		out[i] = vec
	}
	return out, nil
}

// meanPool averages token vectors of each row where mask is set.
func meanPool(data []float32, mask []int64, batch, seqLen, dim int) [][]float32 {
	out := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		sum := make([]float64, dim)
		count := 0
		for s := 0; s < seqLen; s++ {
			if mask[b*seqLen+s] == 0 {
				continue
			}
			count++
			base := (b*seqLen + s) * dim
			for d := 0; d < dim; d++ {
				sum[d] += float64(data[base+d])
			}
		}
		vec := make([]float32, dim)
		if count > 0 {
			for d := range vec {
				vec[d] = float32(sum[d] / float64(count))
			}
		}
		out[b] = vec
	}
	return out
}

// Close destroys the session and the onnxruntime environment if this
// process created it.
func (p *ONNXProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil

	ortEnv.Lock()
	defer ortEnv.Unlock()
	if ortEnv.owned {
		ortEnv.owned = false
		if derr := ort.DestroyEnvironment(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}
