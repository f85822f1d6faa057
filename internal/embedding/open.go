package embedding

import (
	"context"
	"fmt"
	"log"
)

// Provider kinds accepted by Opener.
const (
	KindONNX   = "onnx"
	KindOllama = "ollama"
	KindHash   = "hash"
)

// Config selects and configures the provider opened at startup.
type Config struct {
	Kind        string
	Dimension   int
	ModelDir    string
	LibraryPath string
	OllamaHost  string
	OllamaModel string

	// CaseSensitive disables lower-casing before WordPiece lookup. Leave it
	// unset for uncased vocabularies.
	CaseSensitive bool
}

// onnxConfig derives the ONNX provider settings from cfg.
func onnxConfig(cfg Config, dim int) ONNXConfig {
	return ONNXConfig{
		ModelDir:          cfg.ModelDir,
		SharedLibraryPath: cfg.LibraryPath,
		Dimension:         dim,
		Lowercase:         !cfg.CaseSensitive,
	}
}

// Opener returns an OpenFunc for the configured provider kind.
func Opener(cfg Config) OpenFunc {
	return func(ctx context.Context) (Provider, error) {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = DefaultDimension
		}
		switch cfg.Kind {
		case KindONNX, "":
			log.Printf("Loading ONNX sentence encoder from %s", cfg.ModelDir)
			return NewONNXProvider(onnxConfig(cfg, dim))
		case KindOllama:
			log.Printf("Using Ollama embeddings (%s at %s)", cfg.OllamaModel, cfg.OllamaHost)
			var opts []OllamaOption
			if cfg.OllamaHost != "" {
				opts = append(opts, WithOllamaHost(cfg.OllamaHost))
			}
			return NewOllamaProvider(cfg.OllamaModel, dim, opts...), nil
		case KindHash:
			log.Printf("Using hashing embeddings (dim=%d)", dim)
			return NewHashProvider(dim), nil
		default:
			return nil, fmt.Errorf("unknown embedding provider %q", cfg.Kind)
		}
	}
}
