package engine

import (
	"errors"

	"github.com/kennethnrk/echo/internal/embedding"
	"github.com/kennethnrk/echo/internal/tensorimage"
)

var (
	ErrNoModelLoaded   = errors.New("no model loaded")
	ErrTrainingFailure = errors.New("training failed")
	ErrTooFewIntents   = errors.New("at least two inputs with patterns are required")
	ErrUnknownModality = errors.New("unknown modality")

	// Re-exported so callers can match engine errors from one package.
	ErrProviderNotReady = embedding.ErrProviderNotReady
	ErrImageDecode      = tensorimage.ErrImageDecode
)
