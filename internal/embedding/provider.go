// Package embedding converts text into fixed-width vectors for the text
// classifier. A Slot owns the process-wide provider and tracks whether it is
// ready.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kennethnrk/echo/internal/common/constants"
)

// DefaultDimension is the width of sentence vectors produced by the default model.
const DefaultDimension = 512

var (
	// ErrProviderNotReady means no provider has finished loading. Callers treat
	// it as "no model" rather than a failure.
	ErrProviderNotReady = errors.New("embedding provider not ready")
	// ErrAlreadyLoaded is returned when Load is called on a slot that has been loaded.
	ErrAlreadyLoaded = errors.New("embedding provider already loaded")
)

// Provider generates one vector per input text, all of width Dimension().
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OpenFunc opens a provider; it is called once per Slot.
type OpenFunc func(ctx context.Context) (Provider, error)

// Slot holds the provider behind an explicit state machine:
// not_loaded → loading → ready | failed.
type Slot struct {
	mu       sync.RWMutex
	state    constants.ProviderState
	provider Provider
	err      error
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{state: constants.ProviderStateNotLoaded}
}

// Load opens the provider. A slot can be loaded once; a failed load may be retried.
func (s *Slot) Load(ctx context.Context, open OpenFunc) error {
	s.mu.Lock()
	switch s.state {
	case constants.ProviderStateLoading, constants.ProviderStateReady:
		s.mu.Unlock()
		return ErrAlreadyLoaded
	}
	s.state = constants.ProviderStateLoading
	s.err = nil
	s.mu.Unlock()

	p, err := open(ctx)
	if err == nil && p == nil {
		err = errors.New("open returned no provider")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = constants.ProviderStateFailed
		s.err = err
		return fmt.Errorf("load embedding provider: %w", err)
	}
	s.provider = p
	s.state = constants.ProviderStateReady
	return nil
}

// Provider returns the loaded provider or ErrProviderNotReady.
func (s *Slot) Provider() (Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != constants.ProviderStateReady {
		return nil, ErrProviderNotReady
	}
	return s.provider, nil
}

// State reports the slot state and, for failed loads, the error.
func (s *Slot) State() (constants.ProviderState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.err
}

// Close releases the provider if it holds resources and resets the slot.
func (s *Slot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.provider
	s.provider = nil
	s.state = constants.ProviderStateNotLoaded
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
