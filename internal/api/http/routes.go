// Package httpapi serves the editor-facing surface: a WebSocket that relays
// training progress and JSON endpoints for prediction, loading and status.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kennethnrk/echo/internal/controller/training"
)

// NewRouter builds the HTTP routes backed by ctrl.
func NewRouter(ctrl *training.Controller) http.Handler {
	h := &Handler{ctrl: ctrl}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/ws", h.TrainSocket)
	r.Route("/api", func(r chi.Router) {
		r.Post("/predict", h.Predict)
		r.Post("/load", h.Load)
		r.Get("/status", h.Status)
	})
	return r
}

// Serve runs the HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, ctrl *training.Controller) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(ctrl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Echo HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server stopped: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
