// Package registry holds the model instance currently used for predictions
// and enforces that only one training run executes at a time.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/kennethnrk/echo/internal/model"
)

// ErrTrainingInProgress is returned when a run is started while another one is active.
var ErrTrainingInProgress = errors.New("a training run is already in progress")

// Active describes the adopted instance.
type Active struct {
	Instance  *model.Instance
	ProjectID string
	Dir       string
	LoadedAt  time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	active *Active

	trainMu     sync.Mutex
	trainingFor string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Adopt replaces the active instance.
func (r *Registry) Adopt(projectID, dir string, inst *model.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst == nil {
		r.active = nil
		return
	}
	r.active = &Active{Instance: inst, ProjectID: projectID, Dir: dir, LoadedAt: time.Now()}
}

// Instance returns the active instance, or false when none is loaded.
func (r *Registry) Instance() (*model.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return nil, false
	}
	return r.active.Instance, true
}

// Current returns a copy of the active record.
func (r *Registry) Current() (Active, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return Active{}, false
	}
	return *r.active, true
}

// Clear drops the active instance.
func (r *Registry) Clear() {
	r.Adopt("", "", nil)
}

// TryBeginTraining claims the training slot for projectID. It fails with
// ErrTrainingInProgress rather than waiting.
func (r *Registry) TryBeginTraining(projectID string) error {
	r.trainMu.Lock()
	defer r.trainMu.Unlock()
	if r.trainingFor != "" {
		return ErrTrainingInProgress
	}
	if projectID == "" {
		projectID = "<unnamed>"
	}
	r.trainingFor = projectID
	return nil
}

// EndTraining releases the training slot.
func (r *Registry) EndTraining() {
	r.trainMu.Lock()
	r.trainingFor = ""
	r.trainMu.Unlock()
}

// Training reports the project currently being trained, if any.
func (r *Registry) Training() (string, bool) {
	r.trainMu.Lock()
	defer r.trainMu.Unlock()
	return r.trainingFor, r.trainingFor != ""
}
