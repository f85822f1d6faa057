// Package training runs a project's training end to end: it loads the
// project, guards resources, trains, persists, activates the new model and
// reports every stage to a ProgressSink.
package training

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/controller/runs"
	"github.com/kennethnrk/echo/internal/engine"
	"github.com/kennethnrk/echo/internal/model"
	"github.com/kennethnrk/echo/internal/monitor"
	"github.com/kennethnrk/echo/internal/registry"
	"github.com/kennethnrk/echo/internal/response"
	"github.com/kennethnrk/echo/internal/store"
)

// ProgressSink receives the stages of one training run, in order:
// Training (once per epoch), Saving, then Completed; or Failed at any point.
type ProgressSink interface {
	Training(percent int)
	Saving()
	Completed()
	Failed(err error)
}

// Event is the wire form of one stage. Progress is set only while training.
type Event struct {
	Status   constants.RunStatus `json:"status"`
	Progress *int                `json:"progress,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// EventFunc adapts a function receiving Events to a ProgressSink.
type EventFunc func(Event)

func (f EventFunc) Training(percent int) {
	f(Event{Status: constants.RunStatusTraining, Progress: &percent})
}

func (f EventFunc) Saving()    { f(Event{Status: constants.RunStatusSaving}) }
func (f EventFunc) Completed() { f(Event{Status: constants.RunStatusCompleted}) }

func (f EventFunc) Failed(err error) {
	f(Event{Status: constants.RunStatusFailed, Error: err.Error()})
}

// Controller is shared by all transports.
type Controller struct {
	engine   *engine.Engine
	registry *registry.Registry
	source   ProjectSource
	resolver *response.Resolver

	// Optional.
	ledger  *store.Store
	monitor *monitor.Monitor
}

// New wires a controller. ledger and mon may be nil.
func New(e *engine.Engine, reg *registry.Registry, src ProjectSource, resolver *response.Resolver, ledger *store.Store, mon *monitor.Monitor) *Controller {
	if resolver == nil {
		resolver = response.New(nil)
	}
	return &Controller{engine: e, registry: reg, source: src, resolver: resolver, ledger: ledger, monitor: mon}
}

// Train trains projectID and activates the result. Every outcome, including
// rejection because another run is active, is reported to sink.
func (c *Controller) Train(ctx context.Context, projectID string, sink ProgressSink) error {
	if err := c.registry.TryBeginTraining(projectID); err != nil {
		sink.Failed(err)
		return err
	}
	defer c.registry.EndTraining()

	runID := ""
	fail := func(err error) error {
		log.Printf("Training of project %s failed: %v", projectID, err)
		c.recordStatus(runID, constants.RunStatusFailed, err)
		sink.Failed(err)
		return err
	}

	modality, inputs, err := c.source.Project(ctx, projectID)
	if err != nil {
		return fail(err)
	}
	if c.ledger != nil {
		run, err := runs.StartRun(c.ledger, projectID, modality)
		if err != nil {
			log.Printf("Failed to record training run for %s: %v", projectID, err)
		} else {
			runID = run.ID
		}
	}

	if c.monitor != nil {
		if err := c.monitor.CheckTrainingHeadroom(ctx); err != nil {
			return fail(err)
		}
	}
	if err := engine.ValidateInputs(modality, inputs); err != nil {
		return fail(err)
	}

	log.Printf("Training %s project %s (%d inputs)", modality, projectID, len(inputs))
	c.recordStatus(runID, constants.RunStatusTraining, nil)
	started := time.Now()
	inst, err := c.engine.Train(ctx, modality, inputs, func(pct float64) {
		sink.Training(int(math.Round(pct)))
	})
	if err != nil {
		return fail(err)
	}

	sink.Saving()
	c.recordStatus(runID, constants.RunStatusSaving, nil)
	dir := c.source.OutputDir(projectID)
	if err := c.engine.Save(inst, dir); err != nil {
		return fail(fmt.Errorf("save model: %w", err))
	}
	c.registry.Adopt(projectID, dir, inst)
	c.recordStatus(runID, constants.RunStatusCompleted, nil)

	log.Printf("Project %s trained in %s, model saved to %s", projectID, time.Since(started).Round(time.Millisecond), dir)
	sink.Completed()
	return nil
}

func (c *Controller) recordStatus(runID string, status constants.RunStatus, runErr error) {
	if c.ledger == nil || runID == "" {
		return
	}
	if err := runs.UpdateRunStatus(c.ledger, runID, status, runErr); err != nil {
		log.Printf("Failed to update run %s to %s: %v", runID, status, err)
	}
}

// Load activates the saved model of projectID. found is false when the
// project has never been trained.
func (c *Controller) Load(ctx context.Context, projectID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateProjectID(projectID); err != nil {
		return false, err
	}
	return c.engine.Load(c.registry, projectID, c.source.OutputDir(projectID))
}

// Activate makes projectID the active model unless it already is.
func (c *Controller) Activate(ctx context.Context, projectID string) error {
	if active, ok := c.registry.Current(); ok && active.ProjectID == projectID {
		return nil
	}
	found, err := c.Load(ctx, projectID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrModelNotFound, projectID)
	}
	return nil
}

// Result is a prediction together with its delivered content.
type Result struct {
	model.Prediction
	ProjectID string `json:"project_id"`
	Content   any    `json:"content,omitempty"`
}

// Predict classifies input with the active model. For image models input
// must be the name of a file in the active project's uploads; paths are
// rejected with ErrInvalidUpload. When resolve is set the response is
// resolved (random choice, transform) into Content.
func (c *Controller) Predict(ctx context.Context, input string, resolve bool) (Result, error) {
	active, ok := c.registry.Current()
	if !ok {
		return Result{}, engine.ErrNoModelLoaded
	}
	if active.Instance.Modality == constants.ModalityImage {
		if err := ValidateUploadName(input); err != nil {
			return Result{}, err
		}
		path, err := c.source.ResolveUpload(active.ProjectID, input)
		if err != nil {
			return Result{}, err
		}
		input = path
	}

	p, err := c.engine.PredictInstance(ctx, active.Instance, input)
	if err != nil {
		return Result{}, err
	}
	res := Result{Prediction: p, ProjectID: active.ProjectID}
	if resolve {
		if res.Content, err = c.resolver.Resolve(p.Response); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// Status summarizes the server for status endpoints.
type Status struct {
	Provider       constants.ProviderState `json:"provider"`
	ProviderError  string                  `json:"provider_error,omitempty"`
	ActiveProject  string                  `json:"active_project,omitempty"`
	ActiveModality constants.Modality      `json:"active_modality,omitempty"`
	LoadedAt       *time.Time              `json:"loaded_at,omitempty"`
	TrainedAt      *time.Time              `json:"trained_at,omitempty"`
	Training       string                  `json:"training,omitempty"`
	Resources      *monitor.Snapshot       `json:"resources,omitempty"`
}

// Status reports provider readiness, the active model and host resources.
func (c *Controller) Status(ctx context.Context) Status {
	var st Status
	state, err := c.engine.Provider().State()
	st.Provider = state
	if err != nil {
		st.ProviderError = err.Error()
	}
	if active, ok := c.registry.Current(); ok {
		st.ActiveProject = active.ProjectID
		st.ActiveModality = active.Instance.Modality
		loaded := active.LoadedAt
		st.LoadedAt = &loaded
		if c.ledger != nil {
			if run, found, err := runs.LastCompletedRun(c.ledger, active.ProjectID); err == nil && found {
				st.TrainedAt = run.CompletedAt
			}
		}
	}
	if project, busy := c.registry.Training(); busy {
		st.Training = project
	}
	if c.monitor != nil {
		if snap, err := c.monitor.Snapshot(ctx); err == nil {
			st.Resources = &snap
		}
	}
	return st
}

// ProviderReady reports whether text models can be used.
func (c *Controller) ProviderReady() bool {
	_, err := c.engine.Provider().Provider()
	return err == nil
}
