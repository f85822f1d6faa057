// Package runs records training runs in the key/value store so their outcome
// survives restarts.
package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/store"
)

const keyPrefix = "run:"

// ErrInterrupted is recorded on runs that were active when the process stopped.
var ErrInterrupted = errors.New("interrupted by restart")

// Run is one training attempt of a project.
type Run struct {
	ID          string              `json:"id"`
	ProjectID   string              `json:"project_id"`
	Modality    constants.Modality  `json:"modality,omitempty"`
	Status      constants.RunStatus `json:"status"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// StartRun stores a new pending run for projectID and returns it.
func StartRun(s *store.Store, projectID string, modality constants.Modality) (Run, error) {
	if projectID == "" {
		return Run{}, errors.New("projectID cannot be empty")
	}
	now := time.Now().UTC()
	run := Run{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Modality:  modality,
		Status:    constants.RunStatusPending,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := putRun(s, run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// UpdateRunStatus moves a run to status. runErr is recorded for failed runs.
func UpdateRunStatus(s *store.Store, runID string, status constants.RunStatus, runErr error) error {
	run, found, err := GetRunByID(s, runID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("run %q not found", runID)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %q is already %s", runID, run.Status)
	}

	now := time.Now().UTC()
	run.Status = status
	run.UpdatedAt = now
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if status.Terminal() {
		run.CompletedAt = &now
	}
	return putRun(s, run)
}

// GetRunByID loads a run. Returns (zero Run, false, nil) if it does not exist.
func GetRunByID(s *store.Store, runID string) (Run, bool, error) {
	if runID == "" {
		return Run{}, false, errors.New("runID cannot be empty")
	}
	raw, ok := s.Get(keyPrefix + runID)
	if !ok {
		return Run{}, false, nil
	}
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return Run{}, false, fmt.Errorf("unmarshal run: %w", err)
	}
	return run, true, nil
}

// ListRuns returns every run, oldest first.
func ListRuns(s *store.Store) ([]Run, error) {
	keys := s.KeysWithPrefix(keyPrefix)
	out := make([]Run, 0, len(keys))
	for _, k := range keys {
		raw, ok := s.Get(k)
		if !ok {
			continue
		}
		var run Run
		if err := json.Unmarshal(raw, &run); err != nil {
			return nil, fmt.Errorf("unmarshal run %s: %w", k, err)
		}
		out = append(out, run)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ListRunsByProject returns the runs of projectID, oldest first.
func ListRunsByProject(s *store.Store, projectID string) ([]Run, error) {
	all, err := ListRuns(s)
	if err != nil {
		return nil, err
	}
	var out []Run
	for _, r := range all {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

// LastCompletedRun returns the most recent successful run of projectID, which
// dates the model currently on disk.
func LastCompletedRun(s *store.Store, projectID string) (Run, bool, error) {
	list, err := ListRunsByProject(s, projectID)
	if err != nil {
		return Run{}, false, err
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Status == constants.RunStatusCompleted {
			return list[i], true, nil
		}
	}
	return Run{}, false, nil
}

// RecoverInterrupted marks every non-terminal run as failed and returns how
// many were changed. It is called once at startup.
func RecoverInterrupted(s *store.Store) (int, error) {
	all, err := ListRuns(s)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range all {
		if r.Status.Terminal() {
			continue
		}
		if err := UpdateRunStatus(s, r.ID, constants.RunStatusFailed, ErrInterrupted); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PruneRuns deletes finished runs beyond the newest keep of each project.
// The latest completed run of a project is never deleted. It returns how many
// runs were removed.
func PruneRuns(s *store.Store, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be positive, got %d", keep)
	}
	all, err := ListRuns(s)
	if err != nil {
		return 0, err
	}

	byProject := make(map[string][]Run)
	for _, r := range all {
		byProject[r.ProjectID] = append(byProject[r.ProjectID], r)
	}

	removed := 0
	for _, list := range byProject {
		latestCompleted := ""
		for _, r := range list {
			if r.Status == constants.RunStatusCompleted {
				latestCompleted = r.ID
			}
		}
		excess := len(list) - keep
		for _, r := range list {
			if excess <= 0 {
				break
			}
			if !r.Status.Terminal() || r.ID == latestCompleted {
				continue
			}
			if err := s.Delete(keyPrefix + r.ID); err != nil {
				return removed, err
			}
			removed++
			excess--
		}
	}
	return removed, nil
}

func putRun(s *store.Store, run Run) error {
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.Put(keyPrefix+run.ID, b)
}
