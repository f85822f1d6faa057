package constants

// RunStatus is the lifecycle state of a training run. The values double as
// the wire-level stage names sent to progress listeners.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusTraining  RunStatus = "training"
	RunStatusSaving    RunStatus = "saving"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ProviderState is the readiness of the embedding provider slot.
type ProviderState string

const (
	ProviderStateNotLoaded ProviderState = "not_loaded"
	ProviderStateLoading   ProviderState = "loading"
	ProviderStateReady     ProviderState = "ready"
	ProviderStateFailed    ProviderState = "failed"
)
