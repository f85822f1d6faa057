package model

import (
	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/nn"
)

// Instance is a trained network together with the metadata needed to turn
// its output into a Response.
type Instance struct {
	Network  *nn.Sequential
	Output   Output
	Modality constants.Modality
}

// Response returns the resolved response for label idx.
func (i *Instance) Response(idx int) (ResolvedResponse, bool) {
	if idx < 0 || idx >= len(i.Output.Responses) {
		return ResolvedResponse{}, false
	}
	return i.Output.Responses[idx], true
}

// IntentID returns the intent id for label idx, or "" for models saved
// without an intent table.
func (i *Instance) IntentID(idx int) string {
	if idx < 0 || idx >= len(i.Output.Intents) {
		return ""
	}
	return i.Output.Intents[idx].ID
}
