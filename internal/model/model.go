package model

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/kennethnrk/echo/internal/common/constants"
)

// Input is one user-defined intent: its example patterns and the response to
// surface when it is predicted. The position of an Input in the slice passed to
// training is its intent label.
type Input struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"`
	Response Response `json:"response"`
}

// Response is the authored response definition. Only the payload for Type is
// used once the model is trained.
type Response struct {
	Type    constants.ResponseType `json:"type"`
	Content ResponseContent        `json:"content"`
	Script  Script                 `json:"script"`
}

// ResponseContent keeps a payload per response type so the editor can switch
// types without losing data.
type ResponseContent struct {
	Static string   `json:"static"`
	Random []string `json:"random"`
	JSON   string   `json:"json"`
}

// Script is an optional transform applied to the resolved content.
type Script struct {
	Enabled bool   `json:"enabled"`
	Content string `json:"content"`
}

// ResolvedResponse is a Response reduced to its active payload, as stored in
// the response table of a trained model.
type ResolvedResponse struct {
	Type    constants.ResponseType `json:"type"`
	Content json.RawMessage        `json:"content"`
	Script  *string                `json:"script"`
}

// Intent identifies the Input behind a label.
type Intent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Output is the framework-independent metadata persisted next to a network.
// Responses and Intents are index-aligned with the network's output units.
type Output struct {
	Modality  constants.Modality `json:"type"`
	Responses []ResolvedResponse `json:"responses"`
	Intents   []Intent           `json:"intents,omitempty"`
}

// Prediction is the outcome of classifying a single input.
type Prediction struct {
	Index      int              `json:"index"`
	IntentID   string           `json:"intent_id,omitempty"`
	Confidence float64          `json:"confidence"`
	Response   ResolvedResponse `json:"response"`
}

// Reduce collapses a Response to the payload of its active type. A disabled or
// empty script is dropped.
func (r Response) Reduce() (ResolvedResponse, error) {
	var payload any
	switch r.Type {
	case constants.ResponseTypeRandom:
		choices := r.Content.Random
		if choices == nil {
			choices = []string{}
		}
		payload = choices
	case constants.ResponseTypeJSON:
		payload = r.Content.JSON
	default:
		payload = r.Content.Static
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return ResolvedResponse{}, err
	}

	resolved := ResolvedResponse{Type: r.Type, Content: raw}
	if resolved.Type == "" {
		resolved.Type = constants.ResponseTypeStatic
	}
	if r.Script.Enabled && strings.TrimSpace(r.Script.Content) != "" {
		script := r.Script.Content
		resolved.Script = &script
	}
	return resolved, nil
}

// AssignIntentIDs gives every Input without an ID a fresh UUID, so the
// label mapping can be persisted with the model.
func AssignIntentIDs(inputs []Input) {
	for i := range inputs {
		if inputs[i].ID == "" {
			inputs[i].ID = uuid.New().String()
		}
	}
}

// BuildOutput reduces the responses of inputs and records their intents, in order.
func BuildOutput(modality constants.Modality, inputs []Input) (Output, error) {
	out := Output{
		Modality:  modality,
		Responses: make([]ResolvedResponse, len(inputs)),
		Intents:   make([]Intent, len(inputs)),
	}
	for i, in := range inputs {
		resolved, err := in.Response.Reduce()
		if err != nil {
			return Output{}, err
		}
		out.Responses[i] = resolved
		out.Intents[i] = Intent{ID: in.ID, Name: in.Name}
	}
	return out, nil
}
