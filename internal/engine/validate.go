package engine

import (
	"fmt"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/model"
)

// ValidateInputs checks that a project can be trained: a known modality and
// at least two inputs that carry a pattern.
func ValidateInputs(modality constants.Modality, inputs []model.Input) error {
	if _, ok := constants.ParseModality(string(modality)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModality, modality)
	}
	withPatterns := 0
	for _, in := range inputs {
		if len(in.Patterns) > 0 {
			withPatterns++
		}
	}
	if withPatterns < 2 {
		return fmt.Errorf("%w: %d of %d inputs have patterns", ErrTooFewIntents, withPatterns, len(inputs))
	}
	return nil
}
