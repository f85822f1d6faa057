// Package response turns the stored response of a predicted intent into the
// content shown to the user: random responses pick one entry, and an optional
// transform expression rewrites the result.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/model"
)

// ErrTransform wraps compile and runtime failures of transform expressions.
var ErrTransform = errors.New("response transform failed")

// env is the only data visible to a transform expression.
type env struct {
	Content any `expr:"content"`
}

// Resolver is safe for concurrent use. Compiled transforms are cached by source.
type Resolver struct {
	mu  sync.Mutex
	rng *rand.Rand

	cacheMu  sync.RWMutex
	programs map[string]*vm.Program
}

// New returns a resolver. A nil rng is replaced by a randomly seeded one.
func New(rng *rand.Rand) *Resolver {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Resolver{rng: rng, programs: make(map[string]*vm.Program)}
}

// Resolve produces the deliverable content of resp.
func (r *Resolver) Resolve(resp model.ResolvedResponse) (any, error) {
	var content any
	switch resp.Type {
	case constants.ResponseTypeRandom:
		var choices []string
		if err := unmarshalContent(resp.Content, &choices); err != nil {
			return nil, fmt.Errorf("random response: %w", err)
		}
		content = r.choose(choices)
	default:
		var s string
		if err := unmarshalContent(resp.Content, &s); err != nil {
			return nil, fmt.Errorf("%s response: %w", resp.Type, err)
		}
		content = s
	}

	if resp.Script == nil {
		return content, nil
	}
	return r.Transform(*resp.Script, content)
}

func unmarshalContent(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func (r *Resolver) choose(choices []string) string {
	if len(choices) == 0 {
		return ""
	}
	r.mu.Lock()
	i := r.rng.IntN(len(choices))
	r.mu.Unlock()
	return choices[i]
}

// Transform evaluates script with content bound to the name "content" and
// returns its result.
func (r *Resolver) Transform(script string, content any) (any, error) {
	program, err := r.compile(script)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, env{Content: content})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransform, err)
	}
	return out, nil
}

func (r *Resolver) compile(script string) (*vm.Program, error) {
	r.cacheMu.RLock()
	program, ok := r.programs[script]
	r.cacheMu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(script, expr.Env(env{}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransform, err)
	}
	r.cacheMu.Lock()
	r.programs[script] = program
	r.cacheMu.Unlock()
	return program, nil
}
