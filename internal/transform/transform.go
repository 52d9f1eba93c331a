// Package transform applies user-supplied result transformer functions to
// serialized task results. The function body itself runs in an external
// sandbox engine; this package only owns the contract: the engine must
// return a string-keyed map, and every returned key is normalized to the
// `$` variable-reference prefix before being merged back into the result.
package transform

import (
	"context"
	"fmt"
	"strings"
)

// Function is a transformer definition shipped with a task: a language
// agnostic function body plus its declared dependencies.
type Function struct {
	Definition   string   `json:"definition" yaml:"definition"`
	Requirements []string `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// Engine executes a transformer function against a serialized task result.
// Implementations are external collaborators (a sandboxed evaluator); the
// core never runs user code in-process.
type Engine interface {
	Execute(ctx context.Context, fn Function, result map[string]any) (any, error)
}

// Error reports a transformer contract violation.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "transformer: " + e.Msg }

// Apply runs fn through the engine and enforces the transformer contract.
// The returned map has every key prefixed with `$`.
func Apply(ctx context.Context, engine Engine, result map[string]any, fn Function) (map[string]any, error) {
	if engine == nil {
		return nil, &Error{Msg: "no transformer engine configured"}
	}
	out, err := engine.Execute(ctx, fn, result)
	if err != nil {
		return nil, fmt.Errorf("transformer execute: %w", err)
	}

	mapped, ok := out.(map[string]any)
	if !ok {
		return nil, &Error{Msg: fmt.Sprintf("transformer returned %T, expected a map", out)}
	}

	normalized := make(map[string]any, len(mapped))
	for k, v := range mapped {
		if !strings.HasPrefix(k, "$") {
			k = "$" + k
		}
		normalized[k] = v
	}
	return normalized, nil
}
