// Package expressions evaluates user-supplied expressions: edge conditions
// that route a run between jobs, and jq filters applied to dataclip reads.
package expressions

import "context"

// Engine evaluates an expression against a data scope.
// Implementations: Expr (default condition logic), CEL (alternate condition
// logic), GoJQ (dataclip transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
