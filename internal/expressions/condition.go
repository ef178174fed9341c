package expressions

import (
	"context"

	"github.com/loomery/loom/pkg/schema"
)

// ConditionEvaluator decides whether an edge fires after its source node
// completes. Static condition types are decided from the exit reason alone;
// js_expression conditions are delegated to the configured engine.
type ConditionEvaluator struct {
	engine Engine
}

// NewConditionEvaluator creates an evaluator backed by the given engine.
// The engine only sees js_expression conditions.
func NewConditionEvaluator(engine Engine) *ConditionEvaluator {
	return &ConditionEvaluator{engine: engine}
}

// ShouldFire reports whether the edge's condition holds given the source
// node's exit reason and the scope built from its output.
//
// A trigger source has no exit reason; callers pass ExitSuccess so that
// always and on_success edges fire and on_failure edges do not.
func (ce *ConditionEvaluator) ShouldFire(ctx context.Context, edge schema.Edge, exit schema.ExitReason, scope *ConditionScope) (bool, error) {
	if !edge.Enabled {
		return false, nil
	}

	switch edge.ConditionType {
	case schema.ConditionAlways:
		return true, nil
	case schema.ConditionOnSuccess:
		return exit == schema.ExitSuccess, nil
	case schema.ConditionOnFailure:
		return exit == schema.ExitFail, nil
	case schema.ConditionJSExpression:
		return ce.evaluateExpression(ctx, edge, scope)
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"edge %q has unknown condition type %q", edge.ID, edge.ConditionType)
	}
}

func (ce *ConditionEvaluator) evaluateExpression(ctx context.Context, edge schema.Edge, scope *ConditionScope) (bool, error) {
	if edge.ConditionExpression == "" {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"edge %q has condition type js_expression but no expression", edge.ID)
	}

	if scope == nil {
		scope = NewConditionScope(nil)
	}

	out, err := ce.engine.Evaluate(ctx, edge.ConditionExpression, scope.Map())
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"edge %q condition failed: %s", edge.ID, err.Error()).WithCause(err)
	}

	return truthy(out), nil
}

// truthy applies loose boolean coercion to a condition result: false, nil,
// zero numbers, and empty strings do not fire the edge; everything else does.
func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	default:
		return true
	}
}
