package expressions

import "context"

// Engine evaluates deterministic expressions against run data, used for
// blocking-reason predicates and step applicability rules.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
