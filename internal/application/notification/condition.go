package notification

import (
	"errors"
	"strings"

	"github.com/Knetic/govaluate"
)

// condition is a compiled rule expression. A nil expression is a constant.
type condition struct {
	expr     *govaluate.EvaluableExpression
	constant bool
}

// compileCondition parses a condition expression. Empty condition is true.
// Supports "true"/"false" literals.
func compileCondition(raw string) (*condition, error) {
	cond := strings.TrimSpace(raw)
	if cond == "" {
		return &condition{constant: true}, nil
	}
	switch strings.ToLower(cond) {
	case "true":
		return &condition{constant: true}, nil
	case "false":
		return &condition{constant: false}, nil
	}
	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return nil, err
	}
	return &condition{expr: expr}, nil
}

func (c *condition) evaluate(params map[string]interface{}) (bool, error) {
	if c.expr == nil {
		return c.constant, nil
	}
	result, err := c.expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("condition did not evaluate to boolean")
	}
}
