package condition

import (
	"fmt"
	"strings"
)

// EvalContext resolves fact paths during evaluation.
type EvalContext interface {
	Resolve(path []string) (interface{}, bool)
}

// Evaluate walks the AST and returns true/false or an error.
func Evaluate(expr Expr, ctx EvalContext) (bool, error) {
	switch e := expr.(type) {
	case *BinaryExpr:
		return evalBinary(e, ctx)
	case *NotExpr:
		v, err := Evaluate(e.Expr, ctx)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *ComparisonExpr:
		left, err := resolveOperand(e.Left, ctx)
		if err != nil {
			return false, err
		}
		right, err := resolveOperand(e.Right, ctx)
		if err != nil {
			return false, err
		}
		return compare(e.Op, left, right)
	default:
		return false, fmt.Errorf("unknown expr type %T", expr)
	}
}

func evalBinary(e *BinaryExpr, ctx EvalContext) (bool, error) {
	left, err := Evaluate(e.Left, ctx)
	if err != nil {
		return false, err
	}
	switch e.Op {
	case "AND":
		if !left {
			return false, nil
		}
		return Evaluate(e.Right, ctx)
	case "OR":
		if left {
			return true, nil
		}
		return Evaluate(e.Right, ctx)
	default:
		return false, fmt.Errorf("unknown binary op %q", e.Op)
	}
}

func resolveOperand(op Operand, ctx EvalContext) (interface{}, error) {
	switch o := op.(type) {
	case *LiteralOperand:
		return o.Value, nil
	case *FieldOperand:
		val, ok := ctx.Resolve(o.Path)
		if !ok {
			return nil, fmt.Errorf("field %q not found", strings.Join(o.Path, "."))
		}
		return val, nil
	case *ArithmeticOperand:
		left, err := resolveOperand(o.Left, ctx)
		if err != nil {
			return nil, err
		}
		right, err := resolveOperand(o.Right, ctx)
		if err != nil {
			return nil, err
		}
		return arithmetic(o.Op, left, right)
	default:
		return nil, fmt.Errorf("unknown operand type %T", op)
	}
}
