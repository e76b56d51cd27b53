package condition

import (
	"fmt"
	"math"
)

// Operator represents a comparison operator.
type Operator string

const (
	OpEq  Operator = "=="
	OpNeq Operator = "!="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

// epsilon absorbs float noise in equality and modulo checks.
const epsilon = 1e-9

// toFloat64 coerces a numeric fact to float64.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compare applies a comparison operator to two resolved values.
func compare(op Operator, left, right interface{}) (bool, error) {
	switch op {
	case OpEq:
		return equal(left, right), nil
	case OpNeq:
		return !equal(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		return numericCompare(op, left, right)
	default:
		return false, fmt.Errorf("unknown operator: %s", op)
	}
}

// equal compares numbers by value, bools and strings exactly.
func equal(left, right interface{}) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < epsilon
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	return lok && rok && ls == rs
}

func numericCompare(op Operator, left, right interface{}) (bool, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case OpGt:
		return lf > rf, nil
	case OpGte:
		return lf >= rf, nil
	case OpLt:
		return lf < rf, nil
	case OpLte:
		return lf <= rf, nil
	}
	return false, nil
}

func arithmetic(op byte, left, right interface{}) (float64, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return 0, fmt.Errorf("operator %c requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case '+':
		return lf + rf, nil
	case '-':
		return lf - rf, nil
	case '*':
		return lf * rf, nil
	case '/':
		if rf == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case '%':
		if rf == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		m := math.Mod(lf, rf)
		if math.Abs(m) < epsilon || math.Abs(math.Abs(m)-math.Abs(rf)) < epsilon {
			return 0, nil
		}
		return m, nil
	default:
		return 0, fmt.Errorf("unknown arithmetic operator %q", op)
	}
}
