// Package condition implements the EdgeConditionDefinition evaluator and the
// fan-in group materialiser (spec §4.3 step 4, §4.7 step 5, §9): a pure
// evaluator over an environment map, in the shape of the teacher's
// operators.ParameterValidator (a converter plus a rules-application pass
// over a params map, pkg/operators/validator.go), generalised from
// "validate a parameter value" to "evaluate a clause/all/any tree".
package condition

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/renku/pipeline-engine/pkg/blueprint"
	"github.com/renku/pipeline-engine/pkg/errs"
)

// Evaluate walks a Condition tree (clause | all | any) against env and
// reports whether it is satisfied. env is keyed by canonical id (and, per
// spec §4.7 step 3, by prefix- and index-stripped aliases of those ids) so a
// clause's dotted "when" path can resolve against either form.
func Evaluate(cond *blueprint.Condition, env map[string]interface{}) (bool, error) {
	if cond == nil {
		return true, nil
	}

	switch {
	case cond.IsClause():
		value, found := resolvePath(cond.When, env)
		if !found {
			return false, nil
		}
		return compareValue(value, cond.Is)
	case len(cond.All) > 0:
		for _, c := range cond.All {
			ok, err := Evaluate(&c, env)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case len(cond.Any) > 0:
		for _, c := range cond.Any {
			ok, err := Evaluate(&c, env)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, errs.New(errs.CategoryValidation, errs.BlueprintValidationFailed, "condition node has neither a clause nor an all/any group")
	}
}

// resolvePath finds the longest dotted prefix of path present as a key in
// env, then navigates the remaining suffix segments through nested
// map[string]interface{} values (spec §9: "paths resolve against
// resolvedInputs with prefix and index fallbacks").
func resolvePath(path string, env map[string]interface{}) (interface{}, bool) {
	segments := strings.Split(path, ".")
	for length := len(segments); length >= 1; length-- {
		key := strings.Join(segments[:length], ".")
		if v, ok := env[key]; ok {
			return navigate(v, segments[length:])
		}
	}
	return nil, false
}

func navigate(v interface{}, segments []string) (interface{}, bool) {
	cur := v
	for _, seg := range segments {
		idx, isIndex := arrayIndex(seg)
		switch m := cur.(type) {
		case map[string]interface{}:
			next, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			if !isIndex || idx < 0 || idx >= len(m) {
				return nil, false
			}
			cur = m[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func arrayIndex(seg string) (int, bool) {
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

// compareValue compares a resolved value against an EdgeConditionDefinition
// clause's right-hand side: a direct equality literal (Op == "") or a
// {op, value} comparison.
func compareValue(value interface{}, want *blueprint.ConditionValue) (bool, error) {
	if want == nil {
		return false, errs.New(errs.CategoryValidation, errs.BlueprintValidationFailed, "clause has no comparison value")
	}

	op := want.Op
	if op == "" {
		op = "eq"
	}

	switch op {
	case "eq":
		return reflect.DeepEqual(value, want.Value) || numericEqual(value, want.Value), nil
	case "ne":
		eq := reflect.DeepEqual(value, want.Value) || numericEqual(value, want.Value)
		return !eq, nil
	case "gt", "gte", "lt", "lte":
		a, aOk := toFloat64(value)
		b, bOk := toFloat64(want.Value)
		if !aOk || !bOk {
			return false, errs.New(errs.CategoryValidation, errs.BlueprintValidationFailed, "operator %q requires numeric operands, got %v and %v", op, value, want.Value)
		}
		switch op {
		case "gt":
			return a > b, nil
		case "gte":
			return a >= b, nil
		case "lt":
			return a < b, nil
		default:
			return a <= b, nil
		}
	case "in":
		items, ok := want.Value.([]interface{})
		if !ok {
			return false, errs.New(errs.CategoryValidation, errs.BlueprintValidationFailed, "operator \"in\" requires an array right-hand side")
		}
		for _, item := range items {
			if reflect.DeepEqual(value, item) || numericEqual(value, item) {
				return true, nil
			}
		}
		return false, nil
	case "contains":
		s, ok := value.(string)
		if !ok {
			return false, errs.New(errs.CategoryValidation, errs.BlueprintValidationFailed, "operator \"contains\" requires a string value")
		}
		sub, ok := want.Value.(string)
		if !ok {
			return false, errs.New(errs.CategoryValidation, errs.BlueprintValidationFailed, "operator \"contains\" requires a string right-hand side")
		}
		return strings.Contains(s, sub), nil
	default:
		return false, errs.New(errs.CategoryValidation, errs.BlueprintValidationFailed, "unknown condition operator %q", op)
	}
}

func numericEqual(a, b interface{}) bool {
	af, aOk := toFloat64(a)
	bf, bOk := toFloat64(b)
	return aOk && bOk && af == bf
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// String renders a Condition tree for diagnostics.
func String(cond *blueprint.Condition) string {
	if cond == nil {
		return "<none>"
	}
	switch {
	case cond.IsClause():
		return fmt.Sprintf("%s is %v", cond.When, cond.Is.Value)
	case len(cond.All) > 0:
		return "all(...)"
	case len(cond.Any) > 0:
		return "any(...)"
	default:
		return "<empty>"
	}
}
