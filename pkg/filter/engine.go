package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/common/models"
)

// Condition operators.
const (
	OpIsEmpty        = "is_empty"
	OpIsNotEmpty     = "is_not_empty"
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpGreaterThan    = "greater_than"
	OpLessThan       = "less_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
)

// Evaluate runs the filter spec against one record. Conditions combine
// within a group via the group's logic; groups combine via the spec's
// top-level logic. A group with no valid conditions evaluates true.
func Evaluate(record map[string]interface{}, spec models.FilterSpec) bool {
	if len(spec.Groups) == 0 {
		return true
	}
	results := make([]bool, 0, len(spec.Groups))
	for _, group := range spec.Groups {
		results = append(results, evalGroup(record, group))
	}
	return combine(results, spec.Logic)
}

func evalGroup(record map[string]interface{}, group models.FilterGroup) bool {
	var results []bool
	for _, cond := range group.Conditions {
		if !validCondition(cond) {
			continue
		}
		results = append(results, evalCondition(record, cond))
	}
	if len(results) == 0 {
		return true
	}
	return combine(results, group.Logic)
}

func combine(results []bool, logic string) bool {
	if strings.EqualFold(logic, models.LogicOr) {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	// AND is the default connective
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// validCondition drops incomplete conditions before evaluation.
func validCondition(cond models.FilterCondition) bool {
	return strings.TrimSpace(cond.Field) != "" && strings.TrimSpace(cond.Operator) != ""
}

func evalCondition(record map[string]interface{}, cond models.FilterCondition) bool {
	raw, present := record[cond.Field]
	value := stringify(raw)
	target := stringify(cond.Value)

	switch cond.Operator {
	case OpIsEmpty:
		return !present || value == ""
	case OpIsNotEmpty:
		return present && value != ""
	case OpEquals:
		return looseEquals(value, target)
	case OpNotEquals:
		return !looseEquals(value, target)
	case OpContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(target))
	case OpNotContains:
		return !strings.Contains(strings.ToLower(value), strings.ToLower(target))
	case OpGreaterThan:
		return compareNumeric(value, target, func(a, b float64) bool { return a > b })
	case OpLessThan:
		return compareNumeric(value, target, func(a, b float64) bool { return a < b })
	case OpGreaterOrEqual:
		return compareNumeric(value, target, func(a, b float64) bool { return a >= b })
	case OpLessOrEqual:
		return compareNumeric(value, target, func(a, b float64) bool { return a <= b })
	default:
		// Fail open so filters written against a newer operator set do
		// not silently drop every record on older deployments.
		logger.Log.WithField("operator", cond.Operator).Warn("Unknown filter operator, condition evaluates true")
		return true
	}
}

// looseEquals compares numerically when either side parses as a number,
// otherwise case-insensitively as strings.
func looseEquals(a, b string) bool {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA == nil || errB == nil {
		if errA != nil || errB != nil {
			return false
		}
		return fa == fb
	}
	return strings.EqualFold(a, b)
}

func compareNumeric(a, b string, cmp func(a, b float64) bool) bool {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA != nil || errB != nil {
		return false
	}
	return cmp(fa, fb)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
