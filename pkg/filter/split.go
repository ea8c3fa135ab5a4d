package filter

import (
	"strings"

	"github.com/rowbridge-io/platform/pkg/catalog"
	"github.com/rowbridge-io/platform/pkg/common/models"
)

// Split divides a filter spec into parameters the external source can
// evaluate natively and a reduced spec evaluated locally against the
// fetched records.
//
// Delegation is only sound when a condition is conjunctively required:
// with an OR anywhere above it, pushing it into the remote query would
// narrow the universe and drop records the other branch matches. So
// conditions are delegated only when both the spec and their group use
// AND logic, and only one condition per remote parameter. Everything
// not delegated stays in the local spec and is re-validated in-process.
func Split(spec models.FilterSpec, rules []catalog.RemoteRule) (map[string]string, models.FilterSpec) {
	remote := make(map[string]string)
	local := models.FilterSpec{Logic: spec.Logic}

	conjunctive := len(spec.Groups) == 1 || !strings.EqualFold(spec.Logic, models.LogicOr)

	for _, group := range spec.Groups {
		reduced := models.FilterGroup{Logic: group.Logic}
		groupConjunctive := conjunctive && !strings.EqualFold(group.Logic, models.LogicOr)
		for _, cond := range group.Conditions {
			if !validCondition(cond) {
				continue
			}
			if groupConjunctive {
				if param, ok := remoteParam(rules, cond); ok {
					if _, taken := remote[param]; !taken {
						remote[param] = stringify(cond.Value)
						continue
					}
				}
			}
			reduced.Conditions = append(reduced.Conditions, cond)
		}
		if len(reduced.Conditions) > 0 {
			local.Groups = append(local.Groups, reduced)
		}
	}

	return remote, local
}

func remoteParam(rules []catalog.RemoteRule, cond models.FilterCondition) (string, bool) {
	for _, rule := range rules {
		if rule.Field == cond.Field && rule.Operator == cond.Operator {
			return rule.Param, true
		}
	}
	return "", false
}
