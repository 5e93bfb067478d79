package conditions

import "github.com/closewise/closewise/pkg/models"

// Matches reports whether a template's applies_when predicate holds against a
// profile's flattened facts. Every declared key must be present and equal; a
// template with no declared keys matches universally.
func Matches(template *models.ConditionTemplate, facts map[string]any) bool {
	for key, want := range template.AppliesWhen {
		got, ok := facts[key]
		if !ok || got != want {
			return false
		}
	}

	return true
}

// ApplicableTemplates filters active templates down to those whose predicate
// matches the given facts, optionally scoped to one step order. A nil
// stepOrder returns matches for every step.
func ApplicableTemplates(templates []*models.ConditionTemplate, facts map[string]any, stepOrder *int) []*models.ConditionTemplate {
	matched := make([]*models.ConditionTemplate, 0, len(templates))

	for _, template := range templates {
		if !template.Active {
			continue
		}

		if stepOrder != nil {
			if template.StepOrder == nil || *template.StepOrder != *stepOrder {
				continue
			}
		}

		if Matches(template, facts) {
			matched = append(matched, template)
		}
	}

	return matched
}
