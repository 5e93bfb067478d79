package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/closewise/closewise/pkg/models"
)

func TestMatches(t *testing.T) {
	facts := map[string]any{
		"property_type": "rural",
		"rural":         true,
		"financed":      true,
		"has_well":      true,
		"has_septic":    false,
	}

	tests := []struct {
		name        string
		appliesWhen map[string]any
		want        bool
	}{
		{
			name:        "no declared keys matches universally",
			appliesWhen: nil,
			want:        true,
		},
		{
			name:        "empty predicate matches universally",
			appliesWhen: map[string]any{},
			want:        true,
		},
		{
			name:        "single key exact match",
			appliesWhen: map[string]any{"rural": true},
			want:        true,
		},
		{
			name:        "all declared keys must match",
			appliesWhen: map[string]any{"rural": true, "has_septic": true},
			want:        false,
		},
		{
			name:        "value mismatch",
			appliesWhen: map[string]any{"property_type": "condo"},
			want:        false,
		},
		{
			name:        "undeclared fact key never matches",
			appliesWhen: map[string]any{"waterfront": true},
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			template := &models.ConditionTemplate{AppliesWhen: tt.appliesWhen}

			assert.Equal(t, tt.want, Matches(template, facts))
		})
	}
}

func TestApplicableTemplates(t *testing.T) {
	stepTwo := 2

	templates := []*models.ConditionTemplate{
		{ID: "universal", Active: true},
		{ID: "inactive", Active: false},
		{ID: "well-test", Active: true, AppliesWhen: map[string]any{"has_well": true}},
		{ID: "condo-docs", Active: true, AppliesWhen: map[string]any{"condo_docs": true}},
		{ID: "step-two", Active: true, StepOrder: &stepTwo},
	}

	facts := map[string]any{"has_well": true, "condo_docs": false}

	t.Run("filters inactive and unmatched", func(t *testing.T) {
		matched := ApplicableTemplates(templates, facts, nil)

		ids := make([]string, 0, len(matched))
		for _, template := range matched {
			ids = append(ids, template.ID)
		}

		assert.ElementsMatch(t, []string{"universal", "well-test", "step-two"}, ids)
	})

	t.Run("step scoping keeps only that step order", func(t *testing.T) {
		matched := ApplicableTemplates(templates, facts, &stepTwo)

		assert.Len(t, matched, 1)
		assert.Equal(t, "step-two", matched[0].ID)
	})
}
