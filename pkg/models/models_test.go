package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCondition_EffectiveLevel(t *testing.T) {
	required := LevelRequired

	tests := []struct {
		name      string
		condition Condition
		want      ConditionLevel
	}{
		{
			name:      "explicit level wins over legacy boolean",
			condition: Condition{Level: &required, IsBlocking: true},
			want:      LevelRequired,
		},
		{
			name:      "nil level with legacy blocking flag",
			condition: Condition{IsBlocking: true},
			want:      LevelBlocking,
		},
		{
			name:      "nil level without legacy flag falls back to recommended",
			condition: Condition{},
			want:      LevelRecommended,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.condition.EffectiveLevel())
		})
	}
}

func TestCondition_Pending(t *testing.T) {
	assert.True(t, (&Condition{Status: ConditionStatusPending}).Pending())
	assert.True(t, (&Condition{Status: ConditionStatusInProgress}).Pending())
	assert.False(t, (&Condition{Status: ConditionStatusCompleted}).Pending())
}

func TestTransactionStep_Terminal(t *testing.T) {
	assert.True(t, (&TransactionStep{Status: StepStatusCompleted}).Terminal())
	assert.True(t, (&TransactionStep{Status: StepStatusSkipped}).Terminal())
	assert.False(t, (&TransactionStep{Status: StepStatusActive}).Terminal())
	assert.False(t, (&TransactionStep{Status: StepStatusPending}).Terminal())
}

func TestTransactionProfile_Facts(t *testing.T) {
	profile := &TransactionProfile{
		PropertyType: "condo",
		Financed:     true,
		CondoDocs:    true,
	}

	facts := profile.Facts()

	assert.Equal(t, "condo", facts["property_type"])
	assert.Equal(t, true, facts["financed"])
	assert.Equal(t, true, facts["condo_docs"])
	assert.Equal(t, false, facts["rural"])
	assert.Len(t, facts, 7)
}

func TestWorkflowTemplate_StepByOrder(t *testing.T) {
	template := &WorkflowTemplate{
		Steps: []*WorkflowStep{
			{ID: "s1", StepOrder: 1, Name: "Offer"},
			{ID: "s2", StepOrder: 2, Name: "Inspection"},
		},
	}

	assert.Equal(t, "s2", template.StepByOrder(2).ID)
	assert.Nil(t, template.StepByOrder(3))
}

func TestOffer_Open(t *testing.T) {
	assert.True(t, (&Offer{Status: OfferStatusReceived}).Open())
	assert.True(t, (&Offer{Status: OfferStatusCountered}).Open())
	assert.False(t, (&Offer{Status: OfferStatusAccepted}).Open())
	assert.False(t, (&Offer{Status: OfferStatusExpired}).Open())
}
