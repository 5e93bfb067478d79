package models

import "time"

// AutomationTrigger says when a step automation fires.
type AutomationTrigger string

const (
	AutomationOnEnter AutomationTrigger = "on_enter"
	AutomationOnExit  AutomationTrigger = "on_exit"
)

// WorkflowTemplate is the immutable blueprint a transaction is instantiated
// from. Steps are copied into transaction_steps at creation time; later edits
// to a template never affect in-flight transactions.
type WorkflowTemplate struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Type        TransactionType `json:"type"        validate:"required,oneof=purchase sale"`
	Steps       []*WorkflowStep `json:"steps"       validate:"required,min=1,dive"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// WorkflowStep is one ordered step of a template, optionally carrying default
// condition templates and trigger-based automation declarations.
type WorkflowStep struct {
	ID          string                    `json:"id"`
	StepOrder   int                       `json:"step_order" validate:"required,min=1"`
	Name        string                    `json:"name"       validate:"required"`
	Conditions  []*WorkflowStepCondition  `json:"conditions,omitempty"  validate:"dive"`
	Automations []*WorkflowStepAutomation `json:"automations,omitempty" validate:"dive"`
}

// WorkflowStepCondition is a default condition declared on a template step,
// instantiated when the step is entered.
type WorkflowStepCondition struct {
	ID      string         `json:"id"`
	LabelEN string         `json:"label_en" validate:"required"`
	LabelFR string         `json:"label_fr"`
	Level   ConditionLevel `json:"level"    validate:"required,oneof=blocking required recommended"`
}

// WorkflowStepAutomation declares a side-effect automation fired on step
// entry or exit.
type WorkflowStepAutomation struct {
	ID      string            `json:"id"`
	Trigger AutomationTrigger `json:"trigger" validate:"required,oneof=on_enter on_exit"`
	Type    string            `json:"type"    validate:"required"`
	Config  map[string]any    `json:"config,omitempty"`
}

// StepByOrder returns the template step with the given order, or nil.
func (t *WorkflowTemplate) StepByOrder(order int) *WorkflowStep {
	for _, step := range t.Steps {
		if step.StepOrder == order {
			return step
		}
	}

	return nil
}
