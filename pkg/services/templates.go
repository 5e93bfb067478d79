package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/closewise/closewise/pkg/models"
	"github.com/closewise/closewise/pkg/persistence"
)

const workflowTemplateSchema = `{
	"type": "object",
	"required": ["name", "type", "steps"],
	"properties": {
		"name": {"type": "string", "minLength": 3},
		"description": {"type": "string"},
		"type": {"type": "string", "enum": ["purchase", "sale"]},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["step_order", "name"],
				"properties": {
					"step_order": {"type": "integer", "minimum": 1},
					"name": {"type": "string", "minLength": 1},
					"conditions": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["label_en", "level"],
							"properties": {
								"label_en": {"type": "string", "minLength": 1},
								"label_fr": {"type": "string"},
								"level": {"type": "string", "enum": ["blocking", "required", "recommended"]}
							}
						}
					},
					"automations": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["trigger", "type"],
							"properties": {
								"trigger": {"type": "string", "enum": ["on_enter", "on_exit"]},
								"type": {"type": "string", "minLength": 1},
								"config": {"type": "object"}
							}
						}
					}
				}
			}
		}
	}
}`

const conditionTemplatePackSchema = `{
	"type": "object",
	"required": ["templates"],
	"properties": {
		"templates": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["label_en", "level", "source_type"],
				"properties": {
					"label_en": {"type": "string", "minLength": 1},
					"label_fr": {"type": "string"},
					"level": {"type": "string", "enum": ["blocking", "required", "recommended"]},
					"source_type": {"type": "string", "enum": ["legal", "government", "industry", "best_practice"]},
					"applies_when": {"type": "object"},
					"step_order": {"type": "integer", "minimum": 1},
					"deadline_ref": {"type": "string", "enum": ["acceptance", "closing", "step_entry"]},
					"deadline_offset_days": {"type": "integer"},
					"active": {"type": "boolean"},
					"default": {"type": "boolean"}
				}
			}
		}
	}
}`

// Templates imports workflow and condition templates from JSON documents.
// Documents are checked against a JSON schema first so malformed payloads
// fail with field-level messages instead of partial writes.
type Templates struct {
	repo     persistence.Repository
	validate *validator.Validate
}

func NewTemplates(repo persistence.Repository, validate *validator.Validate) *Templates {
	return &Templates{
		repo:     repo,
		validate: validate,
	}
}

// ImportWorkflowTemplate validates and stores one workflow template document.
func (s *Templates) ImportWorkflowTemplate(ctx context.Context, document []byte) (*models.WorkflowTemplate, error) {
	err := validateDocument(workflowTemplateSchema, document)
	if err != nil {
		return nil, err
	}

	var template models.WorkflowTemplate

	err = json.Unmarshal(document, &template)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplateDocument, err)
	}

	err = s.validate.Struct(&template)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplateDocument, err)
	}

	err = s.repo.SaveWorkflowTemplate(ctx, &template)
	if err != nil {
		return nil, err
	}

	return &template, nil
}

// conditionTemplatePack is the import document shape for a named bundle of
// condition templates.
type conditionTemplatePack struct {
	Templates []*models.ConditionTemplate `json:"templates"`
}

// ImportConditionTemplates validates and stores a pack of condition
// templates. All templates in the pack are stored in one unit of work.
func (s *Templates) ImportConditionTemplates(ctx context.Context, document []byte) ([]*models.ConditionTemplate, error) {
	err := validateDocument(conditionTemplatePackSchema, document)
	if err != nil {
		return nil, err
	}

	var pack conditionTemplatePack

	err = json.Unmarshal(document, &pack)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplateDocument, err)
	}

	for _, template := range pack.Templates {
		err = s.validate.Struct(template)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTemplateDocument, err)
		}
	}

	err = s.repo.Transactional(ctx, func(ctx context.Context, repo persistence.Repository) error {
		for _, template := range pack.Templates {
			err := repo.SaveConditionTemplate(ctx, template)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return pack.Templates, nil
}

func validateDocument(schema string, document []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTemplateDocument, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			messages = append(messages, resultError.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidTemplateDocument, strings.Join(messages, "; "))
	}

	return nil
}
