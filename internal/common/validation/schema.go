// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"
	"sync"

	apperrors "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// basePayloadSchema applies to every form type: the payload must be a
// non-empty JSON object.
const basePayloadSchema = `{
	"type": "object",
	"minProperties": 1
}`

// Violation is one schema failure.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PayloadValidator checks form payloads against the base schema and an
// optional schema registered per form type.
type PayloadValidator struct {
	mu      sync.RWMutex
	base    *gojsonschema.Schema
	perType map[models.FormType]*gojsonschema.Schema
}

func NewPayloadValidator() (*PayloadValidator, error) {
	base, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(basePayloadSchema))
	if err != nil {
		return nil, fmt.Errorf("compile base schema: %w", err)
	}
	return &PayloadValidator{
		base:    base,
		perType: make(map[models.FormType]*gojsonschema.Schema),
	}, nil
}

// RegisterSchema compiles schemaJSON and binds it to formType, replacing any
// earlier registration.
func (v *PayloadValidator) RegisterSchema(formType models.FormType, schemaJSON string) error {
	if !formType.Valid() {
		return fmt.Errorf("unknown form type %q", formType)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", formType, err)
	}

	v.mu.Lock()
	v.perType[formType] = schema
	v.mu.Unlock()
	return nil
}

// Validate returns a Validation error listing every violation, or nil.
func (v *PayloadValidator) Validate(formType models.FormType, payload map[string]interface{}) error {
	doc := gojsonschema.NewGoLoader(payload)

	violations, err := check(v.base, doc)
	if err != nil {
		return apperrors.NewValidationError("payload", fmt.Sprintf("payload is not valid JSON: %v", err))
	}

	v.mu.RLock()
	typed, ok := v.perType[formType]
	v.mu.RUnlock()
	if ok && len(violations) == 0 {
		violations, err = check(typed, doc)
		if err != nil {
			return apperrors.NewValidationError("payload", fmt.Sprintf("payload is not valid JSON: %v", err))
		}
	}

	if len(violations) == 0 {
		return nil
	}

	msgs := make([]string, len(violations))
	for i, vi := range violations {
		msgs[i] = vi.Field + ": " + vi.Message
	}
	return apperrors.NewValidationError("payload", "Payload failed validation: "+strings.Join(msgs, "; ")).
		WithMetadata("violations", violations)
}

func check(schema *gojsonschema.Schema, doc gojsonschema.JSONLoader) ([]Violation, error) {
	result, err := schema.Validate(doc)
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	out := make([]Violation, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		out = append(out, Violation{Field: desc.Field(), Message: desc.Description()})
	}
	return out, nil
}
