package validation

import (
	"testing"

	apperrors "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const visitsSchema = `{
	"type": "object",
	"required": ["visits"],
	"properties": {
		"visits": {"type": "integer", "minimum": 0}
	}
}`

func newValidator(t *testing.T) *PayloadValidator {
	t.Helper()
	v, err := NewPayloadValidator()
	require.NoError(t, err)
	return v
}

func TestValidate_BaseSchema(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name    string
		payload map[string]interface{}
		wantErr bool
	}{
		{"nil payload", nil, true},
		{"empty object", map[string]interface{}{}, true},
		{"any fields", map[string]interface{}{"remarks": "ok"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(models.FormTypeMonthlyCompliance, tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidate_RegisteredSchema(t *testing.T) {
	v := newValidator(t)
	require.NoError(t, v.RegisterSchema(models.FormTypeAgencyVisits, visitsSchema))

	assert.NoError(t, v.Validate(models.FormTypeAgencyVisits, map[string]interface{}{"visits": 4}))

	err := v.Validate(models.FormTypeAgencyVisits, map[string]interface{}{"visits": -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "visits")

	err = v.Validate(models.FormTypeAgencyVisits, map[string]interface{}{"other": 1})
	require.Error(t, err)

	// other types are unaffected
	assert.NoError(t, v.Validate(models.FormTypePaymentRegister, map[string]interface{}{"other": 1}))
}

func TestRegisterSchema_Rejects(t *testing.T) {
	v := newValidator(t)
	assert.Error(t, v.RegisterSchema(models.FormType("unknown_form"), visitsSchema))
	assert.Error(t, v.RegisterSchema(models.FormTypeAgencyVisits, `{"type": 12}`))
}
