// internal/services/forms/models.go
package forms

import "compliance-workflow/internal/models"

type SaveInput struct {
	FormType models.FormType        `json:"formType"`
	FormID   string                 `json:"formId,omitempty"`
	Period   string                 `json:"period"` // YYYY-MM, required on create
	Payload  map[string]interface{} `json:"payload"`
	// TargetStatus is DRAFT for a save and SUBMITTED for a submit.
	TargetStatus models.FormStatus `json:"targetStatus"`
}

type SaveOutput struct {
	FormID           string            `json:"formId"`
	Status           models.FormStatus `json:"status"`
	Resubmitted      bool              `json:"resubmitted"`
	ConsumedRequests []string          `json:"consumedRequests,omitempty"`
}

// PeriodLayout is the time layout of a form period.
const PeriodLayout = "2006-01"

// Link returns the deep link of a form.
func Link(formType models.FormType, formID string) string {
	return "/forms/" + string(formType) + "/" + formID
}
