// internal/services/approvals/models.go
package approvals

import "compliance-workflow/internal/models"

type EditRequestInput struct {
	FormType     models.FormType `json:"formType"`
	FormID       string          `json:"formId"`
	RequestType  string          `json:"requestType,omitempty"`
	Reason       string          `json:"reason"`
	DocumentPath string          `json:"documentPath,omitempty"`
}

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Link returns the deep link of an approval request.
func Link(requestID string) string {
	return "/approvals/" + requestID
}
