// internal/services/escalation/models.go
package escalation

import (
	"time"

	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/models"
)

type CreateAuditInput struct {
	AgencyID  string    `json:"agencyId"`
	AuditDate time.Time `json:"auditDate"`
	Remarks   string    `json:"remarks,omitempty"`
}

type AddObservationInput struct {
	AuditID           string          `json:"auditId"`
	ObservationNumber string          `json:"observationNumber"`
	Severity          models.Severity `json:"severity"`
	Category          string          `json:"category,omitempty"`
	Description       string          `json:"description"`
	EvidenceRequired  bool            `json:"evidenceRequired"`
}

type ScorecardInput struct {
	Scores       map[string]float64 `json:"scores"`
	OverallScore float64            `json:"overallScore"`
	Grade        string             `json:"grade,omitempty"`
	Remarks      string             `json:"remarks,omitempty"`
}

type IssueNoticeInput struct {
	// AgencyID is optional; when set every observation must belong to it.
	AgencyID        string    `json:"agencyId,omitempty"`
	ObservationIDs  []string  `json:"observationIds"`
	Subject         string    `json:"subject"`
	Details         string    `json:"details"`
	ResponseDueDate time.Time `json:"responseDueDate"`
}

type BulkTarget struct {
	AgencyID       string   `json:"agencyId"`
	ObservationIDs []string `json:"observationIds"`
}

type BulkIssueInput struct {
	Subject         string       `json:"subject"`
	Details         string       `json:"details"`
	ResponseDueDate time.Time    `json:"responseDueDate"`
	Targets         []BulkTarget `json:"targets"`
}

// TargetFailure is the error of one bulk target.
type TargetFailure struct {
	AgencyID string           `json:"agencyId"`
	Kind     apperr.Kind      `json:"kind"`
	Code     apperr.ErrorCode `json:"code"`
	Message  string           `json:"message"`
	Err      error            `json:"-"`
}

// BulkIssueResult carries the notices that were issued and the targets that
// failed. A failure never aborts the other targets.
type BulkIssueResult struct {
	Issued   []*models.ShowCauseNotice `json:"issued"`
	Failures []TargetFailure           `json:"failures,omitempty"`
}

type RespondInput struct {
	ObservationID string `json:"observationId"`
	Accepted      bool   `json:"accepted"`
	Justification string `json:"justification,omitempty"`
	EvidencePath  string `json:"evidencePath,omitempty"`
}

type AssignPenaltyInput struct {
	ObservationID  string  `json:"observationId"`
	Amount         float64 `json:"amount"`
	Reason         string  `json:"reason"`
	DeductionMonth string  `json:"deductionMonth"` // YYYY-MM
}

// Deep links used in notifications.
func noticeLink(id string) string      { return "/notices/" + id }
func observationLink(id string) string { return "/observations/" + id }
func penaltyLink(id string) string     { return "/penalties/" + id }
