// internal/models/audit.go
package models

import "time"

type AuditStatus string

const (
	AuditStatusInProgress AuditStatus = "IN_PROGRESS"
	AuditStatusCompleted  AuditStatus = "COMPLETED"
)

type Audit struct {
	ID        string      `json:"id"`
	AgencyID  string      `json:"agencyId"`
	FirmID    string      `json:"firmId"`
	AuditorID string      `json:"auditorId"`
	AuditDate time.Time   `json:"auditDate"`
	Status    AuditStatus `json:"status"`
	Remarks   string      `json:"remarks,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Scorecard is the single summary an auditor files when completing an audit.
type Scorecard struct {
	AuditID      string             `json:"auditId"`
	Scores       map[string]float64 `json:"scores"`
	OverallScore float64            `json:"overallScore"`
	Grade        string             `json:"grade"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// AgencyAssignment links an audit firm to an agency it may audit.
type AgencyAssignment struct {
	FirmID     string    `json:"firmId"`
	AgencyID   string    `json:"agencyId"`
	Active     bool      `json:"active"`
	AssignedAt time.Time `json:"assignedAt"`
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type ObservationStatus string

const (
	ObservationPendingAdminReview     ObservationStatus = "PENDING_ADMIN_REVIEW"
	ObservationSentToAgency           ObservationStatus = "SENT_TO_AGENCY"
	ObservationAwaitingAgencyResponse ObservationStatus = "AWAITING_AGENCY_RESPONSE"
	ObservationAgencyAccepted         ObservationStatus = "AGENCY_ACCEPTED"
	ObservationAgencyDisputed         ObservationStatus = "AGENCY_DISPUTED"
	ObservationAutoAccepted           ObservationStatus = "AUTO_ACCEPTED"
	ObservationClosed                 ObservationStatus = "CLOSED"
)

// AwaitingResponseStatuses are the states in which the agency still owes a
// response. Both spellings are in use by stored rows.
var AwaitingResponseStatuses = []ObservationStatus{
	ObservationSentToAgency,
	ObservationAwaitingAgencyResponse,
}

// PenalizableStatuses are the states from which a penalty may be assigned.
var PenalizableStatuses = []ObservationStatus{
	ObservationAgencyAccepted,
	ObservationAutoAccepted,
	ObservationAgencyDisputed,
}

func (s ObservationStatus) AwaitingResponse() bool {
	return s == ObservationSentToAgency || s == ObservationAwaitingAgencyResponse
}

func (s ObservationStatus) Penalizable() bool {
	switch s {
	case ObservationAgencyAccepted, ObservationAutoAccepted, ObservationAgencyDisputed:
		return true
	}
	return false
}

// Resolved reports whether the agency side of the observation is finished,
// i.e. the observation no longer blocks its notice.
func (s ObservationStatus) Resolved() bool {
	return s.Penalizable() || s == ObservationClosed
}

// AutoAcceptNote is the synthetic response stored by the deadline sweep.
const AutoAcceptNote = "Auto-accepted: no response received before the deadline."

type Observation struct {
	ID                string            `json:"id"`
	AuditID           string            `json:"auditId"`
	ObservationNumber string            `json:"observationNumber"`
	Severity          Severity          `json:"severity"`
	Category          string            `json:"category,omitempty"`
	Description       string            `json:"description"`
	EvidenceRequired  bool              `json:"evidenceRequired"`
	Status            ObservationStatus `json:"status"`
	ShowCauseNoticeID string            `json:"showCauseNoticeId,omitempty"`
	ResponseDeadline  *time.Time        `json:"responseDeadline,omitempty"`
	AgencyAccepted    *bool             `json:"agencyAccepted,omitempty"`
	AgencyResponse    string            `json:"agencyResponse,omitempty"`
	EvidencePath      string            `json:"evidencePath,omitempty"`
	RespondedAt       *time.Time        `json:"respondedAt,omitempty"`
	PenaltyID         string            `json:"penaltyId,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// ObservationResponse is the agency's answer to one observation.
type ObservationResponse struct {
	ObservationID string
	Status        ObservationStatus
	Accepted      bool
	Response      string
	EvidencePath  string
	RespondedAt   time.Time
}
