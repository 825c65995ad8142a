// internal/models/penalty.go
package models

import "time"

type PenaltyStatus string

const (
	PenaltyStatusDraft        PenaltyStatus = "DRAFT"
	PenaltyStatusSubmitted    PenaltyStatus = "SUBMITTED"
	PenaltyStatusAcknowledged PenaltyStatus = "ACKNOWLEDGED"
	PenaltyStatusPaid         PenaltyStatus = "PAID"
)

type Penalty struct {
	ID             string        `json:"id"`
	ObservationID  string        `json:"observationId"`
	AgencyID       string        `json:"agencyId"`
	PenaltyAmount  float64       `json:"penaltyAmount"`
	PenaltyReason  string        `json:"penaltyReason"`
	DeductionMonth string        `json:"deductionMonth"` // YYYY-MM
	Status         PenaltyStatus `json:"status"`
	NoticeRefNo    string        `json:"noticeRefNo"`
	AssignedBy     string        `json:"assignedBy"`
	AssignedAt     time.Time     `json:"assignedAt"`
	SubmittedAt    time.Time     `json:"submittedAt"`
	AcknowledgedAt *time.Time    `json:"acknowledgedAt,omitempty"`
	PaidAt         *time.Time    `json:"paidAt,omitempty"`
}
