// internal/models/approval.go
package models

import "time"

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// Request types
const (
	RequestTypeEdit = "EDIT"
)

// ConsumedNote is appended to the admin response of an approval that was
// used up by a resubmission.
const ConsumedNote = "[closed: form resubmitted]"

type ApprovalRequest struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	FormType      FormType       `json:"formType"`
	FormID        string         `json:"formId"`
	RequestType   string         `json:"requestType"`
	Reason        string         `json:"reason"`
	DocumentPath  string         `json:"documentPath,omitempty"`
	Status        ApprovalStatus `json:"status"`
	AdminResponse string         `json:"adminResponse,omitempty"`
	ReviewedAt    *time.Time     `json:"reviewedAt,omitempty"`
	ReviewedBy    string         `json:"reviewedBy,omitempty"`
	ConsumedAt    *time.Time     `json:"consumedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// AwaitingDocument reports a pending request where the admin asked for a
// document that has not been attached yet.
func (r *ApprovalRequest) AwaitingDocument() bool {
	return r.Status == ApprovalStatusPending && r.AdminResponse != "" && r.DocumentPath == ""
}

// ApprovalStats is the admin dashboard summary of approval requests.
type ApprovalStats struct {
	Pending          int `json:"pending"`
	Approved         int `json:"approved"`
	Rejected         int `json:"rejected"`
	AwaitingDocument int `json:"awaitingDocument"`
}
