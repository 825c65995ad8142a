// internal/models/notification.go
package models

import "time"

type NotificationCategory string

const (
	CategoryFormSubmitted           NotificationCategory = "FORM_SUBMITTED"
	CategoryApprovalRequested       NotificationCategory = "APPROVAL_REQUESTED"
	CategoryApprovalApproved        NotificationCategory = "APPROVAL_APPROVED"
	CategoryApprovalRejected        NotificationCategory = "APPROVAL_REJECTED"
	CategoryDocumentRequested       NotificationCategory = "DOCUMENT_REQUESTED"
	CategoryDocumentAttached        NotificationCategory = "DOCUMENT_ATTACHED"
	CategoryShowCauseNotice         NotificationCategory = "SHOW_CAUSE_NOTICE"
	CategoryNoticeResponded         NotificationCategory = "NOTICE_RESPONDED"
	CategoryObservationAutoAccepted NotificationCategory = "OBSERVATION_AUTO_ACCEPTED"
	CategoryPenaltyAssigned         NotificationCategory = "PENALTY_ASSIGNED"
	CategoryPenaltyUpdated          NotificationCategory = "PENALTY_UPDATED"
	CategoryNoticeClosed            NotificationCategory = "NOTICE_CLOSED"
)

// Urgent reports whether the category warrants an SMS in addition to email.
func (c NotificationCategory) Urgent() bool {
	switch c {
	case CategoryShowCauseNotice, CategoryPenaltyAssigned, CategoryObservationAutoAccepted:
		return true
	}
	return false
}

type Notification struct {
	ID          string               `json:"id"`
	RecipientID string               `json:"recipientId"`
	Category    NotificationCategory `json:"category"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Link        string               `json:"link,omitempty"`
	Read        bool                 `json:"read"`
	CreatedAt   time.Time            `json:"createdAt"`
}
