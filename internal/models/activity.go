// internal/models/activity.go
package models

import "time"

// Entity types recorded in the activity log.
const (
	EntityForm            = "form"
	EntityApprovalRequest = "approval_request"
	EntityAudit           = "audit"
	EntityObservation     = "observation"
	EntityNotice          = "show_cause_notice"
	EntityPenalty         = "penalty"
	EntityAssignment      = "agency_assignment"
)

// Activity actions
const (
	ActionFormCreated             = "FORM_CREATED"
	ActionFormSaved               = "FORM_SAVED"
	ActionFormSubmitted           = "FORM_SUBMITTED"
	ActionFormResubmitted         = "FORM_RESUBMITTED"
	ActionFormDeleted             = "FORM_DELETED"
	ActionFormReopened            = "FORM_REOPENED"
	ActionEditRequested           = "EDIT_REQUESTED"
	ActionRequestApproved         = "REQUEST_APPROVED"
	ActionRequestRejected         = "REQUEST_REJECTED"
	ActionDocumentRequested       = "DOCUMENT_REQUESTED"
	ActionDocumentAttached        = "DOCUMENT_ATTACHED"
	ActionAuditCreated            = "AUDIT_CREATED"
	ActionAuditCompleted          = "AUDIT_COMPLETED"
	ActionObservationAdded        = "OBSERVATION_ADDED"
	ActionNoticeIssued            = "NOTICE_ISSUED"
	ActionObservationResponded    = "OBSERVATION_RESPONDED"
	ActionObservationAutoAccepted = "OBSERVATION_AUTO_ACCEPTED"
	ActionNoticeResponded         = "NOTICE_RESPONDED"
	ActionNoticeClosed            = "NOTICE_CLOSED"
	ActionPenaltyAssigned         = "PENALTY_ASSIGNED"
	ActionPenaltyAcknowledged     = "PENALTY_ACKNOWLEDGED"
	ActionPenaltyPaid             = "PENALTY_PAID"
	ActionAssignmentsReplaced     = "ASSIGNMENTS_REPLACED"
)

// SystemActor is recorded as the user for transitions made by scheduled jobs.
const SystemActor = "system"

type ActivityLog struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"userId"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}
