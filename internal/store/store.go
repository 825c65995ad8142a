// internal/store/store.go

// Package store defines the transactional persistence boundary of the
// compliance workflow. Every read and write happens inside RunInTx; the
// conditional update methods report whether their guard matched so callers
// can turn a lost race into a Conflict.
package store

import (
	"context"
	"errors"
	"time"

	"compliance-workflow/internal/models"
)

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("store: duplicate key")
)

// OverdueCursor is the (deadline, id) position of the last row of a page of
// overdue observations.
type OverdueCursor struct {
	Deadline time.Time
	ID       string
}

// CursorAfter returns the position of o in the overdue ordering.
func CursorAfter(o *models.Observation) *OverdueCursor {
	c := &OverdueCursor{ID: o.ID}
	if o.ResponseDeadline != nil {
		c.Deadline = *o.ResponseDeadline
	}
	return c
}

// Store runs fn in one atomic transaction. Implementations may call fn more
// than once when the transaction has to be retried, so fn must not keep
// state across invocations.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the typed view of one open transaction.
type Tx interface {
	Forms
	Approvals
	Audits
	Observations
	Notices
	Penalties
	Directory
	ActivityLogs
	Notifications
}

// Forms persists FormSubmission rows in the table selected by FormType.
type Forms interface {
	// CreateForm inserts f. ErrDuplicate when the owner already has a form of
	// this type for f.Period.
	CreateForm(ctx context.Context, f *models.FormSubmission) error
	GetForm(ctx context.Context, formType models.FormType, id string) (*models.FormSubmission, error)
	// UpdateFormIfStatus writes status, payload, first-submitted time and
	// updated time of f, only while the stored status equals expected.
	UpdateFormIfStatus(ctx context.Context, f *models.FormSubmission, expected models.FormStatus) (bool, error)
	DeleteFormIfStatus(ctx context.Context, formType models.FormType, id string, expected models.FormStatus) (bool, error)
}

type Approvals interface {
	// CreateApproval inserts r. ErrDuplicate when a PENDING request already
	// exists for (UserID, FormType, FormID).
	CreateApproval(ctx context.Context, r *models.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error)
	// UpdateApprovalIfStatus writes the mutable fields of r while the stored
	// status equals expected.
	UpdateApprovalIfStatus(ctx context.Context, r *models.ApprovalRequest, expected models.ApprovalStatus) (bool, error)
	// ConsumeApprovals stamps every APPROVED, unconsumed request for the form
	// with at and appends note to its admin response. Returns the stamped ids.
	ConsumeApprovals(ctx context.Context, formType models.FormType, formID string, at time.Time, note string) ([]string, error)
	CountApprovals(ctx context.Context) (models.ApprovalStats, error)
}

type Audits interface {
	CreateAudit(ctx context.Context, a *models.Audit) error
	GetAudit(ctx context.Context, id string) (*models.Audit, error)
	UpdateAuditStatusIf(ctx context.Context, id string, from, to models.AuditStatus, at time.Time) (bool, error)
	// CreateScorecard inserts sc. ErrDuplicate when the audit already has one.
	CreateScorecard(ctx context.Context, sc *models.Scorecard) error
}

type Observations interface {
	// CreateObservation inserts o. ErrDuplicate when the audit already has an
	// observation with the same number.
	CreateObservation(ctx context.Context, o *models.Observation) error
	GetObservation(ctx context.Context, id string) (*models.Observation, error)
	ListObservationsByNotice(ctx context.Context, noticeID string) ([]*models.Observation, error)
	// IssueObservation links a PENDING_ADMIN_REVIEW observation to a notice
	// and moves it to SENT_TO_AGENCY with the given deadline.
	IssueObservation(ctx context.Context, id, noticeID string, deadline, at time.Time) (bool, error)
	// RecordResponse applies resp while the observation awaits a response and
	// its deadline is not before resp.RespondedAt.
	RecordResponse(ctx context.Context, resp models.ObservationResponse) (bool, error)
	// AutoAcceptObservation marks the observation AUTO_ACCEPTED while it
	// awaits a response and its deadline is before now.
	AutoAcceptObservation(ctx context.Context, id, note string, now time.Time) (bool, error)
	// ListOverdueObservations returns up to limit observations awaiting a
	// response whose deadline is before now, ordered by (deadline, id). A
	// non-nil after restricts the page to rows strictly behind that position.
	ListOverdueObservations(ctx context.Context, now time.Time, after *OverdueCursor, limit int) ([]*models.Observation, error)
	// CloseObservationWithPenalty sets CLOSED and penaltyID while the
	// observation is penalizable and has no penalty.
	CloseObservationWithPenalty(ctx context.Context, id, penaltyID string, at time.Time) (bool, error)
}

type Notices interface {
	CreateNotice(ctx context.Context, n *models.ShowCauseNotice) error
	GetNotice(ctx context.Context, id string) (*models.ShowCauseNotice, error)
	UpdateNoticeStatusIf(ctx context.Context, id string, from, to models.NoticeStatus, at time.Time) (bool, error)
	// CloseNotice sets CLOSED with remarks unless the notice is already closed.
	CloseNotice(ctx context.Context, id, remarks string, at time.Time) (bool, error)
}

type Penalties interface {
	// CreatePenalty inserts p. ErrDuplicate when the observation already has
	// a penalty.
	CreatePenalty(ctx context.Context, p *models.Penalty) error
	GetPenalty(ctx context.Context, id string) (*models.Penalty, error)
	// UpdatePenaltyStatusIf moves the penalty from one status to the next and
	// stamps the matching timestamp.
	UpdatePenaltyStatusIf(ctx context.Context, id string, from, to models.PenaltyStatus, at time.Time) (bool, error)
}

// Directory resolves users, firm membership and firm to agency assignments.
type Directory interface {
	GetContact(ctx context.Context, userID string) (*models.Contact, error)
	ListUserIDsByRole(ctx context.Context, role models.Role) ([]string, error)
	// GetAuditorFirm returns the firm the auditor belongs to.
	GetAuditorFirm(ctx context.Context, auditorID string) (string, error)
	HasActiveAssignment(ctx context.Context, firmID, agencyID string) (bool, error)
	ListAssignments(ctx context.Context, firmID string) ([]*models.AgencyAssignment, error)
	// ReplaceAssignments deactivates every active assignment of the firm and
	// activates agencyIDs.
	ReplaceAssignments(ctx context.Context, firmID string, agencyIDs []string, at time.Time) error
}

type ActivityLogs interface {
	InsertActivity(ctx context.Context, l *models.ActivityLog) error
	ListActivity(ctx context.Context, entityType, entityID string) ([]*models.ActivityLog, error)
}

type Notifications interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipientID string) ([]*models.Notification, error)
}
