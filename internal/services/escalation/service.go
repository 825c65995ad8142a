// internal/services/escalation/service.go

// Package escalation drives audit findings from the auditor through a show
// cause notice, the agency's response and finally a penalty.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"compliance-workflow/internal/common/auth"
	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/services/activity"
	"compliance-workflow/internal/services/txn"
	"compliance-workflow/internal/store"

	"github.com/google/uuid"
)

const deductionMonthLayout = "2006-01"

type Service struct {
	runner *txn.Runner
	config *Config
	logger logger.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(config *Config, runner *txn.Runner, log logger.Logger, opts ...Option) *Service {
	if config == nil {
		config = LoadConfig()
	}
	s := &Service{
		runner: runner,
		config: config,
		logger: log.WithFields(map[string]interface{}{"component": "escalation"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ==========================
// Audits
// ==========================

// CreateAudit opens an audit of an agency. The auditor's firm must hold an
// active assignment for the agency.
func (s *Service) CreateAudit(ctx context.Context, actor auth.Actor, in CreateAuditInput) (*models.Audit, error) {
	if err := auth.Require(actor, models.RoleAuditor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.AgencyID) == "" {
		return nil, apperr.NewValidationError("agencyId", "Agency id is required")
	}

	var audit *models.Audit
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		firmID, err := s.auditorFirm(ctx, tx, actor.UserID)
		if err != nil {
			return err
		}
		assigned, err := tx.HasActiveAssignment(ctx, firmID, in.AgencyID)
		if err != nil {
			return err
		}
		if !assigned {
			return apperr.NewForbiddenError(apperr.ErrCodeNotAssigned,
				fmt.Sprintf("firm %s is not assigned to agency %s", firmID, in.AgencyID))
		}

		now := s.now()
		auditDate := in.AuditDate
		if auditDate.IsZero() {
			auditDate = now
		}
		audit = &models.Audit{
			ID:        uuid.New().String(),
			AgencyID:  in.AgencyID,
			FirmID:    firmID,
			AuditorID: actor.UserID,
			AuditDate: auditDate,
			Status:    models.AuditStatusInProgress,
			Remarks:   in.Remarks,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateAudit(ctx, audit); err != nil {
			return err
		}
		fx.Activity.Record(actor.UserID, models.ActionAuditCreated, models.EntityAudit, audit.ID,
			activity.Change(nil, map[string]interface{}{"status": audit.Status}, map[string]interface{}{
				"agencyId": audit.AgencyID, "firmId": firmID,
			}))
		fx.Transition(models.EntityAudit, "NEW", string(audit.Status))
		return nil
	})
	if err != nil {
		return nil, txn.Classify("create audit", err)
	}
	return audit, nil
}

// AddObservation records a finding against an audit that is still in
// progress. Observation numbers are unique per audit.
func (s *Service) AddObservation(ctx context.Context, actor auth.Actor, in AddObservationInput) (*models.Observation, error) {
	if err := auth.Require(actor, models.RoleAuditor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ObservationNumber) == "" {
		return nil, apperr.NewValidationError("observationNumber", "Observation number is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, apperr.NewValidationError("description", "Description is required")
	}
	if !in.Severity.Valid() {
		return nil, apperr.NewValidationError("severity", fmt.Sprintf("Unknown severity %q", in.Severity))
	}

	var obs *models.Observation
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		audit, err := s.firmAudit(ctx, tx, actor.UserID, in.AuditID)
		if err != nil {
			return err
		}
		if audit.Status != models.AuditStatusInProgress {
			return apperr.NewConflictError(apperr.ErrCodeAuditCompleted,
				"Audit is already completed", "id: "+audit.ID)
		}

		now := s.now()
		obs = &models.Observation{
			ID:                uuid.New().String(),
			AuditID:           audit.ID,
			ObservationNumber: in.ObservationNumber,
			Severity:          in.Severity,
			Category:          in.Category,
			Description:       in.Description,
			EvidenceRequired:  in.EvidenceRequired,
			Status:            models.ObservationPendingAdminReview,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.CreateObservation(ctx, obs); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.NewConflictError(apperr.ErrCodeDuplicateObservation,
					"Observation number already used in this audit",
					fmt.Sprintf("auditId: %s, number: %s", audit.ID, in.ObservationNumber))
			}
			return err
		}
		fx.Activity.Record(actor.UserID, models.ActionObservationAdded, models.EntityObservation, obs.ID,
			activity.Change(nil, map[string]interface{}{"status": obs.Status}, map[string]interface{}{
				"auditId": audit.ID, "severity": string(obs.Severity),
			}))
		fx.Transition(models.EntityObservation, "NEW", string(obs.Status))
		return nil
	})
	if err != nil {
		return nil, txn.Classify("add observation", err)
	}
	return obs, nil
}

// CompleteAudit files the scorecard and closes the audit to new observations.
func (s *Service) CompleteAudit(ctx context.Context, actor auth.Actor, auditID string, in ScorecardInput) (*models.Scorecard, error) {
	if err := auth.Require(actor, models.RoleAuditor); err != nil {
		return nil, err
	}
	if in.OverallScore < 0 {
		return nil, apperr.NewValidationError("overallScore", "Overall score must not be negative")
	}

	var sc *models.Scorecard
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		audit, err := s.firmAudit(ctx, tx, actor.UserID, auditID)
		if err != nil {
			return err
		}
		completed := apperr.NewConflictError(apperr.ErrCodeAuditCompleted, "Audit is already completed", "id: "+auditID)
		if audit.Status != models.AuditStatusInProgress {
			return completed
		}

		now := s.now()
		ok, err := tx.UpdateAuditStatusIf(ctx, auditID, models.AuditStatusInProgress, models.AuditStatusCompleted, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewStaleStateError("Audit", auditID)
		}

		sc = &models.Scorecard{
			AuditID:      auditID,
			Scores:       in.Scores,
			OverallScore: in.OverallScore,
			Grade:        in.Grade,
			CreatedAt:    now,
		}
		if err := tx.CreateScorecard(ctx, sc); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return completed
			}
			return err
		}
		fx.Activity.Record(actor.UserID, models.ActionAuditCompleted, models.EntityAudit, auditID,
			activity.Change(
				map[string]interface{}{"status": audit.Status},
				map[string]interface{}{"status": models.AuditStatusCompleted},
				map[string]interface{}{"overallScore": in.OverallScore, "grade": in.Grade, "remarks": in.Remarks},
			))
		fx.Transition(models.EntityAudit, string(audit.Status), string(models.AuditStatusCompleted))
		return nil
	})
	if err != nil {
		return nil, txn.Classify("complete audit", err)
	}
	return sc, nil
}

// AssignAgencies replaces the set of agencies a firm may audit.
func (s *Service) AssignAgencies(ctx context.Context, actor auth.Actor, firmID string, agencyIDs []string) ([]*models.AgencyAssignment, error) {
	if err := auth.Require(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(firmID) == "" {
		return nil, apperr.NewValidationError("firmId", "Firm id is required")
	}
	ids := uniqueIDs(agencyIDs)

	var out []*models.AgencyAssignment
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		before, err := tx.ListAssignments(ctx, firmID)
		if err != nil {
			return err
		}
		if err := tx.ReplaceAssignments(ctx, firmID, ids, s.now()); err != nil {
			return err
		}
		out, err = tx.ListAssignments(ctx, firmID)
		if err != nil {
			return err
		}
		fx.Activity.Record(actor.UserID, models.ActionAssignmentsReplaced, models.EntityAssignment, firmID,
			activity.Change(
				map[string]interface{}{"agencyIds": activeAgencies(before)},
				map[string]interface{}{"agencyIds": ids},
				nil,
			))
		return nil
	})
	if err != nil {
		return nil, txn.Classify("assign agencies", err)
	}
	return out, nil
}

// ==========================
// Show cause notices
// ==========================

// IssueNotice bundles pending observations of one agency into a notice and
// sends them to the agency.
func (s *Service) IssueNotice(ctx context.Context, actor auth.Actor, in IssueNoticeInput) (*models.ShowCauseNotice, error) {
	if err := auth.Require(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	in, err := s.normalizeIssue(in)
	if err != nil {
		return nil, err
	}

	var notice *models.ShowCauseNotice
	err = s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		var err error
		notice, err = s.issue(ctx, tx, fx, actor, in)
		return err
	})
	if err != nil {
		return nil, txn.Classify("issue notice", err)
	}
	return notice, nil
}

// IssueBulk issues one notice per target. Each target runs in its own
// transaction; a failing target is reported and the rest carry on.
func (s *Service) IssueBulk(ctx context.Context, actor auth.Actor, in BulkIssueInput) (*BulkIssueResult, error) {
	if err := auth.Require(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if len(in.Targets) == 0 {
		return nil, apperr.NewValidationError("targets", "At least one target is required")
	}

	res := &BulkIssueResult{}
	for _, target := range in.Targets {
		single, err := s.normalizeIssue(IssueNoticeInput{
			AgencyID:        target.AgencyID,
			ObservationIDs:  target.ObservationIDs,
			Subject:         in.Subject,
			Details:         in.Details,
			ResponseDueDate: in.ResponseDueDate,
		})
		if err == nil {
			var notice *models.ShowCauseNotice
			err = s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
				var err error
				notice, err = s.issue(ctx, tx, fx, actor, single)
				return err
			})
			if err == nil {
				res.Issued = append(res.Issued, notice)
				continue
			}
			err = txn.Classify("issue notice", err)
		}

		std := apperr.Normalize(err)
		res.Failures = append(res.Failures, TargetFailure{
			AgencyID: target.AgencyID,
			Kind:     std.Kind,
			Code:     std.Code,
			Message:  std.Message,
			Err:      err,
		})
		s.logger.Warn("bulk notice target failed", map[string]interface{}{
			"agency_id": target.AgencyID,
			"code":      std.Code,
			"error":     err.Error(),
		})
	}

	s.logger.Info("bulk notice issuance finished", map[string]interface{}{
		"issued": len(res.Issued),
		"failed": len(res.Failures),
	})
	return res, nil
}

func (s *Service) normalizeIssue(in IssueNoticeInput) (IssueNoticeInput, error) {
	in.ObservationIDs = uniqueIDs(in.ObservationIDs)
	if len(in.ObservationIDs) == 0 {
		return in, apperr.NewValidationError("observationIds", "At least one observation is required")
	}
	if strings.TrimSpace(in.Subject) == "" {
		return in, apperr.NewValidationError("subject", "Subject is required")
	}
	now := s.now()
	if in.ResponseDueDate.IsZero() {
		in.ResponseDueDate = now.Add(s.config.ResponseWindow)
	}
	if !in.ResponseDueDate.After(now) {
		return in, apperr.NewValidationError("responseDueDate", "Response due date must be in the future")
	}
	return in, nil
}

func (s *Service) issue(ctx context.Context, tx store.Tx, fx *txn.Effects, actor auth.Actor, in IssueNoticeInput) (*models.ShowCauseNotice, error) {
	agencyID := in.AgencyID
	audits := map[string]*models.Audit{}
	for _, id := range in.ObservationIDs {
		obs, err := tx.GetObservation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NewNotFoundError("Observation", id)
		}
		if err != nil {
			return nil, err
		}
		if obs.Status != models.ObservationPendingAdminReview {
			return nil, apperr.NewConflictError(apperr.ErrCodeObservationNotPending,
				"Observation is not pending admin review", fmt.Sprintf("id: %s, status: %s", id, obs.Status))
		}

		audit, ok := audits[obs.AuditID]
		if !ok {
			if audit, err = loadAudit(ctx, tx, obs.AuditID); err != nil {
				return nil, err
			}
			audits[obs.AuditID] = audit
		}
		if agencyID == "" {
			agencyID = audit.AgencyID
		}
		if audit.AgencyID != agencyID {
			return nil, apperr.NewValidationError("observationIds",
				fmt.Sprintf("Observation %s belongs to agency %s, not %s", id, audit.AgencyID, agencyID))
		}
	}

	now := s.now()
	notice := &models.ShowCauseNotice{
		ID:                 uuid.New().String(),
		Subject:            in.Subject,
		Details:            in.Details,
		ResponseDueDate:    in.ResponseDueDate,
		Status:             models.NoticeStatusIssued,
		IssuedByAdminID:    actor.UserID,
		ReceivedByAgencyID: agencyID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := tx.CreateNotice(ctx, notice); err != nil {
		return nil, err
	}

	for _, id := range in.ObservationIDs {
		ok, err := tx.IssueObservation(ctx, id, notice.ID, in.ResponseDueDate, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NewStaleStateError("Observation", id)
		}
		fx.Activity.Record(actor.UserID, models.ActionNoticeIssued, models.EntityObservation, id,
			activity.Change(
				map[string]interface{}{"status": models.ObservationPendingAdminReview},
				map[string]interface{}{"status": models.ObservationSentToAgency, "responseDeadline": in.ResponseDueDate},
				map[string]interface{}{"noticeId": notice.ID},
			))
		fx.Transition(models.EntityObservation, string(models.ObservationPendingAdminReview), string(models.ObservationSentToAgency))
	}

	fx.Activity.Record(actor.UserID, models.ActionNoticeIssued, models.EntityNotice, notice.ID,
		activity.Change(nil, map[string]interface{}{"status": notice.Status}, map[string]interface{}{
			"agencyId":       agencyID,
			"observationIds": in.ObservationIDs,
			"responseDue":    in.ResponseDueDate,
		}))
	fx.Transition(models.EntityNotice, "NEW", string(notice.Status))
	fx.Notify.Add(agencyID, models.CategoryShowCauseNotice,
		"Show cause notice issued",
		fmt.Sprintf("%s. %d observation(s) require a response by %s.",
			notice.Subject, len(in.ObservationIDs), in.ResponseDueDate.Format("02 Jan 2006")),
		noticeLink(notice.ID))
	return notice, nil
}

// Respond records the agency's answer to one observation. Once every
// observation of the notice is resolved the notice becomes RESPONDED and the
// admins are told.
func (s *Service) Respond(ctx context.Context, actor auth.Actor, in RespondInput) (*models.Observation, error) {
	if err := auth.Require(actor, models.RoleAgency); err != nil {
		return nil, err
	}
	justification := strings.TrimSpace(in.Justification)

	var obs *models.Observation
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		cur, err := loadObservation(ctx, tx, in.ObservationID)
		if err != nil {
			return err
		}
		audit, err := loadAudit(ctx, tx, cur.AuditID)
		if err != nil {
			return err
		}
		if audit.AgencyID != actor.UserID {
			return apperr.NewForbiddenError(apperr.ErrCodeNotOwner,
				fmt.Sprintf("observation %s belongs to another agency", cur.ID))
		}
		if !cur.Status.AwaitingResponse() {
			return apperr.NewConflictError(apperr.ErrCodeObservationNotOpen,
				"Observation is not awaiting a response", fmt.Sprintf("id: %s, status: %s", cur.ID, cur.Status))
		}
		now := s.now()
		if cur.ResponseDeadline == nil || now.After(*cur.ResponseDeadline) {
			return apperr.NewConflictError(apperr.ErrCodeDeadlinePassed,
				"Response deadline has passed", "id: "+cur.ID)
		}

		next := models.ObservationAgencyAccepted
		if !in.Accepted {
			next = models.ObservationAgencyDisputed
			if justification == "" {
				return apperr.NewValidationError("justification", "Justification is required to dispute an observation")
			}
			if cur.EvidenceRequired && strings.TrimSpace(in.EvidencePath) == "" {
				return apperr.NewValidationError("evidencePath", "Evidence is required for this observation")
			}
		}

		ok, err := tx.RecordResponse(ctx, models.ObservationResponse{
			ObservationID: cur.ID,
			Status:        next,
			Accepted:      in.Accepted,
			Response:      justification,
			EvidencePath:  in.EvidencePath,
			RespondedAt:   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewStaleStateError("Observation", cur.ID)
		}

		fx.Activity.Record(actor.UserID, models.ActionObservationResponded, models.EntityObservation, cur.ID,
			activity.Change(
				map[string]interface{}{"status": cur.Status},
				map[string]interface{}{"status": next, "agencyAccepted": in.Accepted, "evidencePath": in.EvidencePath},
				nil,
			))
		fx.Transition(models.EntityObservation, string(cur.Status), string(next))

		if err := s.refreshNotice(ctx, tx, fx, cur.ShowCauseNoticeID, actor.UserID, now); err != nil {
			return err
		}

		obs, err = tx.GetObservation(ctx, cur.ID)
		return err
	})
	if err != nil {
		return nil, txn.Classify("respond", err)
	}
	return obs, nil
}

// AutoAccept accepts an overdue observation on the agency's behalf within tx.
// It reports false when the observation was answered or accepted already.
func (s *Service) AutoAccept(ctx context.Context, tx store.Tx, fx *txn.Effects, obs *models.Observation, now time.Time) (bool, error) {
	ok, err := tx.AutoAcceptObservation(ctx, obs.ID, models.AutoAcceptNote, now)
	if err != nil || !ok {
		return false, err
	}
	audit, err := loadAudit(ctx, tx, obs.AuditID)
	if err != nil {
		return false, err
	}

	fx.Activity.Record(models.SystemActor, models.ActionObservationAutoAccepted, models.EntityObservation, obs.ID,
		activity.Change(
			map[string]interface{}{"status": obs.Status},
			map[string]interface{}{"status": models.ObservationAutoAccepted, "agencyAccepted": true},
			map[string]interface{}{"responseDeadline": obs.ResponseDeadline},
		))
	fx.Transition(models.EntityObservation, string(obs.Status), string(models.ObservationAutoAccepted))

	if err := s.refreshNotice(ctx, tx, fx, obs.ShowCauseNoticeID, models.SystemActor, now); err != nil {
		return false, err
	}

	body := fmt.Sprintf("Observation %s was auto-accepted because no response arrived before the deadline.", obs.ObservationNumber)
	fx.Notify.Add(audit.AgencyID, models.CategoryObservationAutoAccepted,
		"Observation auto-accepted", body, observationLink(obs.ID))
	admins, err := tx.ListUserIDsByRole(ctx, models.RoleAdmin)
	if err != nil {
		return false, err
	}
	fx.Notify.AddEach(admins, models.CategoryObservationAutoAccepted,
		"Observation auto-accepted", body, observationLink(obs.ID))
	return true, nil
}

// refreshNotice re-derives the notice status from its observations.
func (s *Service) refreshNotice(ctx context.Context, tx store.Tx, fx *txn.Effects, noticeID, actorID string, now time.Time) error {
	if noticeID == "" {
		return nil
	}
	notice, err := tx.GetNotice(ctx, noticeID)
	if err != nil {
		return err
	}
	children, err := tx.ListObservationsByNotice(ctx, noticeID)
	if err != nil {
		return err
	}
	next := DeriveNoticeStatus(notice.Status, statuses(children))
	if next == notice.Status {
		return nil
	}

	ok, err := tx.UpdateNoticeStatusIf(ctx, noticeID, notice.Status, next, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NewStaleStateError("ShowCauseNotice", noticeID)
	}

	fx.Activity.Record(actorID, models.ActionNoticeResponded, models.EntityNotice, noticeID,
		activity.Change(
			map[string]interface{}{"status": notice.Status},
			map[string]interface{}{"status": next},
			nil,
		))
	fx.Transition(models.EntityNotice, string(notice.Status), string(next))

	admins, err := tx.ListUserIDsByRole(ctx, models.RoleAdmin)
	if err != nil {
		return err
	}
	fx.Notify.AddEach(admins, models.CategoryNoticeResponded,
		"Notice responded",
		fmt.Sprintf("All observations of notice %s have been answered.", notice.ReferenceNo()),
		noticeLink(noticeID))
	return nil
}

// CloseNotice closes a notice whose observations are all resolved.
func (s *Service) CloseNotice(ctx context.Context, actor auth.Actor, noticeID, remarks string) (*models.ShowCauseNotice, error) {
	if err := auth.Require(actor, models.RoleAdmin); err != nil {
		return nil, err
	}

	var notice *models.ShowCauseNotice
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		cur, err := tx.GetNotice(ctx, noticeID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NewNotFoundError("ShowCauseNotice", noticeID)
		}
		if err != nil {
			return err
		}
		if cur.Status == models.NoticeStatusClosed {
			return apperr.NewConflictError(apperr.ErrCodeNoticeClosed, "Notice is already closed", "id: "+noticeID)
		}
		children, err := tx.ListObservationsByNotice(ctx, noticeID)
		if err != nil {
			return err
		}
		for _, o := range children {
			if !o.Status.Resolved() {
				return apperr.NewConflictError(apperr.ErrCodeNoticeOpen,
					"Notice still has open observations", fmt.Sprintf("observation: %s, status: %s", o.ID, o.Status))
			}
		}

		now := s.now()
		ok, err := tx.CloseNotice(ctx, noticeID, remarks, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewStaleStateError("ShowCauseNotice", noticeID)
		}

		fx.Activity.Record(actor.UserID, models.ActionNoticeClosed, models.EntityNotice, noticeID,
			activity.Change(
				map[string]interface{}{"status": cur.Status},
				map[string]interface{}{"status": models.NoticeStatusClosed, "adminRemarks": remarks},
				nil,
			))
		fx.Transition(models.EntityNotice, string(cur.Status), string(models.NoticeStatusClosed))
		fx.Notify.Add(cur.ReceivedByAgencyID, models.CategoryNoticeClosed,
			"Notice closed",
			fmt.Sprintf("Show cause notice %s has been closed.", cur.ReferenceNo()),
			noticeLink(noticeID))

		notice, err = tx.GetNotice(ctx, noticeID)
		return err
	})
	if err != nil {
		return nil, txn.Classify("close notice", err)
	}
	return notice, nil
}

// ==========================
// Penalties
// ==========================

// AssignPenalty fines the agency for a resolved observation and closes it.
// An observation carries at most one penalty.
func (s *Service) AssignPenalty(ctx context.Context, actor auth.Actor, in AssignPenaltyInput) (*models.Penalty, error) {
	if err := auth.Require(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, apperr.NewValidationError("amount", "Amount must be positive")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, apperr.NewValidationError("reason", "Reason is required")
	}
	if _, err := time.Parse(deductionMonthLayout, in.DeductionMonth); err != nil {
		return nil, apperr.NewValidationError("deductionMonth", "Deduction month must be YYYY-MM")
	}

	var penalty *models.Penalty
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		obs, err := loadObservation(ctx, tx, in.ObservationID)
		if err != nil {
			return err
		}
		exists := apperr.NewConflictError(apperr.ErrCodePenaltyExists,
			"Observation already has a penalty", "observationId: "+obs.ID)
		if obs.PenaltyID != "" {
			return exists
		}
		if !obs.Status.Penalizable() {
			return apperr.NewConflictError(apperr.ErrCodeObservationNotResolved,
				"Observation cannot be penalized in its current state", fmt.Sprintf("id: %s, status: %s", obs.ID, obs.Status))
		}
		audit, err := loadAudit(ctx, tx, obs.AuditID)
		if err != nil {
			return err
		}
		var refNo string
		if obs.ShowCauseNoticeID != "" {
			notice, err := tx.GetNotice(ctx, obs.ShowCauseNoticeID)
			if err != nil {
				return err
			}
			refNo = notice.ReferenceNo()
		}

		now := s.now()
		penalty = &models.Penalty{
			ID:             uuid.New().String(),
			ObservationID:  obs.ID,
			AgencyID:       audit.AgencyID,
			PenaltyAmount:  in.Amount,
			PenaltyReason:  in.Reason,
			DeductionMonth: in.DeductionMonth,
			Status:         models.PenaltyStatusSubmitted,
			NoticeRefNo:    refNo,
			AssignedBy:     actor.UserID,
			AssignedAt:     now,
			SubmittedAt:    now,
		}
		if err := tx.CreatePenalty(ctx, penalty); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return exists
			}
			return err
		}
		ok, err := tx.CloseObservationWithPenalty(ctx, obs.ID, penalty.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewStaleStateError("Observation", obs.ID)
		}
		if err := s.refreshNotice(ctx, tx, fx, obs.ShowCauseNoticeID, actor.UserID, now); err != nil {
			return err
		}

		fx.Activity.Record(actor.UserID, models.ActionPenaltyAssigned, models.EntityPenalty, penalty.ID,
			activity.Change(nil, map[string]interface{}{"status": penalty.Status}, map[string]interface{}{
				"observationId":  obs.ID,
				"amount":         in.Amount,
				"deductionMonth": in.DeductionMonth,
			}))
		fx.Activity.Record(actor.UserID, models.ActionPenaltyAssigned, models.EntityObservation, obs.ID,
			activity.Change(
				map[string]interface{}{"status": obs.Status},
				map[string]interface{}{"status": models.ObservationClosed, "penaltyId": penalty.ID},
				nil,
			))
		fx.Transition(models.EntityPenalty, "NEW", string(penalty.Status))
		fx.Transition(models.EntityObservation, string(obs.Status), string(models.ObservationClosed))
		fx.Notify.Add(audit.AgencyID, models.CategoryPenaltyAssigned,
			"Penalty assigned",
			fmt.Sprintf("A penalty of %.2f was assigned for observation %s, deducted in %s.",
				in.Amount, obs.ObservationNumber, in.DeductionMonth),
			penaltyLink(penalty.ID))
		return nil
	})
	if err != nil {
		return nil, txn.Classify("assign penalty", err)
	}
	return penalty, nil
}

// AcknowledgePenalty moves a submitted penalty to ACKNOWLEDGED.
func (s *Service) AcknowledgePenalty(ctx context.Context, actor auth.Actor, penaltyID string) (*models.Penalty, error) {
	return s.advancePenalty(ctx, actor, penaltyID,
		models.PenaltyStatusSubmitted, models.PenaltyStatusAcknowledged, models.ActionPenaltyAcknowledged, "acknowledged")
}

// PayPenalty moves an acknowledged penalty to PAID.
func (s *Service) PayPenalty(ctx context.Context, actor auth.Actor, penaltyID string) (*models.Penalty, error) {
	return s.advancePenalty(ctx, actor, penaltyID,
		models.PenaltyStatusAcknowledged, models.PenaltyStatusPaid, models.ActionPenaltyPaid, "paid")
}

func (s *Service) advancePenalty(ctx context.Context, actor auth.Actor, penaltyID string, from, to models.PenaltyStatus, action, verb string) (*models.Penalty, error) {
	if err := auth.Require(actor, models.RoleAgency); err != nil {
		return nil, err
	}

	var penalty *models.Penalty
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		cur, err := tx.GetPenalty(ctx, penaltyID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NewNotFoundError("Penalty", penaltyID)
		}
		if err != nil {
			return err
		}
		if cur.AgencyID != actor.UserID {
			return apperr.NewForbiddenError(apperr.ErrCodeNotOwner,
				fmt.Sprintf("penalty %s belongs to another agency", penaltyID))
		}
		if cur.Status != from {
			return apperr.NewConflictError(apperr.ErrCodePenaltyTransition,
				fmt.Sprintf("Penalty cannot be %s from %s", verb, cur.Status), "id: "+penaltyID)
		}

		ok, err := tx.UpdatePenaltyStatusIf(ctx, penaltyID, from, to, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewStaleStateError("Penalty", penaltyID)
		}

		fx.Activity.Record(actor.UserID, action, models.EntityPenalty, penaltyID,
			activity.Change(map[string]interface{}{"status": from}, map[string]interface{}{"status": to}, nil))
		fx.Transition(models.EntityPenalty, string(from), string(to))
		admins, err := tx.ListUserIDsByRole(ctx, models.RoleAdmin)
		if err != nil {
			return err
		}
		fx.Notify.AddEach(admins, models.CategoryPenaltyUpdated,
			"Penalty "+verb,
			fmt.Sprintf("Agency %s marked penalty %s as %s.", actor.UserID, penaltyID, verb),
			penaltyLink(penaltyID))

		penalty, err = tx.GetPenalty(ctx, penaltyID)
		return err
	})
	if err != nil {
		return nil, txn.Classify(verb+" penalty", err)
	}
	return penalty, nil
}

// ==========================
// Helpers
// ==========================

func (s *Service) auditorFirm(ctx context.Context, tx store.Directory, auditorID string) (string, error) {
	firmID, err := tx.GetAuditorFirm(ctx, auditorID)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.NewForbiddenError(apperr.ErrCodeNotAssigned, "auditor "+auditorID+" has no firm")
	}
	return firmID, err
}

// firmAudit loads the audit and checks it belongs to the auditor's firm.
func (s *Service) firmAudit(ctx context.Context, tx store.Tx, auditorID, auditID string) (*models.Audit, error) {
	firmID, err := s.auditorFirm(ctx, tx, auditorID)
	if err != nil {
		return nil, err
	}
	audit, err := loadAudit(ctx, tx, auditID)
	if err != nil {
		return nil, err
	}
	if audit.FirmID != firmID {
		return nil, apperr.NewForbiddenError(apperr.ErrCodeNotOwner,
			fmt.Sprintf("audit %s belongs to another firm", auditID))
	}
	return audit, nil
}

func loadAudit(ctx context.Context, tx store.Audits, id string) (*models.Audit, error) {
	a, err := tx.GetAudit(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NewNotFoundError("Audit", id)
	}
	return a, err
}

func loadObservation(ctx context.Context, tx store.Observations, id string) (*models.Observation, error) {
	o, err := tx.GetObservation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NewNotFoundError("Observation", id)
	}
	return o, err
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func activeAgencies(as []*models.AgencyAssignment) []string {
	var out []string
	for _, a := range as {
		if a.Active {
			out = append(out, a.AgencyID)
		}
	}
	sort.Strings(out)
	return out
}
