// internal/services/approvals/service.go

// Package approvals brokers requests to unlock submitted forms. Approving a
// request reopens the form in the same transaction as the decision.
package approvals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"compliance-workflow/internal/common/auth"
	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/common/metrics"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/services/forms"
	"compliance-workflow/internal/services/txn"
	"compliance-workflow/internal/store"

	"github.com/google/uuid"
)

// FormReopener forces a submitted form back to DRAFT within tx.
// *forms.Service satisfies it.
type FormReopener interface {
	ReopenForEdit(ctx context.Context, tx store.Tx, fx *txn.Effects, formType models.FormType, formID, ownerID, reviewerID string) error
}

type Service struct {
	runner *txn.Runner
	forms  FormReopener
	cache  StatsCache
	logger logger.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStatsCache enables caching of Stats.
func WithStatsCache(c StatsCache) Option {
	return func(s *Service) { s.cache = c }
}

func NewService(runner *txn.Runner, reopener FormReopener, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		runner: runner,
		forms:  reopener,
		logger: log.WithFields(map[string]interface{}{"component": "approvals"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestEdit files a request to unlock a submitted form. At most one
// request per form and requester may be pending; the store enforces it.
func (s *Service) RequestEdit(ctx context.Context, actor auth.Actor, in EditRequestInput) (*models.ApprovalRequest, error) {
	if err := auth.Require(actor, models.RoleAgency); err != nil {
		return nil, err
	}
	if !in.FormType.Valid() {
		return nil, apperr.NewValidationError("formType", fmt.Sprintf("Unknown form type %q", in.FormType))
	}
	if strings.TrimSpace(in.FormID) == "" {
		return nil, apperr.NewValidationError("formId", "Form id is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, apperr.NewValidationError("reason", "Reason is required")
	}
	if in.RequestType == "" {
		in.RequestType = models.RequestTypeEdit
	}

	var req *models.ApprovalRequest
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		form, err := tx.GetForm(ctx, in.FormType, in.FormID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && form.OwnerID != actor.UserID) {
			return apperr.NewNotFoundError("Form", in.FormID)
		}
		if err != nil {
			return err
		}
		if form.Status != models.FormStatusSubmitted {
			return apperr.NewConflictError(apperr.ErrCodeFormNotLocked,
				"Only submitted forms need an edit request", "id: "+in.FormID)
		}

		now := s.now()
		req = &models.ApprovalRequest{
			ID:           uuid.New().String(),
			UserID:       actor.UserID,
			FormType:     in.FormType,
			FormID:       in.FormID,
			RequestType:  in.RequestType,
			Reason:       in.Reason,
			DocumentPath: in.DocumentPath,
			Status:       models.ApprovalStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateApproval(ctx, req); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.NewConflictError(apperr.ErrCodeDuplicatePendingRequest,
					"A pending request already exists for this form", "formId: "+in.FormID)
			}
			return err
		}

		admins, err := tx.ListUserIDsByRole(ctx, models.RoleAdmin)
		if err != nil {
			return err
		}
		fx.Notify.AddEach(admins, models.CategoryApprovalRequested,
			"Edit request received",
			fmt.Sprintf("An agency asked to edit a submitted %s form: %s", in.FormType, in.Reason),
			Link(req.ID))
		fx.Activity.Record(actor.UserID, models.ActionEditRequested, models.EntityApprovalRequest, req.ID,
			map[string]interface{}{"formType": string(in.FormType), "formId": in.FormID, "reason": in.Reason})
		fx.Transition(models.EntityApprovalRequest, "NEW", string(models.ApprovalStatusPending))
		return nil
	})
	if err != nil {
		return nil, txn.Classify("request edit", err)
	}
	s.invalidateStats(ctx)
	return req, nil
}

// Review approves or rejects a pending request.
func (s *Service) Review(ctx context.Context, actor auth.Actor, requestID string, decision Decision, note string) (*models.ApprovalRequest, error) {
	if err := auth.Require(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if !decision.Valid() {
		return nil, apperr.NewValidationError("decision", "Decision must be APPROVE or REJECT")
	}

	var req *models.ApprovalRequest
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		cur, err := s.loadPending(ctx, tx, requestID)
		if err != nil {
			return err
		}

		now := s.now()
		next := *cur
		next.ReviewedAt = &now
		next.ReviewedBy = actor.UserID
		next.UpdatedAt = now
		if strings.TrimSpace(note) != "" {
			next.AdminResponse = note
		}

		action, category, title, body := models.ActionRequestRejected, models.CategoryApprovalRejected,
			"Edit request rejected",
			fmt.Sprintf("Your edit request for the %s form was rejected.", cur.FormType)
		next.Status = models.ApprovalStatusRejected
		if decision == DecisionApprove {
			next.Status = models.ApprovalStatusApproved
			action, category, title, body = models.ActionRequestApproved, models.CategoryApprovalApproved,
				"Form unlocked",
				fmt.Sprintf("Your edit request was approved. The %s form is open for editing.", cur.FormType)
		}
		if note != "" {
			body += " Note: " + note
		}

		ok, err := tx.UpdateApprovalIfStatus(ctx, &next, models.ApprovalStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewStaleStateError("ApprovalRequest", requestID)
		}

		if decision == DecisionApprove {
			if err := s.forms.ReopenForEdit(ctx, tx, fx, cur.FormType, cur.FormID, cur.UserID, actor.UserID); err != nil {
				return err
			}
		}

		fx.Notify.Add(cur.UserID, category, title, body, forms.Link(cur.FormType, cur.FormID))
		fx.Activity.Record(actor.UserID, action, models.EntityApprovalRequest, cur.ID, map[string]interface{}{
			"before": map[string]interface{}{"status": cur.Status},
			"after":  map[string]interface{}{"status": next.Status, "adminResponse": next.AdminResponse},
		})
		fx.Transition(models.EntityApprovalRequest, string(cur.Status), string(next.Status))
		req = &next
		return nil
	})
	if err != nil {
		return nil, txn.Classify("review request", err)
	}
	s.invalidateStats(ctx)
	return req, nil
}

// RequestDocument asks the requester for a supporting document. The request
// stays pending.
func (s *Service) RequestDocument(ctx context.Context, actor auth.Actor, requestID, message string) (*models.ApprovalRequest, error) {
	if err := auth.Require(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, apperr.NewValidationError("message", "Message is required")
	}

	var req *models.ApprovalRequest
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		cur, err := s.loadPending(ctx, tx, requestID)
		if err != nil {
			return err
		}
		next := *cur
		next.AdminResponse = message
		next.UpdatedAt = s.now()

		ok, err := tx.UpdateApprovalIfStatus(ctx, &next, models.ApprovalStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewStaleStateError("ApprovalRequest", requestID)
		}

		fx.Notify.Add(cur.UserID, models.CategoryDocumentRequested,
			"Document requested", message, Link(cur.ID))
		fx.Activity.Record(actor.UserID, models.ActionDocumentRequested, models.EntityApprovalRequest, cur.ID,
			map[string]interface{}{"message": message})
		req = &next
		return nil
	})
	if err != nil {
		return nil, txn.Classify("request document", err)
	}
	s.invalidateStats(ctx)
	return req, nil
}

// AttachDocument records the document the requester uploaded for a pending
// request.
func (s *Service) AttachDocument(ctx context.Context, actor auth.Actor, requestID, path string) (*models.ApprovalRequest, error) {
	if err := auth.Require(actor, models.RoleAgency); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, apperr.NewValidationError("documentPath", "Document path is required")
	}

	var req *models.ApprovalRequest
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		cur, err := tx.GetApproval(ctx, requestID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && cur.UserID != actor.UserID) {
			return apperr.NewNotFoundError("ApprovalRequest", requestID)
		}
		if err != nil {
			return err
		}
		if cur.Status != models.ApprovalStatusPending {
			return apperr.NewConflictError(apperr.ErrCodeRequestAlreadyReviewed,
				"Request has already been reviewed", "id: "+requestID)
		}

		next := *cur
		next.DocumentPath = path
		next.UpdatedAt = s.now()
		ok, err := tx.UpdateApprovalIfStatus(ctx, &next, models.ApprovalStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewStaleStateError("ApprovalRequest", requestID)
		}

		admins, err := tx.ListUserIDsByRole(ctx, models.RoleAdmin)
		if err != nil {
			return err
		}
		fx.Notify.AddEach(admins, models.CategoryDocumentAttached,
			"Document attached", "The requested document was attached to an edit request.", Link(cur.ID))
		fx.Activity.Record(actor.UserID, models.ActionDocumentAttached, models.EntityApprovalRequest, cur.ID,
			map[string]interface{}{"documentPath": path})
		req = &next
		return nil
	})
	if err != nil {
		return nil, txn.Classify("attach document", err)
	}
	s.invalidateStats(ctx)
	return req, nil
}

// Stats returns the admin dashboard counters. A cache failure falls through
// to the store.
func (s *Service) Stats(ctx context.Context, actor auth.Actor) (models.ApprovalStats, error) {
	if err := auth.Require(actor, models.RoleAdmin); err != nil {
		return models.ApprovalStats{}, err
	}

	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		cached, g, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			metrics.StatsCache.WithLabelValues("error").Inc()
			s.logger.Warn("approval stats cache read failed", map[string]interface{}{"error": err})
		case ok:
			metrics.StatsCache.WithLabelValues("hit").Inc()
			return *cached, nil
		default:
			metrics.StatsCache.WithLabelValues("miss").Inc()
			gen, cacheable = g, true
		}
	}

	var stats models.ApprovalStats
	err := s.runner.Run(ctx, func(tx store.Tx, _ *txn.Effects) error {
		var err error
		stats, err = tx.CountApprovals(ctx)
		return err
	})
	if err != nil {
		return models.ApprovalStats{}, txn.Classify("approval stats", err)
	}

	// The count is stored under the generation seen before it was read; an
	// invalidation in between moves readers to a newer generation.
	if cacheable {
		if err := s.cache.Set(ctx, gen, stats); err != nil {
			s.logger.Warn("approval stats cache write failed", map[string]interface{}{"error": err})
		}
	}
	return stats, nil
}

func (s *Service) loadPending(ctx context.Context, tx store.Approvals, requestID string) (*models.ApprovalRequest, error) {
	cur, err := tx.GetApproval(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NewNotFoundError("ApprovalRequest", requestID)
	}
	if err != nil {
		return nil, err
	}
	if cur.Status != models.ApprovalStatusPending {
		return nil, apperr.NewConflictError(apperr.ErrCodeRequestAlreadyReviewed,
			"Request has already been reviewed", "id: "+requestID)
	}
	return cur, nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("approval stats cache invalidation failed", map[string]interface{}{"error": err})
	}
}
