// internal/services/forms/service.go

// Package forms owns the DRAFT/SUBMITTED lifecycle shared by every form
// type. A submitted form is locked; only an approved edit request reopens it.
package forms

import (
	"context"
	"errors"
	"fmt"
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

// PayloadValidator checks a form payload. *validation.PayloadValidator
// satisfies it.
type PayloadValidator interface {
	Validate(formType models.FormType, payload map[string]interface{}) error
}

type Service struct {
	runner    *txn.Runner
	validator PayloadValidator
	logger    logger.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(runner *txn.Runner, validator PayloadValidator, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		runner:    runner,
		validator: validator,
		logger:    log.WithFields(map[string]interface{}{"component": "forms"}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save creates a form when in.FormID is empty and otherwise moves the stored
// form to in.TargetStatus with the new payload.
func (s *Service) Save(ctx context.Context, actor auth.Actor, in SaveInput) (*SaveOutput, error) {
	if err := auth.Require(actor, models.RoleAgency); err != nil {
		return nil, err
	}
	if err := s.validateSave(in); err != nil {
		return nil, err
	}

	var out *SaveOutput
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		var err error
		if in.FormID == "" {
			out, err = s.create(ctx, tx, fx, actor, in)
		} else {
			out, err = s.update(ctx, tx, fx, actor, in)
		}
		return err
	})
	if err != nil {
		return nil, txn.Classify("save form", err)
	}

	s.logger.Info("form saved", map[string]interface{}{
		"formId":      out.FormID,
		"formType":    string(in.FormType),
		"status":      string(out.Status),
		"resubmitted": out.Resubmitted,
	})
	return out, nil
}

func (s *Service) validateSave(in SaveInput) error {
	if !in.FormType.Valid() {
		return apperr.NewValidationError("formType", fmt.Sprintf("Unknown form type %q", in.FormType))
	}
	if !in.TargetStatus.Valid() {
		return apperr.NewValidationError("targetStatus", "Target status must be DRAFT or SUBMITTED")
	}
	if in.FormID == "" {
		if strings.TrimSpace(in.Period) == "" {
			return apperr.NewValidationError("period", "Period is required")
		}
		if _, err := time.Parse(PeriodLayout, in.Period); err != nil {
			return apperr.NewValidationError("period", "Period must be formatted as YYYY-MM")
		}
	}
	if s.validator != nil {
		return s.validator.Validate(in.FormType, in.Payload)
	}
	if len(in.Payload) == 0 {
		return apperr.NewValidationError("payload", "Payload is required")
	}
	return nil
}

func (s *Service) create(ctx context.Context, tx store.Tx, fx *txn.Effects, actor auth.Actor, in SaveInput) (*SaveOutput, error) {
	now := s.now()
	f := &models.FormSubmission{
		ID:        uuid.New().String(),
		OwnerID:   actor.UserID,
		FormType:  in.FormType,
		Period:    in.Period,
		Status:    in.TargetStatus,
		Payload:   in.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if f.Status == models.FormStatusSubmitted {
		f.FirstSubmittedAt = &now
	}

	if err := tx.CreateForm(ctx, f); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.NewConflictError(apperr.ErrCodeDuplicateForm,
				"A form of this type already exists for the period",
				fmt.Sprintf("formType: %s, period: %s", in.FormType, in.Period))
		}
		return nil, err
	}

	action := models.ActionFormCreated
	if f.Status == models.FormStatusSubmitted {
		action = models.ActionFormSubmitted
		s.notifySubmitted(fx, f)
	}
	fx.Activity.Record(actor.UserID, action, models.EntityForm, f.ID, activity.FormDetails(nil, f))
	fx.Transition(models.EntityForm, "NEW", string(f.Status))

	return &SaveOutput{FormID: f.ID, Status: f.Status}, nil
}

func (s *Service) update(ctx context.Context, tx store.Tx, fx *txn.Effects, actor auth.Actor, in SaveInput) (*SaveOutput, error) {
	cur, err := s.loadOwned(ctx, tx, in.FormType, in.FormID, actor.UserID)
	if err != nil {
		return nil, err
	}

	from, to := cur.Status, in.TargetStatus
	if from == models.FormStatusSubmitted && to == models.FormStatusDraft {
		return nil, apperr.NewConflictError(apperr.ErrCodeFormLocked,
			"A submitted form cannot be moved back to draft", "id: "+cur.ID)
	}

	now := s.now()
	next := *cur
	next.Status = to
	next.Payload = in.Payload
	next.UpdatedAt = now

	var consumed []string
	if to == models.FormStatusSubmitted {
		consumed, err = tx.ConsumeApprovals(ctx, cur.FormType, cur.ID, now, models.ConsumedNote)
		if err != nil {
			return nil, err
		}
		if from == models.FormStatusSubmitted && len(consumed) == 0 {
			return nil, apperr.NewConflictError(apperr.ErrCodeFormLocked,
				"Form is locked; request an edit before changing it", "id: "+cur.ID)
		}
		if next.FirstSubmittedAt == nil {
			next.FirstSubmittedAt = &now
		}
	}

	ok, err := tx.UpdateFormIfStatus(ctx, &next, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NewStaleStateError("Form", cur.ID)
	}

	resubmitted := len(consumed) > 0
	action := models.ActionFormSaved
	switch {
	case resubmitted:
		action = models.ActionFormResubmitted
	case to == models.FormStatusSubmitted:
		action = models.ActionFormSubmitted
	}

	extra := map[string]interface{}{"formType": string(cur.FormType)}
	if resubmitted {
		extra["consumedRequests"] = consumed
	}
	fx.Activity.Record(actor.UserID, action, models.EntityForm, cur.ID,
		activity.Change(cur.Snapshot(), next.Snapshot(), extra))
	if from != to {
		fx.Transition(models.EntityForm, string(from), string(to))
	}
	if to == models.FormStatusSubmitted && cur.FirstSubmittedAt == nil {
		s.notifySubmitted(fx, &next)
	}

	return &SaveOutput{
		FormID:           cur.ID,
		Status:           to,
		Resubmitted:      resubmitted,
		ConsumedRequests: consumed,
	}, nil
}

func (s *Service) notifySubmitted(fx *txn.Effects, f *models.FormSubmission) {
	fx.Notify.Add(f.OwnerID, models.CategoryFormSubmitted,
		"Form submitted",
		fmt.Sprintf("Your %s form for %s has been submitted.", humanize(f.FormType), f.Period),
		Link(f.FormType, f.ID))
}

// Delete removes a never-submitted draft form owned by the actor.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, formType models.FormType, formID string) error {
	if err := auth.Require(actor, models.RoleAgency); err != nil {
		return err
	}
	if !formType.Valid() {
		return apperr.NewValidationError("formType", fmt.Sprintf("Unknown form type %q", formType))
	}

	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		cur, err := s.loadOwned(ctx, tx, formType, formID, actor.UserID)
		if err != nil {
			return err
		}
		if cur.Status != models.FormStatusDraft {
			return apperr.NewConflictError(apperr.ErrCodeFormLocked,
				"Only draft forms can be deleted", "id: "+formID)
		}
		// A draft reopened by an approved edit was filed once and stays on record.
		if cur.FirstSubmittedAt != nil {
			return apperr.NewConflictError(apperr.ErrCodeFormLocked,
				"A form that has been submitted cannot be deleted", "id: "+formID)
		}
		ok, err := tx.DeleteFormIfStatus(ctx, formType, formID, models.FormStatusDraft)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewStaleStateError("Form", formID)
		}
		fx.Activity.Record(actor.UserID, models.ActionFormDeleted, models.EntityForm, formID,
			activity.FormDetails(cur, nil))
		return nil
	})
	return txn.Classify("delete form", err)
}

// Get returns a form to its owner or to an admin.
func (s *Service) Get(ctx context.Context, actor auth.Actor, formType models.FormType, formID string) (*models.FormSubmission, error) {
	if err := auth.Require(actor, models.RoleAgency, models.RoleAdmin); err != nil {
		return nil, err
	}
	if !formType.Valid() {
		return nil, apperr.NewValidationError("formType", fmt.Sprintf("Unknown form type %q", formType))
	}

	var f *models.FormSubmission
	err := s.runner.Run(ctx, func(tx store.Tx, _ *txn.Effects) error {
		var err error
		if actor.IsAdmin() {
			f, err = tx.GetForm(ctx, formType, formID)
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NewNotFoundError("Form", formID)
			}
			return err
		}
		f, err = s.loadOwned(ctx, tx, formType, formID, actor.UserID)
		return err
	})
	if err != nil {
		return nil, txn.Classify("get form", err)
	}
	return f, nil
}

// ReopenForEdit moves a submitted form back to DRAFT inside the caller's
// transaction. It is the only path from SUBMITTED to DRAFT and is used when
// an edit request is approved. A form that is already a draft is left as is.
func (s *Service) ReopenForEdit(ctx context.Context, tx store.Tx, fx *txn.Effects, formType models.FormType, formID, ownerID, reviewerID string) error {
	cur, err := s.loadOwned(ctx, tx, formType, formID, ownerID)
	if err != nil {
		return err
	}
	if cur.Status == models.FormStatusDraft {
		return nil
	}

	next := *cur
	next.Status = models.FormStatusDraft
	next.UpdatedAt = s.now()

	ok, err := tx.UpdateFormIfStatus(ctx, &next, models.FormStatusSubmitted)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NewStaleStateError("Form", formID)
	}

	fx.Activity.Record(reviewerID, models.ActionFormReopened, models.EntityForm, formID,
		activity.FormDetails(cur, &next))
	fx.Transition(models.EntityForm, string(models.FormStatusSubmitted), string(models.FormStatusDraft))
	return nil
}

// loadOwned hides forms of other owners behind NotFound.
func (s *Service) loadOwned(ctx context.Context, tx store.Forms, formType models.FormType, formID, ownerID string) (*models.FormSubmission, error) {
	f, err := tx.GetForm(ctx, formType, formID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && f.OwnerID != ownerID) {
		return nil, apperr.NewNotFoundError("Form", formID)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func humanize(t models.FormType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}
