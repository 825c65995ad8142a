package escalation

import (
	"context"
	"testing"
	"time"

	"compliance-workflow/internal/common/auth"
	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/services/notify"
	"compliance-workflow/internal/services/txn"
	"compliance-workflow/internal/store"
	"compliance-workflow/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type recordingNotifier struct {
	msgs []notify.Message
}

func (r *recordingNotifier) NotifyBatch(ctx context.Context, msgs []notify.Message) {
	r.msgs = append(r.msgs, msgs...)
}

func (r *recordingNotifier) to(recipient string, category models.NotificationCategory) int {
	n := 0
	for _, m := range r.msgs {
		if m.RecipientID == recipient && m.Category == category {
			n++
		}
	}
	return n
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

var (
	admin   = auth.Actor{UserID: "admin-1", Role: models.RoleAdmin}
	auditor = auth.Actor{UserID: "auditor-1", Role: models.RoleAuditor}
	agency  = auth.Actor{UserID: "agency-1", Role: models.RoleAgency}
	rival   = auth.Actor{UserID: "agency-2", Role: models.RoleAgency}
	start   = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	store    *memory.Store
	notifier *recordingNotifier
	clock    *clock
	runner   *txn.Runner
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	st.AddUser(models.Contact{UserID: admin.UserID, Name: "Admin", Role: models.RoleAdmin})
	st.AddUser(models.Contact{UserID: "admin-2", Name: "Second Admin", Role: models.RoleAdmin})
	st.AddUser(models.Contact{UserID: agency.UserID, Name: "Agency One", Role: models.RoleAgency})
	st.AddUser(models.Contact{UserID: rival.UserID, Name: "Agency Two", Role: models.RoleAgency})
	st.AddUser(models.Contact{UserID: auditor.UserID, Name: "Auditor", Role: models.RoleAuditor})
	st.AddAuditorToFirm(auditor.UserID, "firm-1")
	st.AssignAgency("firm-1", agency.UserID, start)
	st.AssignAgency("firm-1", rival.UserID, start)

	n := &recordingNotifier{}
	c := &clock{now: start}
	runner := txn.NewRunner(st, nil, n, logger.NewNoOpLogger(), txn.WithClock(c.Now))
	return &fixture{
		store:    st,
		notifier: n,
		clock:    c,
		runner:   runner,
		svc:      NewService(&Config{ResponseWindow: 72 * time.Hour}, runner, logger.NewTestLogger(t), WithClock(c.Now)),
	}
}

// pendingObservation creates an audit of agencyID with one HIGH observation.
func (f *fixture) pendingObservation(t *testing.T, agencyID, number string, evidence bool) *models.Observation {
	t.Helper()
	ctx := context.Background()
	audit, err := f.svc.CreateAudit(ctx, auditor, CreateAuditInput{AgencyID: agencyID})
	require.NoError(t, err)
	obs, err := f.svc.AddObservation(ctx, auditor, AddObservationInput{
		AuditID:           audit.ID,
		ObservationNumber: number,
		Severity:          models.SeverityHigh,
		Description:       "Recovery calls outside permitted hours",
		EvidenceRequired:  evidence,
	})
	require.NoError(t, err)
	return obs
}

func (f *fixture) issue(t *testing.T, ids ...string) *models.ShowCauseNotice {
	t.Helper()
	notice, err := f.svc.IssueNotice(context.Background(), admin, IssueNoticeInput{
		ObservationIDs:  ids,
		Subject:         "Audit findings",
		Details:         "Respond to each observation",
		ResponseDueDate: f.clock.now.Add(72 * time.Hour),
	})
	require.NoError(t, err)
	return notice
}

func (f *fixture) observation(t *testing.T, id string) *models.Observation {
	t.Helper()
	var out *models.Observation
	require.NoError(t, f.store.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.GetObservation(context.Background(), id)
		return err
	}))
	return out
}

func (f *fixture) notice(t *testing.T, id string) *models.ShowCauseNotice {
	t.Helper()
	var out *models.ShowCauseNotice
	require.NoError(t, f.store.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.GetNotice(context.Background(), id)
		return err
	}))
	return out
}

func (f *fixture) actions(t *testing.T, entityType, id string) []string {
	t.Helper()
	var out []string
	require.NoError(t, f.store.RunInTx(context.Background(), func(tx store.Tx) error {
		logs, err := tx.ListActivity(context.Background(), entityType, id)
		for _, l := range logs {
			out = append(out, l.Action)
		}
		return err
	}))
	return out
}

func (f *fixture) autoAccept(t *testing.T, obs *models.Observation) bool {
	t.Helper()
	var accepted bool
	require.NoError(t, f.runner.Run(context.Background(), func(tx store.Tx, fx *txn.Effects) error {
		cur, err := tx.GetObservation(context.Background(), obs.ID)
		if err != nil {
			return err
		}
		accepted, err = f.svc.AutoAccept(context.Background(), tx, fx, cur, f.clock.now)
		return err
	}))
	return accepted
}

// ==========================
// Scenario Tests
// ==========================

func TestScenarioA_AcceptWithinDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	notice := f.issue(t, obs.ID)
	assert.Equal(t, models.NoticeStatusIssued, notice.Status)
	assert.Equal(t, agency.UserID, notice.ReceivedByAgencyID)
	assert.Equal(t, 1, f.notifier.to(agency.UserID, models.CategoryShowCauseNotice))

	issued := f.observation(t, obs.ID)
	assert.Equal(t, models.ObservationSentToAgency, issued.Status)
	assert.Equal(t, notice.ID, issued.ShowCauseNoticeID)

	f.clock.now = start.Add(24 * time.Hour)
	got, err := f.svc.Respond(ctx, agency, RespondInput{ObservationID: obs.ID, Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, models.ObservationAgencyAccepted, got.Status)
	require.NotNil(t, got.AgencyAccepted)
	assert.True(t, *got.AgencyAccepted)

	assert.Equal(t, models.NoticeStatusResponded, f.notice(t, notice.ID).Status)
	assert.Equal(t, 1, f.notifier.to(admin.UserID, models.CategoryNoticeResponded))
	assert.Equal(t, 1, f.notifier.to("admin-2", models.CategoryNoticeResponded))
	assert.Equal(t, []string{models.ActionNoticeIssued, models.ActionNoticeResponded},
		f.actions(t, models.EntityNotice, notice.ID))
}

func TestScenarioB_AutoAcceptAfterDeadline(t *testing.T) {
	f := newFixture(t)

	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	notice := f.issue(t, obs.ID)

	f.clock.now = start.Add(73 * time.Hour)
	assert.True(t, f.autoAccept(t, obs))

	got := f.observation(t, obs.ID)
	assert.Equal(t, models.ObservationAutoAccepted, got.Status)
	require.NotNil(t, got.AgencyAccepted)
	assert.True(t, *got.AgencyAccepted)
	assert.Equal(t, models.AutoAcceptNote, got.AgencyResponse)
	assert.Equal(t, models.NoticeStatusResponded, f.notice(t, notice.ID).Status)

	assert.Equal(t, 1, f.notifier.to(agency.UserID, models.CategoryObservationAutoAccepted))
	assert.Equal(t, 1, f.notifier.to(admin.UserID, models.CategoryObservationAutoAccepted))

	// A second pass changes nothing.
	assert.False(t, f.autoAccept(t, obs))
	assert.Equal(t, []string{models.ActionNoticeIssued, models.ActionObservationAutoAccepted},
		f.actions(t, models.EntityObservation, obs.ID)[1:])
}

func TestScenarioC_PenaltyClosesObservationOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	notice := f.issue(t, obs.ID)
	_, err := f.svc.Respond(ctx, agency, RespondInput{ObservationID: obs.ID, Accepted: true})
	require.NoError(t, err)

	in := AssignPenaltyInput{ObservationID: obs.ID, Amount: 500, Reason: "Repeat violation", DeductionMonth: "2024-07"}
	penalty, err := f.svc.AssignPenalty(ctx, admin, in)
	require.NoError(t, err)
	assert.Equal(t, models.PenaltyStatusSubmitted, penalty.Status)
	assert.Equal(t, agency.UserID, penalty.AgencyID)
	assert.Equal(t, 500.0, penalty.PenaltyAmount)
	assert.Equal(t, f.notice(t, notice.ID).ReferenceNo(), penalty.NoticeRefNo)

	got := f.observation(t, obs.ID)
	assert.Equal(t, models.ObservationClosed, got.Status)
	assert.Equal(t, penalty.ID, got.PenaltyID)
	assert.Equal(t, 1, f.notifier.to(agency.UserID, models.CategoryPenaltyAssigned))

	_, err = f.svc.AssignPenalty(ctx, admin, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, apperr.ErrCodePenaltyExists, apperr.CodeOf(err))
}

func TestScenarioE_BulkIssuePartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o1 := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	o2 := f.pendingObservation(t, rival.UserID, "OBS-1", false)

	res, err := f.svc.IssueBulk(ctx, admin, BulkIssueInput{
		Subject:         "Quarterly findings",
		ResponseDueDate: start.Add(72 * time.Hour),
		Targets: []BulkTarget{
			{AgencyID: agency.UserID, ObservationIDs: []string{o1.ID}},
			{AgencyID: "agency-3"},
			{AgencyID: rival.UserID, ObservationIDs: []string{o2.ID}},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Issued, 2)
	require.Len(t, res.Failures, 1)

	assert.Equal(t, "agency-3", res.Failures[0].AgencyID)
	assert.Equal(t, apperr.KindValidation, res.Failures[0].Kind)
	assert.Equal(t, agency.UserID, res.Issued[0].ReceivedByAgencyID)
	assert.Equal(t, rival.UserID, res.Issued[1].ReceivedByAgencyID)
	assert.Equal(t, models.ObservationSentToAgency, f.observation(t, o2.ID).Status)
}

// ==========================
// Audit Tests
// ==========================

func TestCreateAudit_RequiresAssignment(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAudit(context.Background(), auditor, CreateAuditInput{AgencyID: "agency-9"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, apperr.ErrCodeNotAssigned, apperr.CodeOf(err))

	_, err = f.svc.CreateAudit(context.Background(), admin, CreateAuditInput{AgencyID: agency.UserID})
	assert.Equal(t, apperr.ErrCodeRoleDenied, apperr.CodeOf(err))

	loner := auth.Actor{UserID: "auditor-9", Role: models.RoleAuditor}
	_, err = f.svc.CreateAudit(context.Background(), loner, CreateAuditInput{AgencyID: agency.UserID})
	assert.Equal(t, apperr.ErrCodeNotAssigned, apperr.CodeOf(err))
}

func TestAddObservation_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)

	t.Run("duplicate number", func(t *testing.T) {
		_, err := f.svc.AddObservation(ctx, auditor, AddObservationInput{
			AuditID: obs.AuditID, ObservationNumber: "OBS-1", Severity: models.SeverityLow, Description: "x",
		})
		assert.Equal(t, apperr.ErrCodeDuplicateObservation, apperr.CodeOf(err))
	})

	t.Run("invalid severity", func(t *testing.T) {
		_, err := f.svc.AddObservation(ctx, auditor, AddObservationInput{
			AuditID: obs.AuditID, ObservationNumber: "OBS-2", Severity: "SEVERE", Description: "x",
		})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("other firm", func(t *testing.T) {
		f.store.AddAuditorToFirm("auditor-2", "firm-2")
		outsider := auth.Actor{UserID: "auditor-2", Role: models.RoleAuditor}
		_, err := f.svc.AddObservation(ctx, outsider, AddObservationInput{
			AuditID: obs.AuditID, ObservationNumber: "OBS-2", Severity: models.SeverityLow, Description: "x",
		})
		assert.Equal(t, apperr.ErrCodeNotOwner, apperr.CodeOf(err))
	})

	t.Run("completed audit", func(t *testing.T) {
		sc, err := f.svc.CompleteAudit(ctx, auditor, obs.AuditID, ScorecardInput{
			Scores: map[string]float64{"conduct": 7.5}, OverallScore: 7.5, Grade: "B",
		})
		require.NoError(t, err)
		assert.Equal(t, "B", sc.Grade)

		_, err = f.svc.AddObservation(ctx, auditor, AddObservationInput{
			AuditID: obs.AuditID, ObservationNumber: "OBS-2", Severity: models.SeverityLow, Description: "x",
		})
		assert.Equal(t, apperr.ErrCodeAuditCompleted, apperr.CodeOf(err))

		_, err = f.svc.CompleteAudit(ctx, auditor, obs.AuditID, ScorecardInput{OverallScore: 8})
		assert.Equal(t, apperr.ErrCodeAuditCompleted, apperr.CodeOf(err))
	})
}

func TestAssignAgencies_ReplacesActiveSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.AssignAgencies(ctx, admin, "firm-1", []string{"agency-3", " agency-3 ", agency.UserID})
	require.NoError(t, err)

	active := activeAgencies(out)
	assert.Equal(t, []string{agency.UserID, "agency-3"}, active)

	_, err = f.svc.CreateAudit(ctx, auditor, CreateAuditInput{AgencyID: rival.UserID})
	assert.Equal(t, apperr.ErrCodeNotAssigned, apperr.CodeOf(err))
	assert.Equal(t, []string{models.ActionAssignmentsReplaced}, f.actions(t, models.EntityAssignment, "firm-1"))
}

// ==========================
// Notice and Response Tests
// ==========================

func TestIssueNotice_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o1 := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	o2 := f.pendingObservation(t, rival.UserID, "OBS-1", false)

	t.Run("mixed agencies", func(t *testing.T) {
		_, err := f.svc.IssueNotice(ctx, admin, IssueNoticeInput{ObservationIDs: []string{o1.ID, o2.ID}, Subject: "s"})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Equal(t, models.ObservationPendingAdminReview, f.observation(t, o1.ID).Status)
	})

	t.Run("past due date", func(t *testing.T) {
		_, err := f.svc.IssueNotice(ctx, admin, IssueNoticeInput{
			ObservationIDs: []string{o1.ID}, Subject: "s", ResponseDueDate: start.Add(-time.Hour),
		})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("default window", func(t *testing.T) {
		notice, err := f.svc.IssueNotice(ctx, admin, IssueNoticeInput{ObservationIDs: []string{o1.ID}, Subject: "s"})
		require.NoError(t, err)
		assert.Equal(t, start.Add(72*time.Hour), notice.ResponseDueDate)
	})

	t.Run("already issued", func(t *testing.T) {
		_, err := f.svc.IssueNotice(ctx, admin, IssueNoticeInput{ObservationIDs: []string{o1.ID}, Subject: "s"})
		assert.Equal(t, apperr.ErrCodeObservationNotPending, apperr.CodeOf(err))
	})

	t.Run("agency role", func(t *testing.T) {
		_, err := f.svc.IssueNotice(ctx, agency, IssueNoticeInput{ObservationIDs: []string{o2.ID}, Subject: "s"})
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	})
}

func TestRespond_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.pendingObservation(t, agency.UserID, "OBS-1", true)
	f.issue(t, obs.ID)

	t.Run("other agency", func(t *testing.T) {
		_, err := f.svc.Respond(ctx, rival, RespondInput{ObservationID: obs.ID, Accepted: true})
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	})

	t.Run("dispute needs justification", func(t *testing.T) {
		_, err := f.svc.Respond(ctx, agency, RespondInput{ObservationID: obs.ID, EvidencePath: "docs/e.pdf"})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("dispute needs evidence", func(t *testing.T) {
		_, err := f.svc.Respond(ctx, agency, RespondInput{ObservationID: obs.ID, Justification: "Calls were consented"})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("dispute then respond again", func(t *testing.T) {
		got, err := f.svc.Respond(ctx, agency, RespondInput{
			ObservationID: obs.ID, Justification: "Calls were consented", EvidencePath: "docs/e.pdf",
		})
		require.NoError(t, err)
		assert.Equal(t, models.ObservationAgencyDisputed, got.Status)
		assert.Equal(t, "docs/e.pdf", got.EvidencePath)

		_, err = f.svc.Respond(ctx, agency, RespondInput{ObservationID: obs.ID, Accepted: true})
		assert.ErrorIs(t, err, apperr.ErrConflict)
		assert.Equal(t, apperr.ErrCodeObservationNotOpen, apperr.CodeOf(err))
	})
}

func TestRespond_AfterDeadline(t *testing.T) {
	f := newFixture(t)
	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	f.issue(t, obs.ID)

	f.clock.now = start.Add(72*time.Hour + time.Second)
	_, err := f.svc.Respond(context.Background(), agency, RespondInput{ObservationID: obs.ID, Accepted: true})
	assert.Equal(t, apperr.ErrCodeDeadlinePassed, apperr.CodeOf(err))
	assert.Equal(t, models.ObservationSentToAgency, f.observation(t, obs.ID).Status)
}

func TestRespond_AcceptsLegacyAwaitingStatus(t *testing.T) {
	f := newFixture(t)
	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	f.issue(t, obs.ID)

	staged := *f.observation(t, obs.ID)
	staged.Status = models.ObservationAwaitingAgencyResponse
	f.store.PutObservation(staged)

	got, err := f.svc.Respond(context.Background(), agency, RespondInput{ObservationID: obs.ID, Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, models.ObservationAgencyAccepted, got.Status)
}

func TestNoticeStaysIssuedUntilLastObservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	audit, err := f.svc.CreateAudit(ctx, auditor, CreateAuditInput{AgencyID: agency.UserID})
	require.NoError(t, err)
	var ids []string
	for _, n := range []string{"OBS-1", "OBS-2"} {
		o, err := f.svc.AddObservation(ctx, auditor, AddObservationInput{
			AuditID: audit.ID, ObservationNumber: n, Severity: models.SeverityMedium, Description: "d",
		})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	notice := f.issue(t, ids...)

	_, err = f.svc.Respond(ctx, agency, RespondInput{ObservationID: ids[0], Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, models.NoticeStatusIssued, f.notice(t, notice.ID).Status)
	assert.Zero(t, f.notifier.to(admin.UserID, models.CategoryNoticeResponded))

	_, err = f.svc.Respond(ctx, agency, RespondInput{ObservationID: ids[1], Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, models.NoticeStatusResponded, f.notice(t, notice.ID).Status)
	assert.Equal(t, 1, f.notifier.to(admin.UserID, models.CategoryNoticeResponded))
}

func TestCloseNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	notice := f.issue(t, obs.ID)

	_, err := f.svc.CloseNotice(ctx, admin, notice.ID, "premature")
	assert.Equal(t, apperr.ErrCodeNoticeOpen, apperr.CodeOf(err))

	_, err = f.svc.Respond(ctx, agency, RespondInput{ObservationID: obs.ID, Accepted: true})
	require.NoError(t, err)

	closed, err := f.svc.CloseNotice(ctx, admin, notice.ID, "Accepted, no penalty")
	require.NoError(t, err)
	assert.Equal(t, models.NoticeStatusClosed, closed.Status)
	assert.Equal(t, "Accepted, no penalty", closed.AdminRemarks)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, 1, f.notifier.to(agency.UserID, models.CategoryNoticeClosed))

	_, err = f.svc.CloseNotice(ctx, admin, notice.ID, "again")
	assert.Equal(t, apperr.ErrCodeNoticeClosed, apperr.CodeOf(err))

	_, err = f.svc.CloseNotice(ctx, admin, "missing", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// ==========================
// Penalty Tests
// ==========================

func TestAssignPenalty_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)

	_, err := f.svc.AssignPenalty(ctx, admin, AssignPenaltyInput{ObservationID: obs.ID, Amount: 100, Reason: "r", DeductionMonth: "2024-07"})
	assert.Equal(t, apperr.ErrCodeObservationNotResolved, apperr.CodeOf(err))

	_, err = f.svc.AssignPenalty(ctx, admin, AssignPenaltyInput{ObservationID: obs.ID, Amount: 0, Reason: "r", DeductionMonth: "2024-07"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.AssignPenalty(ctx, admin, AssignPenaltyInput{ObservationID: obs.ID, Amount: 10, Reason: "r", DeductionMonth: "July"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPenaltyProgression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	f.issue(t, obs.ID)
	_, err := f.svc.Respond(ctx, agency, RespondInput{ObservationID: obs.ID, Accepted: true})
	require.NoError(t, err)
	penalty, err := f.svc.AssignPenalty(ctx, admin, AssignPenaltyInput{
		ObservationID: obs.ID, Amount: 250, Reason: "r", DeductionMonth: "2024-07",
	})
	require.NoError(t, err)

	_, err = f.svc.PayPenalty(ctx, agency, penalty.ID)
	assert.Equal(t, apperr.ErrCodePenaltyTransition, apperr.CodeOf(err))

	_, err = f.svc.AcknowledgePenalty(ctx, rival, penalty.ID)
	assert.Equal(t, apperr.ErrCodeNotOwner, apperr.CodeOf(err))

	acked, err := f.svc.AcknowledgePenalty(ctx, agency, penalty.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PenaltyStatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)

	paid, err := f.svc.PayPenalty(ctx, agency, penalty.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PenaltyStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, 2, f.notifier.to(admin.UserID, models.CategoryPenaltyUpdated))

	assert.Equal(t,
		[]string{models.ActionPenaltyAssigned, models.ActionPenaltyAcknowledged, models.ActionPenaltyPaid},
		f.actions(t, models.EntityPenalty, penalty.ID))
}

func TestOperationRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := f.pendingObservation(t, agency.UserID, "OBS-1", false)
	f.notifier.msgs = nil

	f.store.SetFault(func(op string) error {
		if op == "IssueObservation" {
			return assert.AnError
		}
		return nil
	})
	_, err := f.svc.IssueNotice(ctx, admin, IssueNoticeInput{ObservationIDs: []string{obs.ID}, Subject: "s"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))
	assert.Empty(t, f.notifier.msgs)

	f.store.SetFault(nil)
	assert.Equal(t, models.ObservationPendingAdminReview, f.observation(t, obs.ID).Status)
}
