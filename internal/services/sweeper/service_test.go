package sweeper

import (
	"context"
	"sort"
	"testing"
	"time"

	"compliance-workflow/internal/common/auth"
	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/services/escalation"
	"compliance-workflow/internal/services/notify"
	"compliance-workflow/internal/services/txn"
	"compliance-workflow/internal/store"
	"compliance-workflow/internal/store/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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

var (
	admin   = auth.Actor{UserID: "admin-1", Role: models.RoleAdmin}
	auditor = auth.Actor{UserID: "auditor-1", Role: models.RoleAuditor}
	agency  = auth.Actor{UserID: "agency-1", Role: models.RoleAgency}
	issued  = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	dueDate = issued.Add(72 * time.Hour)
)

type fixture struct {
	store      *memory.Store
	notifier   *recordingNotifier
	runner     *txn.Runner
	escalation *escalation.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	st.AddUser(models.Contact{UserID: admin.UserID, Role: models.RoleAdmin})
	st.AddUser(models.Contact{UserID: agency.UserID, Role: models.RoleAgency})
	st.AddAuditorToFirm(auditor.UserID, "firm-1")
	st.AssignAgency("firm-1", agency.UserID, issued)

	n := &recordingNotifier{}
	clock := func() time.Time { return issued }
	runner := txn.NewRunner(st, nil, n, logger.NewNoOpLogger(), txn.WithClock(clock))
	return &fixture{
		store:      st,
		notifier:   n,
		runner:     runner,
		escalation: escalation.NewService(nil, runner, logger.NewNoOpLogger(), escalation.WithClock(clock)),
	}
}

// issueObservations creates one audit with n observations and sends them to
// the agency in a single notice due at dueDate.
func (f *fixture) issueObservations(t *testing.T, n int) (string, []string) {
	t.Helper()
	ctx := context.Background()
	audit, err := f.escalation.CreateAudit(ctx, auditor, escalation.CreateAuditInput{AgencyID: agency.UserID})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < n; i++ {
		o, err := f.escalation.AddObservation(ctx, auditor, escalation.AddObservationInput{
			AuditID:           audit.ID,
			ObservationNumber: string(rune('A' + i)),
			Severity:          models.SeverityMedium,
			Description:       "Missing call recordings",
		})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	notice, err := f.escalation.IssueNotice(ctx, admin, escalation.IssueNoticeInput{
		ObservationIDs: ids, Subject: "Findings", ResponseDueDate: dueDate,
	})
	require.NoError(t, err)
	return notice.ID, ids
}

func (f *fixture) sweeper(t *testing.T, cfg *Config, opts ...Option) *Service {
	t.Helper()
	if cfg == nil {
		cfg = LoadConfig()
	}
	return NewService(cfg, f.runner, f.escalation, logger.NewTestLogger(t), opts...)
}

func (f *fixture) status(t *testing.T, id string) models.ObservationStatus {
	t.Helper()
	var out models.ObservationStatus
	require.NoError(t, f.store.RunInTx(context.Background(), func(tx store.Tx) error {
		o, err := tx.GetObservation(context.Background(), id)
		if err == nil {
			out = o.Status
		}
		return err
	}))
	return out
}

func (f *fixture) noticeStatus(t *testing.T, id string) models.NoticeStatus {
	t.Helper()
	var out models.NoticeStatus
	require.NoError(t, f.store.RunInTx(context.Background(), func(tx store.Tx) error {
		n, err := tx.GetNotice(context.Background(), id)
		if err == nil {
			out = n.Status
		}
		return err
	}))
	return out
}

// ==========================
// Core Functionality Tests
// ==========================

func TestSweep_AcceptsOverdueObservations(t *testing.T) {
	f := newFixture(t)
	noticeID, ids := f.issueObservations(t, 2)
	s := f.sweeper(t, nil)

	res, err := s.SweepOverdueObservations(context.Background(), dueDate)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res, "a deadline equal to now is not overdue")

	res, err = s.SweepOverdueObservations(context.Background(), dueDate.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Count: 2}, res)
	for _, id := range ids {
		assert.Equal(t, models.ObservationAutoAccepted, f.status(t, id))
	}
	assert.Equal(t, models.NoticeStatusResponded, f.noticeStatus(t, noticeID))
}

func TestSweep_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.issueObservations(t, 1)
	s := f.sweeper(t, nil)
	at := dueDate.Add(time.Hour)

	first, err := s.SweepOverdueObservations(context.Background(), at)
	require.NoError(t, err)
	sent := len(f.notifier.msgs)

	second, err := s.SweepOverdueObservations(context.Background(), at)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Count)
	assert.Equal(t, SweepResult{}, second)
	assert.Len(t, f.notifier.msgs, sent)
}

func TestSweep_LeavesAnsweredObservations(t *testing.T) {
	f := newFixture(t)
	_, ids := f.issueObservations(t, 2)

	_, err := f.escalation.Respond(context.Background(), agency, escalation.RespondInput{ObservationID: ids[0], Accepted: true})
	require.NoError(t, err)

	res, err := f.sweeper(t, nil).SweepOverdueObservations(context.Background(), dueDate.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, models.ObservationAgencyAccepted, f.status(t, ids[0]))
	assert.Equal(t, models.ObservationAutoAccepted, f.status(t, ids[1]))
}

func TestSweep_WalksBatches(t *testing.T) {
	f := newFixture(t)
	_, ids := f.issueObservations(t, 3)

	cfg := LoadConfig()
	cfg.BatchSize = 2
	res, err := f.sweeper(t, cfg).SweepOverdueObservations(context.Background(), dueDate.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	for _, id := range ids {
		assert.Equal(t, models.ObservationAutoAccepted, f.status(t, id))
	}
}

// ==========================
// Error Handling Tests
// ==========================

// failingAcceptor fails AutoAccept for the listed observations and delegates
// the rest.
type failingAcceptor struct {
	next AutoAcceptor
	fail map[string]bool
}

func (a *failingAcceptor) AutoAccept(ctx context.Context, tx store.Tx, fx *txn.Effects, obs *models.Observation, now time.Time) (bool, error) {
	if a.fail[obs.ID] {
		return false, assert.AnError
	}
	return a.next.AutoAccept(ctx, tx, fx, obs, now)
}

func TestSweep_FailingRowsDoNotHideLaterRows(t *testing.T) {
	f := newFixture(t)
	_, ids := f.issueObservations(t, 3)
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	acceptor := &failingAcceptor{next: f.escalation, fail: map[string]bool{sorted[0]: true, sorted[1]: true}}
	cfg := LoadConfig()
	cfg.BatchSize = 2
	s := NewService(cfg, f.runner, acceptor, logger.NewTestLogger(t))

	for i := 0; i < 3; i++ {
		res, err := s.SweepOverdueObservations(context.Background(), dueDate.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Failed)
	}

	assert.Equal(t, models.ObservationAutoAccepted, f.status(t, sorted[2]))
	assert.Equal(t, models.ObservationSentToAgency, f.status(t, sorted[0]))
	assert.Equal(t, models.ObservationSentToAgency, f.status(t, sorted[1]))
}

func TestSweep_RowFailureIsCounted(t *testing.T) {
	f := newFixture(t)
	_, ids := f.issueObservations(t, 1)
	f.store.SetFault(func(op string) error {
		if op == "AutoAcceptObservation" {
			return assert.AnError
		}
		return nil
	})

	res, err := f.sweeper(t, nil).SweepOverdueObservations(context.Background(), dueDate.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Failed: 1}, res)

	f.store.SetFault(nil)
	assert.Equal(t, models.ObservationSentToAgency, f.status(t, ids[0]))
}

func TestSweep_ListFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.store.SetFault(func(op string) error {
		if op == "ListOverdueObservations" {
			return assert.AnError
		}
		return nil
	})

	_, err := f.sweeper(t, nil).SweepOverdueObservations(context.Background(), dueDate)
	require.Error(t, err)
	assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))
}

// ==========================
// Lock Tests
// ==========================

func TestSweep_SkipsWhileLockHeld(t *testing.T) {
	f := newFixture(t)
	_, ids := f.issueObservations(t, 1)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := LoadConfig()
	cfg.InstanceID = "node-a"
	require.NoError(t, mr.Set(cfg.LockKey, "node-b"))

	res, err := f.sweeper(t, cfg, WithLock(rdb)).SweepOverdueObservations(context.Background(), dueDate.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Contended)
	assert.Equal(t, models.ObservationSentToAgency, f.status(t, ids[0]))

	got, err := mr.Get(cfg.LockKey)
	require.NoError(t, err)
	assert.Equal(t, "node-b", got)
}

func TestSweep_ReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.issueObservations(t, 1)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := LoadConfig()
	cfg.InstanceID = "node-a"
	res, err := f.sweeper(t, cfg, WithLock(rdb)).SweepOverdueObservations(context.Background(), dueDate.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.False(t, mr.Exists(cfg.LockKey))
}

func TestSweep_RunsUnlockedWhenRedisIsDown(t *testing.T) {
	f := newFixture(t)
	_, ids := f.issueObservations(t, 1)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	res, err := f.sweeper(t, nil, WithLock(rdb)).SweepOverdueObservations(context.Background(), dueDate.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, models.ObservationAutoAccepted, f.status(t, ids[0]))
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.issueObservations(t, 1)
	cfg := LoadConfig()
	cfg.Interval = 10 * time.Millisecond

	after := dueDate.Add(time.Hour)
	s := f.sweeper(t, cfg, WithClock(func() time.Time { return after }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		var st models.ObservationStatus
		_ = f.store.RunInTx(context.Background(), func(tx store.Tx) error {
			obs, err := tx.ListOverdueObservations(context.Background(), after, nil, 0)
			if err == nil && len(obs) == 0 {
				st = models.ObservationAutoAccepted
			}
			return err
		})
		return st == models.ObservationAutoAccepted
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
