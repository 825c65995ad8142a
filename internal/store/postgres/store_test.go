package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opts = append([]Option{WithMaxElapsed(time.Second)}, opts...)
	return New(db, logger.NewNoOpLogger(), opts...), mock
}

var fixedTime = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

// ==========================
// Transaction Tests
// ==========================

func TestRunInTx_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE audits")).
		WithArgs("COMPLETED", fixedTime, "a1", "IN_PROGRESS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var ok bool
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		ok, err = tx.UpdateAuditStatusIf(context.Background(), "a1",
			models.AuditStatusInProgress, models.AuditStatusCompleted, fixedTime)
		return err
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_RetriesSerializationFailure(t *testing.T) {
	s, mock := newMockStore(t, WithMaxRetries(2))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM monthly_compliance_forms").
		WillReturnError(&pq.Error{Code: codeSerializationFailure})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM monthly_compliance_forms").
		WithArgs("f1", "DRAFT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		calls++
		_, err := tx.DeleteFormIfStatus(context.Background(), models.FormTypeMonthlyCompliance, "f1", models.FormStatusDraft)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_GivesUpAfterMaxRetries(t *testing.T) {
	s, mock := newMockStore(t, WithMaxRetries(1))

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM").WillReturnError(&pq.Error{Code: codeDeadlockDetected})
		mock.ExpectRollback()
	}

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.DeleteFormIfStatus(context.Background(), models.FormTypeCodeOfConduct, "f1", models.FormStatusDraft)
		return err
	})
	require.Error(t, err)
	assert.True(t, isSerializationFailure(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_DoesNotRetryOtherErrors(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	calls := 0
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		calls++
		_, err := tx.DeleteFormIfStatus(context.Background(), models.FormTypeCodeOfConduct, "f1", models.FormStatusDraft)
		return err
	})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, 1, calls)
}

// ==========================
// Error Mapping Tests
// ==========================

func TestCreateApproval_DuplicatePending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO approval_requests").
		WillReturnError(&pq.Error{Code: codeUniqueViolation, Constraint: "approval_requests_one_pending"})
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateApproval(context.Background(), &models.ApprovalRequest{
			ID: "r1", UserID: "u1", FormType: models.FormTypeAgencyVisits, FormID: "f1",
			RequestType: models.RequestTypeEdit, Reason: "typo", Status: models.ApprovalStatusPending,
			CreatedAt: fixedTime, UpdatedAt: fixedTime,
		})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestGetForm_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM agency_visit_forms WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetForm(context.Background(), models.FormTypeAgencyVisits, "missing")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetForm_UnknownType(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetForm(context.Background(), models.FormType("bogus"), "f1")
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown form type")
}

func TestGetForm_DecodesRow(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "owner_id", "period", "status", "payload", "first_submitted_at", "created_at", "updated_at"}).
		AddRow("f1", "agency-1", "2024-04", "SUBMITTED", []byte(`{"visits":12}`), fixedTime, fixedTime, fixedTime)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM training_record_forms").WithArgs("f1").WillReturnRows(rows)
	mock.ExpectCommit()

	var got *models.FormSubmission
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		got, err = tx.GetForm(context.Background(), models.FormTypeTrainingRecords, "f1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.FormStatusSubmitted, got.Status)
	assert.Equal(t, models.FormTypeTrainingRecords, got.FormType)
	assert.Equal(t, float64(12), got.Payload["visits"])
	require.NotNil(t, got.FirstSubmittedAt)
}

// ==========================
// Conditional Update Tests
// ==========================

func TestUpdateFormIfStatus_LostRace(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_register_forms").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var ok bool
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		ok, err = tx.UpdateFormIfStatus(context.Background(), &models.FormSubmission{
			ID: "f1", FormType: models.FormTypePaymentRegister, Status: models.FormStatusSubmitted,
			Payload: map[string]interface{}{"a": 1}, UpdatedAt: fixedTime,
		}, models.FormStatusDraft)
		return err
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAutoAcceptObservation_GuardsDeadline(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("response_deadline < $3")).
		WithArgs("AUTO_ACCEPTED", models.AutoAcceptNote, fixedTime, "o1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var ok bool
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		ok, err = tx.AutoAcceptObservation(context.Background(), "o1", models.AutoAcceptNote, fixedTime)
		return err
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOverdueObservations_KeysetPage(t *testing.T) {
	s, mock := newMockStore(t)
	cursor := &store.OverdueCursor{Deadline: fixedTime.Add(-time.Hour), ID: "o7"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("AND (response_deadline, id) > ($3, $4) ORDER BY response_deadline, id LIMIT $5")).
		WithArgs(sqlmock.AnyArg(), fixedTime, cursor.Deadline, "o7", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		rows, err := tx.ListOverdueObservations(context.Background(), fixedTime, cursor, 50)
		assert.Empty(t, rows)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOverdueObservations_FirstPage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("response_deadline < $2 ORDER BY response_deadline, id LIMIT $3")).
		WithArgs(sqlmock.AnyArg(), fixedTime, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.ListOverdueObservations(context.Background(), fixedTime, nil, 50)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeApprovals_ReturnsStampedIDs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE approval_requests").
		WithArgs(fixedTime, models.ConsumedNote, "penalty_matrix", "f9").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r1").AddRow("r2"))
	mock.ExpectCommit()

	var ids []string
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		ids, err = tx.ConsumeApprovals(context.Background(), models.FormTypePenaltyMatrix, "f9", fixedTime, models.ConsumedNote)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids)
}

func TestCountApprovals(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM approval_requests").
		WillReturnRows(sqlmock.NewRows([]string{"p", "a", "r", "d"}).AddRow(3, 1, 2, 1))
	mock.ExpectCommit()

	var stats models.ApprovalStats
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		stats, err = tx.CountApprovals(context.Background())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStats{Pending: 3, Approved: 1, Rejected: 2, AwaitingDocument: 1}, stats)
}

func TestReplaceAssignments(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE agency_assignments SET active = FALSE").
		WithArgs("firm-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO agency_assignments").
		WithArgs("firm-1", "agency-1", fixedTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO agency_assignments").
		WithArgs("firm-1", "agency-2", fixedTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.ReplaceAssignments(context.Background(), "firm-1", []string{"agency-1", "agency-2"}, fixedTime)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Schema Tests
// ==========================

func TestStatements_CoverEveryFormTable(t *testing.T) {
	stmts := Statements()
	joined := ""
	for _, s := range stmts {
		joined += s + "\n"
	}
	for _, ft := range models.FormTypes() {
		assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+ft.Table()+" ")
	}
	assert.Contains(t, joined, "approval_requests_one_pending")
	assert.Contains(t, joined, "UNIQUE (audit_id, observation_number)")
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	for range Statements() {
		mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
