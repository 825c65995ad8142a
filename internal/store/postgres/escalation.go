// internal/store/postgres/escalation.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"compliance-workflow/internal/models"
	"compliance-workflow/internal/store"

	"github.com/lib/pq"
)

func statusArray(statuses []models.ObservationStatus) interface{} {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

// --- Audits ---

func (t *tx) CreateAudit(ctx context.Context, a *models.Audit) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audits (id, agency_id, firm_id, auditor_id, audit_date, status, remarks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.AgencyID, a.FirmID, a.AuditorID, a.AuditDate, string(a.Status), a.Remarks, a.CreatedAt, a.UpdatedAt,
	)
	return mapInsertErr("insert audit", err)
}

func (t *tx) GetAudit(ctx context.Context, id string) (*models.Audit, error) {
	var (
		a      models.Audit
		status string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, agency_id, firm_id, auditor_id, audit_date, status, remarks, created_at, updated_at
		FROM audits WHERE id = $1`, id,
	).Scan(&a.ID, &a.AgencyID, &a.FirmID, &a.AuditorID, &a.AuditDate, &status, &a.Remarks, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapGetErr("get audit", err)
	}
	a.Status = models.AuditStatus(status)
	return &a, nil
}

func (t *tx) UpdateAuditStatusIf(ctx context.Context, id string, from, to models.AuditStatus, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE audits SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at, id, string(from),
	)
	return affected("update audit status", res, err)
}

func (t *tx) CreateScorecard(ctx context.Context, sc *models.Scorecard) error {
	scores, err := json.Marshal(sc.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO audit_scorecards (audit_id, scores, overall_score, grade, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sc.AuditID, scores, sc.OverallScore, sc.Grade, sc.CreatedAt,
	)
	return mapInsertErr("insert scorecard", err)
}

// --- Observations ---

const observationColumns = `id, audit_id, observation_number, severity, category, description, evidence_required,
	status, show_cause_notice_id, response_deadline, agency_accepted, agency_response, evidence_path,
	responded_at, penalty_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObservation(row rowScanner) (*models.Observation, error) {
	var (
		o                     models.Observation
		severity, status      string
		noticeID, penaltyID   sql.NullString
		deadline, respondedAt sql.NullTime
		accepted              sql.NullBool
	)
	err := row.Scan(
		&o.ID, &o.AuditID, &o.ObservationNumber, &severity, &o.Category, &o.Description, &o.EvidenceRequired,
		&status, &noticeID, &deadline, &accepted, &o.AgencyResponse, &o.EvidencePath,
		&respondedAt, &penaltyID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Severity = models.Severity(severity)
	o.Status = models.ObservationStatus(status)
	o.ShowCauseNoticeID = noticeID.String
	o.PenaltyID = penaltyID.String
	o.ResponseDeadline = timePtr(deadline)
	o.RespondedAt = timePtr(respondedAt)
	if accepted.Valid {
		v := accepted.Bool
		o.AgencyAccepted = &v
	}
	return &o, nil
}

func (t *tx) CreateObservation(ctx context.Context, o *models.Observation) error {
	var accepted sql.NullBool
	if o.AgencyAccepted != nil {
		accepted = sql.NullBool{Bool: *o.AgencyAccepted, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO observations (`+observationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		o.ID, o.AuditID, o.ObservationNumber, string(o.Severity), o.Category, o.Description, o.EvidenceRequired,
		string(o.Status), nullString(o.ShowCauseNoticeID), nullTime(o.ResponseDeadline), accepted,
		o.AgencyResponse, o.EvidencePath, nullTime(o.RespondedAt), nullString(o.PenaltyID), o.CreatedAt, o.UpdatedAt,
	)
	return mapInsertErr("insert observation", err)
}

func (t *tx) GetObservation(ctx context.Context, id string) (*models.Observation, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = $1`, id)
	o, err := scanObservation(row)
	if err != nil {
		return nil, mapGetErr("get observation", err)
	}
	return o, nil
}

func (t *tx) queryObservations(ctx context.Context, op, query string, args ...interface{}) ([]*models.Observation, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *tx) ListObservationsByNotice(ctx context.Context, noticeID string) ([]*models.Observation, error) {
	return t.queryObservations(ctx, "list notice observations",
		`SELECT `+observationColumns+` FROM observations WHERE show_cause_notice_id = $1 ORDER BY observation_number`,
		noticeID,
	)
}

func (t *tx) IssueObservation(ctx context.Context, id, noticeID string, deadline, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE observations
		SET status = $1, show_cause_notice_id = $2, response_deadline = $3, updated_at = $4
		WHERE id = $5 AND status = $6 AND show_cause_notice_id IS NULL`,
		string(models.ObservationSentToAgency), noticeID, deadline, at, id, string(models.ObservationPendingAdminReview),
	)
	return affected("issue observation", res, err)
}

func (t *tx) RecordResponse(ctx context.Context, resp models.ObservationResponse) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE observations
		SET status = $1, agency_accepted = $2, agency_response = $3, evidence_path = $4,
		    responded_at = $5, updated_at = $5
		WHERE id = $6 AND status = ANY($7) AND response_deadline >= $5`,
		string(resp.Status), resp.Accepted, resp.Response, resp.EvidencePath,
		resp.RespondedAt, resp.ObservationID, statusArray(models.AwaitingResponseStatuses),
	)
	return affected("record response", res, err)
}

func (t *tx) AutoAcceptObservation(ctx context.Context, id, note string, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE observations
		SET status = $1, agency_accepted = TRUE, agency_response = $2, responded_at = $3, updated_at = $3
		WHERE id = $4 AND status = ANY($5) AND response_deadline < $3`,
		string(models.ObservationAutoAccepted), note, now, id, statusArray(models.AwaitingResponseStatuses),
	)
	return affected("auto-accept observation", res, err)
}

func (t *tx) ListOverdueObservations(ctx context.Context, now time.Time, after *store.OverdueCursor, limit int) ([]*models.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations
		WHERE status = ANY($1) AND response_deadline < $2`
	args := []interface{}{statusArray(models.AwaitingResponseStatuses), now}
	if after != nil {
		query += ` AND (response_deadline, id) > ($3, $4)`
		args = append(args, after.Deadline, after.ID)
	}
	query += ` ORDER BY response_deadline, id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	return t.queryObservations(ctx, "list overdue observations", query, args...)
}

func (t *tx) CloseObservationWithPenalty(ctx context.Context, id, penaltyID string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE observations
		SET status = $1, penalty_id = $2, updated_at = $3
		WHERE id = $4 AND status = ANY($5) AND penalty_id IS NULL`,
		string(models.ObservationClosed), penaltyID, at, id, statusArray(models.PenalizableStatuses),
	)
	return affected("close observation", res, err)
}

// --- Notices ---

func (t *tx) CreateNotice(ctx context.Context, n *models.ShowCauseNotice) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO show_cause_notices (id, subject, details, response_due_date, status, issued_by_admin_id,
			received_by_agency_id, admin_remarks, closed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.Subject, n.Details, n.ResponseDueDate, string(n.Status), n.IssuedByAdminID,
		n.ReceivedByAgencyID, n.AdminRemarks, nullTime(n.ClosedAt), n.CreatedAt, n.UpdatedAt,
	)
	return mapInsertErr("insert notice", err)
}

func (t *tx) GetNotice(ctx context.Context, id string) (*models.ShowCauseNotice, error) {
	var (
		n        models.ShowCauseNotice
		status   string
		closedAt sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, subject, details, response_due_date, status, issued_by_admin_id, received_by_agency_id,
			admin_remarks, closed_at, created_at, updated_at
		FROM show_cause_notices WHERE id = $1`, id,
	).Scan(&n.ID, &n.Subject, &n.Details, &n.ResponseDueDate, &status, &n.IssuedByAdminID, &n.ReceivedByAgencyID,
		&n.AdminRemarks, &closedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, mapGetErr("get notice", err)
	}
	n.Status = models.NoticeStatus(status)
	n.ClosedAt = timePtr(closedAt)
	return &n, nil
}

func (t *tx) UpdateNoticeStatusIf(ctx context.Context, id string, from, to models.NoticeStatus, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE show_cause_notices SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at, id, string(from),
	)
	return affected("update notice status", res, err)
}

func (t *tx) CloseNotice(ctx context.Context, id, remarks string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE show_cause_notices
		SET status = $1, admin_remarks = $2, closed_at = $3, updated_at = $3
		WHERE id = $4 AND status <> $1`,
		string(models.NoticeStatusClosed), remarks, at, id,
	)
	return affected("close notice", res, err)
}

// --- Penalties ---

func (t *tx) CreatePenalty(ctx context.Context, p *models.Penalty) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO penalties (id, observation_id, agency_id, penalty_amount, penalty_reason, deduction_month,
			status, notice_ref_no, assigned_by, assigned_at, submitted_at, acknowledged_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.ObservationID, p.AgencyID, p.PenaltyAmount, p.PenaltyReason, p.DeductionMonth,
		string(p.Status), p.NoticeRefNo, p.AssignedBy, p.AssignedAt, p.SubmittedAt,
		nullTime(p.AcknowledgedAt), nullTime(p.PaidAt),
	)
	return mapInsertErr("insert penalty", err)
}

func (t *tx) GetPenalty(ctx context.Context, id string) (*models.Penalty, error) {
	var (
		p           models.Penalty
		status      string
		acked, paid sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, observation_id, agency_id, penalty_amount, penalty_reason, deduction_month, status,
			notice_ref_no, assigned_by, assigned_at, submitted_at, acknowledged_at, paid_at
		FROM penalties WHERE id = $1`, id,
	).Scan(&p.ID, &p.ObservationID, &p.AgencyID, &p.PenaltyAmount, &p.PenaltyReason, &p.DeductionMonth, &status,
		&p.NoticeRefNo, &p.AssignedBy, &p.AssignedAt, &p.SubmittedAt, &acked, &paid)
	if err != nil {
		return nil, mapGetErr("get penalty", err)
	}
	p.Status = models.PenaltyStatus(status)
	p.AcknowledgedAt = timePtr(acked)
	p.PaidAt = timePtr(paid)
	return &p, nil
}

func (t *tx) UpdatePenaltyStatusIf(ctx context.Context, id string, from, to models.PenaltyStatus, at time.Time) (bool, error) {
	column := ""
	switch to {
	case models.PenaltyStatusSubmitted:
		column = "submitted_at"
	case models.PenaltyStatusAcknowledged:
		column = "acknowledged_at"
	case models.PenaltyStatusPaid:
		column = "paid_at"
	default:
		return false, fmt.Errorf("unsupported penalty status %q", to)
	}
	res, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE penalties SET status = $1, %s = $2 WHERE id = $3 AND status = $4`, column),
		string(to), at, id, string(from),
	)
	return affected("update penalty status", res, err)
}
