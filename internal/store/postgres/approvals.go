// internal/store/postgres/approvals.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"compliance-workflow/internal/models"
)

const approvalColumns = `id, user_id, form_type, form_id, request_type, reason, document_path, status,
	admin_response, reviewed_at, reviewed_by, consumed_at, created_at, updated_at`

func (t *tx) CreateApproval(ctx context.Context, r *models.ApprovalRequest) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO approval_requests (`+approvalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.UserID, string(r.FormType), r.FormID, r.RequestType, r.Reason, r.DocumentPath, string(r.Status),
		r.AdminResponse, nullTime(r.ReviewedAt), r.ReviewedBy, nullTime(r.ConsumedAt), r.CreatedAt, r.UpdatedAt,
	)
	return mapInsertErr("insert approval request", err)
}

func (t *tx) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var (
		r                    models.ApprovalRequest
		formType, status     string
		reviewedAt, consumed sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id).Scan(
		&r.ID, &r.UserID, &formType, &r.FormID, &r.RequestType, &r.Reason, &r.DocumentPath, &status,
		&r.AdminResponse, &reviewedAt, &r.ReviewedBy, &consumed, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, mapGetErr("get approval request", err)
	}
	r.FormType = models.FormType(formType)
	r.Status = models.ApprovalStatus(status)
	r.ReviewedAt = timePtr(reviewedAt)
	r.ConsumedAt = timePtr(consumed)
	return &r, nil
}

func (t *tx) UpdateApprovalIfStatus(ctx context.Context, r *models.ApprovalRequest, expected models.ApprovalStatus) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $1, admin_response = $2, document_path = $3, reviewed_at = $4,
		    reviewed_by = $5, consumed_at = $6, updated_at = $7
		WHERE id = $8 AND status = $9`,
		string(r.Status), r.AdminResponse, r.DocumentPath, nullTime(r.ReviewedAt),
		r.ReviewedBy, nullTime(r.ConsumedAt), r.UpdatedAt, r.ID, string(expected),
	)
	return affected("update approval request", res, err)
}

func (t *tx) ConsumeApprovals(ctx context.Context, formType models.FormType, formID string, at time.Time, note string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		UPDATE approval_requests
		SET consumed_at = $1,
		    updated_at = $1,
		    admin_response = CASE WHEN admin_response = '' THEN $2::text ELSE admin_response || ' ' || $2::text END
		WHERE form_type = $3 AND form_id = $4 AND status = 'APPROVED' AND consumed_at IS NULL
		RETURNING id`,
		at, note, string(formType), formID,
	)
	if err != nil {
		return nil, fmt.Errorf("consume approvals: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("consume approvals: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *tx) CountApprovals(ctx context.Context) (models.ApprovalStats, error) {
	var stats models.ApprovalStats
	err := t.tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'APPROVED' AND consumed_at IS NULL),
			COUNT(*) FILTER (WHERE status = 'REJECTED'),
			COUNT(*) FILTER (WHERE status = 'PENDING' AND admin_response <> '' AND document_path = '')
		FROM approval_requests`,
	).Scan(&stats.Pending, &stats.Approved, &stats.Rejected, &stats.AwaitingDocument)
	if err != nil {
		return models.ApprovalStats{}, fmt.Errorf("count approvals: %w", err)
	}
	return stats, nil
}
