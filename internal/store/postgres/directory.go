// internal/store/postgres/directory.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"compliance-workflow/internal/models"
)

func (t *tx) GetContact(ctx context.Context, userID string) (*models.Contact, error) {
	var (
		c    models.Contact
		role string
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, email, phone, role FROM users WHERE id = $1`, userID,
	).Scan(&c.UserID, &c.Name, &c.Email, &c.Phone, &role)
	if err != nil {
		return nil, mapGetErr("get contact", err)
	}
	c.Role = models.Role(role)
	return &c, nil
}

func (t *tx) ListUserIDsByRole(ctx context.Context, role models.Role) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM users WHERE role = $1 ORDER BY id`, string(role))
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list users by role: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *tx) GetAuditorFirm(ctx context.Context, auditorID string) (string, error) {
	var firmID string
	err := t.tx.QueryRowContext(ctx,
		`SELECT firm_id FROM auditor_firms WHERE auditor_id = $1`, auditorID,
	).Scan(&firmID)
	if err != nil {
		return "", mapGetErr("get auditor firm", err)
	}
	return firmID, nil
}

func (t *tx) HasActiveAssignment(ctx context.Context, firmID, agencyID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM agency_assignments WHERE firm_id = $1 AND agency_id = $2 AND active
		)`, firmID, agencyID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return exists, nil
}

func (t *tx) ListAssignments(ctx context.Context, firmID string) ([]*models.AgencyAssignment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT firm_id, agency_id, active, assigned_at
		FROM agency_assignments WHERE firm_id = $1 ORDER BY agency_id`, firmID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.AgencyAssignment
	for rows.Next() {
		var a models.AgencyAssignment
		if err := rows.Scan(&a.FirmID, &a.AgencyID, &a.Active, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("list assignments: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (t *tx) ReplaceAssignments(ctx context.Context, firmID string, agencyIDs []string, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE agency_assignments SET active = FALSE WHERE firm_id = $1 AND active`, firmID,
	); err != nil {
		return fmt.Errorf("deactivate assignments: %w", err)
	}
	for _, agencyID := range agencyIDs {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO agency_assignments (firm_id, agency_id, active, assigned_at)
			VALUES ($1, $2, TRUE, $3)
			ON CONFLICT (firm_id, agency_id) DO UPDATE SET active = TRUE, assigned_at = EXCLUDED.assigned_at`,
			firmID, agencyID, at,
		); err != nil {
			return fmt.Errorf("activate assignment %s: %w", agencyID, err)
		}
	}
	return nil
}

// --- Activity ---

func (t *tx) InsertActivity(ctx context.Context, l *models.ActivityLog) error {
	details, err := json.Marshal(l.Details)
	if err != nil {
		return fmt.Errorf("marshal activity details: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO activity_logs (id, user_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.UserID, l.Action, l.EntityType, l.EntityID, details, l.CreatedAt,
	)
	return mapInsertErr("insert activity", err)
}

func (t *tx) ListActivity(ctx context.Context, entityType, entityID string) ([]*models.ActivityLog, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, user_id, action, entity_type, entity_id, details, created_at
		FROM activity_logs WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at, id`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []*models.ActivityLog
	for rows.Next() {
		var (
			l       models.ActivityLog
			details []byte
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.EntityType, &l.EntityID, &details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("list activity: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &l.Details); err != nil {
				return nil, fmt.Errorf("decode activity %s: %w", l.ID, err)
			}
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// --- Notifications ---

func (t *tx) InsertNotification(ctx context.Context, n *models.Notification) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, category, title, message, link, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.RecipientID, string(n.Category), n.Title, n.Message, n.Link, n.Read, n.CreatedAt,
	)
	return mapInsertErr("insert notification", err)
}

func (t *tx) ListNotifications(ctx context.Context, recipientID string) ([]*models.Notification, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, recipient_id, category, title, message, link, read, created_at
		FROM notifications WHERE recipient_id = $1 ORDER BY created_at, id`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var (
			n        models.Notification
			category string
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &category, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("list notifications: %w", err)
		}
		n.Category = models.NotificationCategory(category)
		out = append(out, &n)
	}
	return out, rows.Err()
}
