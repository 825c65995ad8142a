// internal/store/postgres/forms.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"compliance-workflow/internal/models"
)

// formTable returns the table of formType. The name comes from the closed
// models.FormType set, never from caller input.
func formTable(formType models.FormType) (string, error) {
	table := formType.Table()
	if table == "" {
		return "", fmt.Errorf("unknown form type %q", formType)
	}
	return table, nil
}

func (t *tx) CreateForm(ctx context.Context, f *models.FormSubmission) error {
	table, err := formTable(f.FormType)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, period, status, payload, first_submitted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, table)
	_, err = t.tx.ExecContext(ctx, query,
		f.ID, f.OwnerID, f.Period, string(f.Status), payload,
		nullTime(f.FirstSubmittedAt), f.CreatedAt, f.UpdatedAt,
	)
	return mapInsertErr("insert form", err)
}

func (t *tx) GetForm(ctx context.Context, formType models.FormType, id string) (*models.FormSubmission, error) {
	table, err := formTable(formType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, owner_id, period, status, payload, first_submitted_at, created_at, updated_at
		FROM %s WHERE id = $1`, table)

	var (
		f         = models.FormSubmission{FormType: formType}
		status    string
		payload   []byte
		submitted sql.NullTime
	)
	err = t.tx.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.OwnerID, &f.Period, &status, &payload, &submitted, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, mapGetErr("get form", err)
	}
	f.Status = models.FormStatus(status)
	f.FirstSubmittedAt = timePtr(submitted)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &f.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", id, err)
		}
	}
	return &f, nil
}

func (t *tx) UpdateFormIfStatus(ctx context.Context, f *models.FormSubmission, expected models.FormStatus) (bool, error) {
	table, err := formTable(f.FormType)
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, payload = $2, first_submitted_at = $3, updated_at = $4
		WHERE id = $5 AND status = $6`, table)
	res, err := t.tx.ExecContext(ctx, query,
		string(f.Status), payload, nullTime(f.FirstSubmittedAt), f.UpdatedAt, f.ID, string(expected),
	)
	return affected("update form", res, err)
}

func (t *tx) DeleteFormIfStatus(ctx context.Context, formType models.FormType, id string, expected models.FormStatus) (bool, error) {
	table, err := formTable(formType)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND status = $2`, table)
	res, err := t.tx.ExecContext(ctx, query, id, string(expected))
	return affected("delete form", res, err)
}
