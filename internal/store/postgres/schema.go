// internal/store/postgres/schema.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"compliance-workflow/internal/models"
)

// baseSchema holds every table except the per-form tables.
const baseSchema = `
CREATE TABLE IF NOT EXISTS users (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	role  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS auditor_firms (
	auditor_id TEXT PRIMARY KEY REFERENCES users(id),
	firm_id    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agency_assignments (
	firm_id     TEXT NOT NULL,
	agency_id   TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	assigned_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (firm_id, agency_id)
);

CREATE TABLE IF NOT EXISTS approval_requests (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	form_type      TEXT NOT NULL,
	form_id        TEXT NOT NULL,
	request_type   TEXT NOT NULL,
	reason         TEXT NOT NULL,
	document_path  TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	admin_response TEXT NOT NULL DEFAULT '',
	reviewed_at    TIMESTAMPTZ,
	reviewed_by    TEXT NOT NULL DEFAULT '',
	consumed_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS approval_requests_one_pending
	ON approval_requests (user_id, form_type, form_id) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS approval_requests_form
	ON approval_requests (form_type, form_id);

CREATE TABLE IF NOT EXISTS audits (
	id         TEXT PRIMARY KEY,
	agency_id  TEXT NOT NULL,
	firm_id    TEXT NOT NULL,
	auditor_id TEXT NOT NULL,
	audit_date TIMESTAMPTZ NOT NULL,
	status     TEXT NOT NULL,
	remarks    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_scorecards (
	audit_id      TEXT PRIMARY KEY REFERENCES audits(id),
	scores        JSONB NOT NULL,
	overall_score NUMERIC(6,2) NOT NULL,
	grade         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS show_cause_notices (
	id                    TEXT PRIMARY KEY,
	subject               TEXT NOT NULL,
	details               TEXT NOT NULL,
	response_due_date     TIMESTAMPTZ NOT NULL,
	status                TEXT NOT NULL,
	issued_by_admin_id    TEXT NOT NULL,
	received_by_agency_id TEXT NOT NULL,
	admin_remarks         TEXT NOT NULL DEFAULT '',
	closed_at             TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	id                   TEXT PRIMARY KEY,
	audit_id             TEXT NOT NULL REFERENCES audits(id),
	observation_number   TEXT NOT NULL,
	severity             TEXT NOT NULL,
	category             TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL,
	evidence_required    BOOLEAN NOT NULL DEFAULT FALSE,
	status               TEXT NOT NULL,
	show_cause_notice_id TEXT REFERENCES show_cause_notices(id),
	response_deadline    TIMESTAMPTZ,
	agency_accepted      BOOLEAN,
	agency_response      TEXT NOT NULL DEFAULT '',
	evidence_path        TEXT NOT NULL DEFAULT '',
	responded_at         TIMESTAMPTZ,
	penalty_id           TEXT,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	UNIQUE (audit_id, observation_number)
);

CREATE INDEX IF NOT EXISTS observations_awaiting_deadline
	ON observations (response_deadline)
	WHERE status IN ('SENT_TO_AGENCY', 'AWAITING_AGENCY_RESPONSE');
CREATE INDEX IF NOT EXISTS observations_notice ON observations (show_cause_notice_id);

CREATE TABLE IF NOT EXISTS penalties (
	id              TEXT PRIMARY KEY,
	observation_id  TEXT NOT NULL UNIQUE REFERENCES observations(id),
	agency_id       TEXT NOT NULL,
	penalty_amount  NUMERIC(12,2) NOT NULL,
	penalty_reason  TEXT NOT NULL,
	deduction_month TEXT NOT NULL,
	status          TEXT NOT NULL,
	notice_ref_no   TEXT NOT NULL DEFAULT '',
	assigned_by     TEXT NOT NULL,
	assigned_at     TIMESTAMPTZ NOT NULL,
	submitted_at    TIMESTAMPTZ NOT NULL,
	acknowledged_at TIMESTAMPTZ,
	paid_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS activity_logs (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	details     JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS activity_logs_entity ON activity_logs (entity_type, entity_id);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	category     TEXT NOT NULL,
	title        TEXT NOT NULL,
	message      TEXT NOT NULL,
	link         TEXT NOT NULL DEFAULT '',
	read         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS notifications_recipient ON notifications (recipient_id, created_at);
`

// formTableDDL is applied once per form type. Only the lifecycle columns are
// shared; form specific fields live in payload.
const formTableDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	period             TEXT NOT NULL,
	status             TEXT NOT NULL,
	payload            JSONB NOT NULL,
	first_submitted_at TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	UNIQUE (owner_id, period)
);
`

// Statements returns the DDL statements in apply order.
func Statements() []string {
	stmts := splitStatements(baseSchema)

	types := models.FormTypes()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, ft := range types {
		stmts = append(stmts, strings.TrimSpace(fmt.Sprintf(formTableDDL, ft.Table())))
	}
	return stmts
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Migrate applies the schema in one transaction. Every statement is
// idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for _, stmt := range Statements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %q: %w", firstLine(stmt), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
