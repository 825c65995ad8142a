// internal/store/memory/memory.go

// Package memory is an in-process store.Store for service tests. A
// transaction works on a copy of the state and swaps it in on success, so a
// failing fn leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"compliance-workflow/internal/models"
	"compliance-workflow/internal/store"
)

type state struct {
	forms         map[models.FormType]map[string]models.FormSubmission
	approvals     map[string]models.ApprovalRequest
	audits        map[string]models.Audit
	scorecards    map[string]models.Scorecard
	observations  map[string]models.Observation
	notices       map[string]models.ShowCauseNotice
	penalties     map[string]models.Penalty
	contacts      map[string]models.Contact
	firms         map[string]string // auditor id -> firm id
	assignments   map[string]models.AgencyAssignment
	activity      []models.ActivityLog
	notifications []models.Notification
}

func newState() state {
	return state{
		forms:        map[models.FormType]map[string]models.FormSubmission{},
		approvals:    map[string]models.ApprovalRequest{},
		audits:       map[string]models.Audit{},
		scorecards:   map[string]models.Scorecard{},
		observations: map[string]models.Observation{},
		notices:      map[string]models.ShowCauseNotice{},
		penalties:    map[string]models.Penalty{},
		contacts:     map[string]models.Contact{},
		firms:        map[string]string{},
		assignments:  map[string]models.AgencyAssignment{},
	}
}

func (s state) clone() state {
	c := newState()
	for ft, rows := range s.forms {
		m := make(map[string]models.FormSubmission, len(rows))
		for k, v := range rows {
			m[k] = v
		}
		c.forms[ft] = m
	}
	copyMap(c.approvals, s.approvals)
	copyMap(c.audits, s.audits)
	copyMap(c.scorecards, s.scorecards)
	copyMap(c.observations, s.observations)
	copyMap(c.notices, s.notices)
	copyMap(c.penalties, s.penalties)
	copyMap(c.contacts, s.contacts)
	copyMap(c.firms, s.firms)
	copyMap(c.assignments, s.assignments)
	c.activity = append([]models.ActivityLog(nil), s.activity...)
	c.notifications = append([]models.Notification(nil), s.notifications...)
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

// Store is a mutex guarded in-memory store.Store.
type Store struct {
	mu    sync.Mutex
	state state
	fault func(op string) error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState()}
}

// SetFault installs a hook consulted before every operation; a non-nil error
// is returned from that operation. Pass nil to clear it.
func (s *Store) SetFault(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{state: s.state.clone(), fault: s.fault}
	if err := fn(t); err != nil {
		return err
	}
	s.state = t.state
	return nil
}

// ==========================
// Seeding helpers
// ==========================

// AddUser registers a user contact.
func (s *Store) AddUser(c models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.contacts[c.UserID] = c
}

// AddAuditorToFirm records auditorID as a member of firmID.
func (s *Store) AddAuditorToFirm(auditorID, firmID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.firms[auditorID] = firmID
}

// AssignAgency activates an assignment between firmID and agencyID.
func (s *Store) AssignAgency(firmID, agencyID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.assignments[assignmentKey(firmID, agencyID)] = models.AgencyAssignment{
		FirmID: firmID, AgencyID: agencyID, Active: true, AssignedAt: at,
	}
}

// PutObservation stores o as is. Tests use it to stage rows in states that
// normally take several operations to reach.
func (s *Store) PutObservation(o models.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.observations[o.ID] = cloneObservation(o)
}

func assignmentKey(firmID, agencyID string) string {
	return firmID + "|" + agencyID
}

// ==========================
// Transaction
// ==========================

type tx struct {
	state state
	fault func(op string) error
}

func (t *tx) check(op string) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op)
}

// --- Forms ---

func (t *tx) CreateForm(ctx context.Context, f *models.FormSubmission) error {
	if err := t.check("CreateForm"); err != nil {
		return err
	}
	rows := t.state.forms[f.FormType]
	if rows == nil {
		rows = map[string]models.FormSubmission{}
		t.state.forms[f.FormType] = rows
	}
	if _, ok := rows[f.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range rows {
		if existing.OwnerID == f.OwnerID && existing.Period == f.Period {
			return store.ErrDuplicate
		}
	}
	rows[f.ID] = cloneForm(*f)
	return nil
}

func (t *tx) GetForm(ctx context.Context, formType models.FormType, id string) (*models.FormSubmission, error) {
	if err := t.check("GetForm"); err != nil {
		return nil, err
	}
	f, ok := t.state.forms[formType][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneForm(f)
	return &out, nil
}

func (t *tx) UpdateFormIfStatus(ctx context.Context, f *models.FormSubmission, expected models.FormStatus) (bool, error) {
	if err := t.check("UpdateFormIfStatus"); err != nil {
		return false, err
	}
	cur, ok := t.state.forms[f.FormType][f.ID]
	if !ok || cur.Status != expected {
		return false, nil
	}
	cur.Status = f.Status
	cur.Payload = clonePayload(f.Payload)
	cur.FirstSubmittedAt = cloneTime(f.FirstSubmittedAt)
	cur.UpdatedAt = f.UpdatedAt
	t.state.forms[f.FormType][f.ID] = cur
	return true, nil
}

func (t *tx) DeleteFormIfStatus(ctx context.Context, formType models.FormType, id string, expected models.FormStatus) (bool, error) {
	if err := t.check("DeleteFormIfStatus"); err != nil {
		return false, err
	}
	cur, ok := t.state.forms[formType][id]
	if !ok || cur.Status != expected {
		return false, nil
	}
	delete(t.state.forms[formType], id)
	return true, nil
}

// --- Approvals ---

func (t *tx) CreateApproval(ctx context.Context, r *models.ApprovalRequest) error {
	if err := t.check("CreateApproval"); err != nil {
		return err
	}
	if _, ok := t.state.approvals[r.ID]; ok {
		return store.ErrDuplicate
	}
	if r.Status == models.ApprovalStatusPending {
		for _, existing := range t.state.approvals {
			if existing.Status == models.ApprovalStatusPending &&
				existing.UserID == r.UserID &&
				existing.FormType == r.FormType &&
				existing.FormID == r.FormID {
				return store.ErrDuplicate
			}
		}
	}
	t.state.approvals[r.ID] = cloneApproval(*r)
	return nil
}

func (t *tx) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	if err := t.check("GetApproval"); err != nil {
		return nil, err
	}
	r, ok := t.state.approvals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneApproval(r)
	return &out, nil
}

func (t *tx) UpdateApprovalIfStatus(ctx context.Context, r *models.ApprovalRequest, expected models.ApprovalStatus) (bool, error) {
	if err := t.check("UpdateApprovalIfStatus"); err != nil {
		return false, err
	}
	cur, ok := t.state.approvals[r.ID]
	if !ok || cur.Status != expected {
		return false, nil
	}
	cur.Status = r.Status
	cur.AdminResponse = r.AdminResponse
	cur.DocumentPath = r.DocumentPath
	cur.ReviewedAt = cloneTime(r.ReviewedAt)
	cur.ReviewedBy = r.ReviewedBy
	cur.ConsumedAt = cloneTime(r.ConsumedAt)
	cur.UpdatedAt = r.UpdatedAt
	t.state.approvals[r.ID] = cur
	return true, nil
}

func (t *tx) ConsumeApprovals(ctx context.Context, formType models.FormType, formID string, at time.Time, note string) ([]string, error) {
	if err := t.check("ConsumeApprovals"); err != nil {
		return nil, err
	}
	var ids []string
	for id, r := range t.state.approvals {
		if r.FormType != formType || r.FormID != formID ||
			r.Status != models.ApprovalStatusApproved || r.ConsumedAt != nil {
			continue
		}
		stamp := at
		r.ConsumedAt = &stamp
		if r.AdminResponse == "" {
			r.AdminResponse = note
		} else {
			r.AdminResponse = r.AdminResponse + " " + note
		}
		r.UpdatedAt = at
		t.state.approvals[id] = r
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *tx) CountApprovals(ctx context.Context) (models.ApprovalStats, error) {
	if err := t.check("CountApprovals"); err != nil {
		return models.ApprovalStats{}, err
	}
	var stats models.ApprovalStats
	for _, r := range t.state.approvals {
		switch r.Status {
		case models.ApprovalStatusPending:
			stats.Pending++
			if r.AwaitingDocument() {
				stats.AwaitingDocument++
			}
		case models.ApprovalStatusApproved:
			if r.ConsumedAt == nil {
				stats.Approved++
			}
		case models.ApprovalStatusRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}

// --- Audits ---

func (t *tx) CreateAudit(ctx context.Context, a *models.Audit) error {
	if err := t.check("CreateAudit"); err != nil {
		return err
	}
	if _, ok := t.state.audits[a.ID]; ok {
		return store.ErrDuplicate
	}
	t.state.audits[a.ID] = *a
	return nil
}

func (t *tx) GetAudit(ctx context.Context, id string) (*models.Audit, error) {
	if err := t.check("GetAudit"); err != nil {
		return nil, err
	}
	a, ok := t.state.audits[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (t *tx) UpdateAuditStatusIf(ctx context.Context, id string, from, to models.AuditStatus, at time.Time) (bool, error) {
	if err := t.check("UpdateAuditStatusIf"); err != nil {
		return false, err
	}
	a, ok := t.state.audits[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = at
	t.state.audits[id] = a
	return true, nil
}

func (t *tx) CreateScorecard(ctx context.Context, sc *models.Scorecard) error {
	if err := t.check("CreateScorecard"); err != nil {
		return err
	}
	if _, ok := t.state.scorecards[sc.AuditID]; ok {
		return store.ErrDuplicate
	}
	c := *sc
	c.Scores = make(map[string]float64, len(sc.Scores))
	copyMap(c.Scores, sc.Scores)
	t.state.scorecards[sc.AuditID] = c
	return nil
}

// --- Observations ---

func (t *tx) CreateObservation(ctx context.Context, o *models.Observation) error {
	if err := t.check("CreateObservation"); err != nil {
		return err
	}
	if _, ok := t.state.observations[o.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range t.state.observations {
		if existing.AuditID == o.AuditID && existing.ObservationNumber == o.ObservationNumber {
			return store.ErrDuplicate
		}
	}
	t.state.observations[o.ID] = cloneObservation(*o)
	return nil
}

func (t *tx) GetObservation(ctx context.Context, id string) (*models.Observation, error) {
	if err := t.check("GetObservation"); err != nil {
		return nil, err
	}
	o, ok := t.state.observations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneObservation(o)
	return &out, nil
}

func (t *tx) ListObservationsByNotice(ctx context.Context, noticeID string) ([]*models.Observation, error) {
	if err := t.check("ListObservationsByNotice"); err != nil {
		return nil, err
	}
	var out []*models.Observation
	for _, o := range t.state.observations {
		if o.ShowCauseNoticeID == noticeID {
			c := cloneObservation(o)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservationNumber < out[j].ObservationNumber })
	return out, nil
}

func (t *tx) IssueObservation(ctx context.Context, id, noticeID string, deadline, at time.Time) (bool, error) {
	if err := t.check("IssueObservation"); err != nil {
		return false, err
	}
	o, ok := t.state.observations[id]
	if !ok || o.Status != models.ObservationPendingAdminReview || o.ShowCauseNoticeID != "" {
		return false, nil
	}
	d := deadline
	o.Status = models.ObservationSentToAgency
	o.ShowCauseNoticeID = noticeID
	o.ResponseDeadline = &d
	o.UpdatedAt = at
	t.state.observations[id] = o
	return true, nil
}

func (t *tx) RecordResponse(ctx context.Context, resp models.ObservationResponse) (bool, error) {
	if err := t.check("RecordResponse"); err != nil {
		return false, err
	}
	o, ok := t.state.observations[resp.ObservationID]
	if !ok || !o.Status.AwaitingResponse() || o.ResponseDeadline == nil || o.ResponseDeadline.Before(resp.RespondedAt) {
		return false, nil
	}
	accepted := resp.Accepted
	at := resp.RespondedAt
	o.Status = resp.Status
	o.AgencyAccepted = &accepted
	o.AgencyResponse = resp.Response
	o.EvidencePath = resp.EvidencePath
	o.RespondedAt = &at
	o.UpdatedAt = at
	t.state.observations[resp.ObservationID] = o
	return true, nil
}

func (t *tx) AutoAcceptObservation(ctx context.Context, id, note string, now time.Time) (bool, error) {
	if err := t.check("AutoAcceptObservation"); err != nil {
		return false, err
	}
	o, ok := t.state.observations[id]
	if !ok || !o.Status.AwaitingResponse() || o.ResponseDeadline == nil || !o.ResponseDeadline.Before(now) {
		return false, nil
	}
	accepted := true
	at := now
	o.Status = models.ObservationAutoAccepted
	o.AgencyAccepted = &accepted
	o.AgencyResponse = note
	o.RespondedAt = &at
	o.UpdatedAt = now
	t.state.observations[id] = o
	return true, nil
}

func (t *tx) ListOverdueObservations(ctx context.Context, now time.Time, after *store.OverdueCursor, limit int) ([]*models.Observation, error) {
	if err := t.check("ListOverdueObservations"); err != nil {
		return nil, err
	}
	var out []*models.Observation
	for _, o := range t.state.observations {
		if o.Status.AwaitingResponse() && o.ResponseDeadline != nil && o.ResponseDeadline.Before(now) && behind(o, after) {
			c := cloneObservation(o)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResponseDeadline.Equal(*out[j].ResponseDeadline) {
			return out[i].ID < out[j].ID
		}
		return out[i].ResponseDeadline.Before(*out[j].ResponseDeadline)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// behind reports whether o sorts strictly after the cursor.
func behind(o models.Observation, after *store.OverdueCursor) bool {
	if after == nil {
		return true
	}
	if !o.ResponseDeadline.Equal(after.Deadline) {
		return o.ResponseDeadline.After(after.Deadline)
	}
	return o.ID > after.ID
}

func (t *tx) CloseObservationWithPenalty(ctx context.Context, id, penaltyID string, at time.Time) (bool, error) {
	if err := t.check("CloseObservationWithPenalty"); err != nil {
		return false, err
	}
	o, ok := t.state.observations[id]
	if !ok || !o.Status.Penalizable() || o.PenaltyID != "" {
		return false, nil
	}
	o.Status = models.ObservationClosed
	o.PenaltyID = penaltyID
	o.UpdatedAt = at
	t.state.observations[id] = o
	return true, nil
}

// --- Notices ---

func (t *tx) CreateNotice(ctx context.Context, n *models.ShowCauseNotice) error {
	if err := t.check("CreateNotice"); err != nil {
		return err
	}
	if _, ok := t.state.notices[n.ID]; ok {
		return store.ErrDuplicate
	}
	t.state.notices[n.ID] = *n
	return nil
}

func (t *tx) GetNotice(ctx context.Context, id string) (*models.ShowCauseNotice, error) {
	if err := t.check("GetNotice"); err != nil {
		return nil, err
	}
	n, ok := t.state.notices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	n.ClosedAt = cloneTime(n.ClosedAt)
	return &n, nil
}

func (t *tx) UpdateNoticeStatusIf(ctx context.Context, id string, from, to models.NoticeStatus, at time.Time) (bool, error) {
	if err := t.check("UpdateNoticeStatusIf"); err != nil {
		return false, err
	}
	n, ok := t.state.notices[id]
	if !ok || n.Status != from {
		return false, nil
	}
	n.Status = to
	n.UpdatedAt = at
	t.state.notices[id] = n
	return true, nil
}

func (t *tx) CloseNotice(ctx context.Context, id, remarks string, at time.Time) (bool, error) {
	if err := t.check("CloseNotice"); err != nil {
		return false, err
	}
	n, ok := t.state.notices[id]
	if !ok || n.Status == models.NoticeStatusClosed {
		return false, nil
	}
	closed := at
	n.Status = models.NoticeStatusClosed
	n.AdminRemarks = remarks
	n.ClosedAt = &closed
	n.UpdatedAt = at
	t.state.notices[id] = n
	return true, nil
}

// --- Penalties ---

func (t *tx) CreatePenalty(ctx context.Context, p *models.Penalty) error {
	if err := t.check("CreatePenalty"); err != nil {
		return err
	}
	if _, ok := t.state.penalties[p.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range t.state.penalties {
		if existing.ObservationID == p.ObservationID {
			return store.ErrDuplicate
		}
	}
	t.state.penalties[p.ID] = *p
	return nil
}

func (t *tx) GetPenalty(ctx context.Context, id string) (*models.Penalty, error) {
	if err := t.check("GetPenalty"); err != nil {
		return nil, err
	}
	p, ok := t.state.penalties[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.AcknowledgedAt = cloneTime(p.AcknowledgedAt)
	p.PaidAt = cloneTime(p.PaidAt)
	return &p, nil
}

func (t *tx) UpdatePenaltyStatusIf(ctx context.Context, id string, from, to models.PenaltyStatus, at time.Time) (bool, error) {
	if err := t.check("UpdatePenaltyStatusIf"); err != nil {
		return false, err
	}
	p, ok := t.state.penalties[id]
	if !ok || p.Status != from {
		return false, nil
	}
	stamp := at
	p.Status = to
	switch to {
	case models.PenaltyStatusAcknowledged:
		p.AcknowledgedAt = &stamp
	case models.PenaltyStatusPaid:
		p.PaidAt = &stamp
	case models.PenaltyStatusSubmitted:
		p.SubmittedAt = at
	}
	t.state.penalties[id] = p
	return true, nil
}

// --- Directory ---

func (t *tx) GetContact(ctx context.Context, userID string) (*models.Contact, error) {
	if err := t.check("GetContact"); err != nil {
		return nil, err
	}
	c, ok := t.state.contacts[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *tx) ListUserIDsByRole(ctx context.Context, role models.Role) ([]string, error) {
	if err := t.check("ListUserIDsByRole"); err != nil {
		return nil, err
	}
	var ids []string
	for id, c := range t.state.contacts {
		if c.Role == role {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *tx) GetAuditorFirm(ctx context.Context, auditorID string) (string, error) {
	if err := t.check("GetAuditorFirm"); err != nil {
		return "", err
	}
	firm, ok := t.state.firms[auditorID]
	if !ok {
		return "", store.ErrNotFound
	}
	return firm, nil
}

func (t *tx) HasActiveAssignment(ctx context.Context, firmID, agencyID string) (bool, error) {
	if err := t.check("HasActiveAssignment"); err != nil {
		return false, err
	}
	a, ok := t.state.assignments[assignmentKey(firmID, agencyID)]
	return ok && a.Active, nil
}

func (t *tx) ListAssignments(ctx context.Context, firmID string) ([]*models.AgencyAssignment, error) {
	if err := t.check("ListAssignments"); err != nil {
		return nil, err
	}
	var out []*models.AgencyAssignment
	for _, a := range t.state.assignments {
		if a.FirmID == firmID {
			c := a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgencyID < out[j].AgencyID })
	return out, nil
}

func (t *tx) ReplaceAssignments(ctx context.Context, firmID string, agencyIDs []string, at time.Time) error {
	if err := t.check("ReplaceAssignments"); err != nil {
		return err
	}
	for k, a := range t.state.assignments {
		if a.FirmID == firmID && a.Active {
			a.Active = false
			t.state.assignments[k] = a
		}
	}
	for _, agencyID := range agencyIDs {
		t.state.assignments[assignmentKey(firmID, agencyID)] = models.AgencyAssignment{
			FirmID: firmID, AgencyID: agencyID, Active: true, AssignedAt: at,
		}
	}
	return nil
}

// --- Activity and notifications ---

func (t *tx) InsertActivity(ctx context.Context, l *models.ActivityLog) error {
	if err := t.check("InsertActivity"); err != nil {
		return err
	}
	c := *l
	c.Details = clonePayload(l.Details)
	t.state.activity = append(t.state.activity, c)
	return nil
}

func (t *tx) ListActivity(ctx context.Context, entityType, entityID string) ([]*models.ActivityLog, error) {
	if err := t.check("ListActivity"); err != nil {
		return nil, err
	}
	var out []*models.ActivityLog
	for _, l := range t.state.activity {
		if l.EntityType == entityType && l.EntityID == entityID {
			c := l
			c.Details = clonePayload(l.Details)
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *tx) InsertNotification(ctx context.Context, n *models.Notification) error {
	if err := t.check("InsertNotification"); err != nil {
		return err
	}
	t.state.notifications = append(t.state.notifications, *n)
	return nil
}

func (t *tx) ListNotifications(ctx context.Context, recipientID string) ([]*models.Notification, error) {
	if err := t.check("ListNotifications"); err != nil {
		return nil, err
	}
	var out []*models.Notification
	for _, n := range t.state.notifications {
		if n.RecipientID == recipientID {
			c := n
			out = append(out, &c)
		}
	}
	return out, nil
}

// ==========================
// Clone helpers
// ==========================

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func clonePayload(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneForm(f models.FormSubmission) models.FormSubmission {
	f.Payload = clonePayload(f.Payload)
	f.FirstSubmittedAt = cloneTime(f.FirstSubmittedAt)
	return f
}

func cloneApproval(r models.ApprovalRequest) models.ApprovalRequest {
	r.ReviewedAt = cloneTime(r.ReviewedAt)
	r.ConsumedAt = cloneTime(r.ConsumedAt)
	return r
}

func cloneObservation(o models.Observation) models.Observation {
	o.ResponseDeadline = cloneTime(o.ResponseDeadline)
	o.RespondedAt = cloneTime(o.RespondedAt)
	if o.AgencyAccepted != nil {
		v := *o.AgencyAccepted
		o.AgencyAccepted = &v
	}
	return o
}
