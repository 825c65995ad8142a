// internal/services/activity/trail.go

// Package activity records the audit trail of every state change. Entries are
// collected during an operation, written in the same transaction as the
// change they describe, and mirrored to a search index after commit.
package activity

import "compliance-workflow/internal/models"

// Entry is one activity record before it gets an id and timestamp.
type Entry struct {
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]interface{}
}

// Trail collects the entries of one operation.
type Trail struct {
	entries []Entry
}

func (t *Trail) Record(userID, action, entityType, entityID string, details map[string]interface{}) {
	t.entries = append(t.entries, Entry{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	})
}

func (t *Trail) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Trail) Len() int {
	return len(t.entries)
}

// Change builds the details of an update from the before and after snapshots
// of the mutable fields. extra keys are merged at the top level.
func Change(before, after map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	d := map[string]interface{}{}
	if before != nil {
		d["before"] = before
	}
	if after != nil {
		d["after"] = after
	}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

// FormDetails is the details map for a form transition.
func FormDetails(before, after *models.FormSubmission) map[string]interface{} {
	var b, a map[string]interface{}
	if before != nil {
		b = before.Snapshot()
	}
	if after != nil {
		a = after.Snapshot()
	}
	return Change(b, a, map[string]interface{}{"formType": formType(before, after)})
}

func formType(before, after *models.FormSubmission) string {
	if after != nil {
		return string(after.FormType)
	}
	if before != nil {
		return string(before.FormType)
	}
	return ""
}
