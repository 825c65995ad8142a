// internal/services/escalation/derive.go
package escalation

import "compliance-workflow/internal/models"

// DeriveNoticeStatus returns the status a notice should have given the
// statuses of its observations. An issued notice becomes RESPONDED once every
// observation is resolved. Closing is always explicit, and a closed notice
// never changes again.
func DeriveNoticeStatus(current models.NoticeStatus, children []models.ObservationStatus) models.NoticeStatus {
	if current != models.NoticeStatusIssued || len(children) == 0 {
		return current
	}
	if allResolved(children) {
		return models.NoticeStatusResponded
	}
	return current
}

func allResolved(children []models.ObservationStatus) bool {
	for _, s := range children {
		if !s.Resolved() {
			return false
		}
	}
	return true
}

func statuses(obs []*models.Observation) []models.ObservationStatus {
	out := make([]models.ObservationStatus, len(obs))
	for i, o := range obs {
		out[i] = o.Status
	}
	return out
}
