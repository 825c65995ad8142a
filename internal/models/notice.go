// internal/models/notice.go
package models

import "time"

type NoticeStatus string

const (
	NoticeStatusIssued    NoticeStatus = "ISSUED"
	NoticeStatusResponded NoticeStatus = "RESPONDED"
	NoticeStatusClosed    NoticeStatus = "CLOSED"
)

// ShowCauseNotice bundles observations of one agency into a formal notice.
type ShowCauseNotice struct {
	ID                 string       `json:"id"`
	Subject            string       `json:"subject"`
	Details            string       `json:"details"`
	ResponseDueDate    time.Time    `json:"responseDueDate"`
	Status             NoticeStatus `json:"status"`
	IssuedByAdminID    string       `json:"issuedByAdminId"`
	ReceivedByAgencyID string       `json:"receivedByAgencyId"`
	AdminRemarks       string       `json:"adminRemarks,omitempty"`
	ClosedAt           *time.Time   `json:"closedAt,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// ReferenceNo is the human readable reference printed on penalties.
func (n *ShowCauseNotice) ReferenceNo() string {
	id := n.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "SCN/" + n.CreatedAt.Format("2006") + "/" + id
}
