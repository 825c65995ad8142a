// internal/workers/compliance/issue-show-cause-notices/models.go
package issuenotices

import (
	"context"
	"strings"

	"compliance-workflow/internal/common/auth"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/services/escalation"
)

type Input struct {
	AdminID         string                  `json:"adminId"`
	Subject         string                  `json:"subject"`
	Details         string                  `json:"details"`
	ResponseDueDate string                  `json:"responseDueDate,omitempty"` // RFC3339
	Targets         []escalation.BulkTarget `json:"targets"`
}

var _ auth.SessionProvider = (*Input)(nil)

// GetSession reports the admin the process acts for.
func (in *Input) GetSession(ctx context.Context) (auth.Actor, bool) {
	id := strings.TrimSpace(in.AdminID)
	if id == "" {
		return auth.Actor{}, false
	}
	return auth.Actor{UserID: id, Role: models.RoleAdmin}, true
}

type Output struct {
	NoticeIDs []string  `json:"noticeIds"`
	Issued    int       `json:"issuedCount"`
	Failed    int       `json:"failedCount"`
	Failures  []Failure `json:"failures"`
}

type Failure struct {
	AgencyID string `json:"agencyId"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}
