package escalation

import (
	"testing"

	"compliance-workflow/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestDeriveNoticeStatus(t *testing.T) {
	tests := []struct {
		name     string
		current  models.NoticeStatus
		children []models.ObservationStatus
		want     models.NoticeStatus
	}{
		{"no children", models.NoticeStatusIssued, nil, models.NoticeStatusIssued},
		{"one open", models.NoticeStatusIssued,
			[]models.ObservationStatus{models.ObservationAgencyAccepted, models.ObservationSentToAgency},
			models.NoticeStatusIssued},
		{"legacy awaiting is open", models.NoticeStatusIssued,
			[]models.ObservationStatus{models.ObservationAwaitingAgencyResponse},
			models.NoticeStatusIssued},
		{"all resolved", models.NoticeStatusIssued,
			[]models.ObservationStatus{models.ObservationAgencyDisputed, models.ObservationAutoAccepted, models.ObservationClosed},
			models.NoticeStatusResponded},
		{"responded stays", models.NoticeStatusResponded,
			[]models.ObservationStatus{models.ObservationClosed},
			models.NoticeStatusResponded},
		{"closed is final", models.NoticeStatusClosed,
			[]models.ObservationStatus{models.ObservationSentToAgency},
			models.NoticeStatusClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveNoticeStatus(tt.current, tt.children))
		})
	}
}
