package sweepoverdue

import (
	"context"
	"errors"
	"testing"
	"time"

	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/services/sweeper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Service Implementation
// ==========================

type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) Sweep(ctx context.Context, now time.Time, trigger string) (sweeper.SweepResult, error) {
	args := m.Called(ctx, now, trigger)
	return args.Get(0).(sweeper.SweepResult), args.Error(1)
}

// ==========================
// Test Helper Functions
// ==========================

var fixedNow = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, s Sweeper) *Handler {
	h := NewHandler(LoadConfig(), s, nil, logger.NewTestLogger(t))
	h.now = func() time.Time { return fixedNow }
	return h
}

func at(want time.Time) interface{} {
	return mock.MatchedBy(func(got time.Time) bool { return got.Equal(want) })
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name     string
		input    *Input
		wantTime time.Time
		result   sweeper.SweepResult
	}{
		{
			name:     "defaults to now",
			input:    &Input{},
			wantTime: fixedNow,
			result:   sweeper.SweepResult{Count: 3, Skipped: 1},
		},
		{
			name:     "nil input",
			input:    nil,
			wantTime: fixedNow,
			result:   sweeper.SweepResult{},
		},
		{
			name:     "explicit asOf",
			input:    &Input{AsOf: "2024-06-09T12:00:00+05:30"},
			wantTime: time.Date(2024, 6, 9, 6, 30, 0, 0, time.UTC),
			result:   sweeper.SweepResult{Count: 1, Failed: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MockSweeper{}
			m.On("Sweep", mock.Anything, at(tt.wantTime), sweeper.TriggerJob).Return(tt.result, nil)

			out, err := newTestHandler(t, m).Execute(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.result.Count, out.Accepted)
			assert.Equal(t, tt.result.Failed, out.Failed)
			assert.Equal(t, tt.result.Skipped, out.Skipped)
			assert.Equal(t, tt.wantTime.Format(time.RFC3339), out.SweptAt)
			m.AssertExpectations(t)
		})
	}
}

func TestHandler_Execute_ReportsContention(t *testing.T) {
	m := &MockSweeper{}
	m.On("Sweep", mock.Anything, at(fixedNow), sweeper.TriggerJob).Return(sweeper.SweepResult{Contended: true}, nil)

	out, err := newTestHandler(t, m).Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.True(t, out.Contended)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_InvalidAsOf(t *testing.T) {
	m := &MockSweeper{}

	_, err := newTestHandler(t, m).Execute(context.Background(), &Input{AsOf: "yesterday"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	m.AssertNotCalled(t, "Sweep", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_Execute_SweepFailure(t *testing.T) {
	m := &MockSweeper{}
	cause := apperr.NewDependencyError("sweep overdue observations", errors.New("connection refused"))
	m.On("Sweep", mock.Anything, at(fixedNow), sweeper.TriggerJob).Return(sweeper.SweepResult{}, cause)

	_, err := newTestHandler(t, m).Execute(context.Background(), &Input{})
	require.Error(t, err)
	assert.True(t, apperr.Normalize(err).Retryable)

	bpmn := apperr.ConvertToBPMNError(apperr.Normalize(err))
	assert.Equal(t, 3, bpmn.Retries)
}
