// internal/workers/compliance/sweep-overdue-observations/handler.go
package sweepoverdue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/common/metrics"
	"compliance-workflow/internal/common/observability"
	"compliance-workflow/internal/services/sweeper"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "sweep-overdue-observations"
)

// Sweeper is satisfied by *sweeper.Service.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, trigger string) (sweeper.SweepResult, error)
}

type Handler struct {
	config  *Config
	sweeper Sweeper
	errors  *apperr.ErrorHandler
	obs     *observability.Observability
	logger  logger.Logger
	now     func() time.Time
}

func NewHandler(config *Config, s Sweeper, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		sweeper: s,
		errors:  apperr.NewErrorHandler(log),
		obs:     obs,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if vars := strings.TrimSpace(job.Variables); vars != "" {
		if err := json.Unmarshal([]byte(vars), &input); err != nil {
			h.fail(ctx, client, job, apperr.NewValidationError("variables", fmt.Sprintf("parse input: %v", err)))
			return
		}
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}
	h.complete(ctx, client, job, output)
}

// Execute runs one sweep. Row failures are part of the output; only a failed
// selection is an error.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	now := h.now()
	if input != nil && input.AsOf != "" {
		t, err := time.Parse(time.RFC3339, input.AsOf)
		if err != nil {
			return nil, apperr.NewValidationError("asOf", "asOf must be an RFC3339 timestamp")
		}
		now = t.UTC()
	}

	res, err := h.sweeper.Sweep(ctx, now, sweeper.TriggerJob)
	if err != nil {
		return nil, err
	}
	return &Output{
		Accepted:  res.Count,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
		Contended: res.Contended,
		SweptAt:   now.Format(time.RFC3339),
	}, nil
}

func (h *Handler) complete(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "completed")
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperr.Normalize(err).Code)).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "failed")
	h.errors.HandleJobError(ctx, client, job, err)
}
