// internal/workers/compliance/issue-show-cause-notices/handler.go
package issuenotices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"compliance-workflow/internal/common/auth"
	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/common/metrics"
	"compliance-workflow/internal/common/observability"
	"compliance-workflow/internal/services/escalation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "issue-show-cause-notices"
)

// BulkIssuer is satisfied by *escalation.Service.
type BulkIssuer interface {
	IssueBulk(ctx context.Context, actor auth.Actor, in escalation.BulkIssueInput) (*escalation.BulkIssueResult, error)
}

type Handler struct {
	config *Config
	issuer BulkIssuer
	errors *apperr.ErrorHandler
	obs    *observability.Observability
	logger logger.Logger
}

func NewHandler(config *Config, issuer BulkIssuer, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		issuer: issuer,
		errors: apperr.NewErrorHandler(log),
		obs:    obs,
		logger: log,
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
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperr.NewValidationError("variables", fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}
	h.complete(ctx, client, job, output)
}

// Execute issues one notice per target on behalf of the admin named in the
// input. Per-target failures are returned in the output, not as an error.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, apperr.NewValidationError("variables", "input cannot be nil")
	}
	actor, ok := input.GetSession(ctx)
	if !ok {
		return nil, apperr.NewValidationError("adminId", "adminId is required")
	}

	var due time.Time
	if input.ResponseDueDate != "" {
		t, err := time.Parse(time.RFC3339, input.ResponseDueDate)
		if err != nil {
			return nil, apperr.NewValidationError("responseDueDate", "responseDueDate must be an RFC3339 timestamp")
		}
		due = t.UTC()
	}

	res, err := h.issuer.IssueBulk(ctx, actor, escalation.BulkIssueInput{
		Subject:         input.Subject,
		Details:         input.Details,
		ResponseDueDate: due,
		Targets:         input.Targets,
	})
	if err != nil {
		return nil, err
	}

	out := &Output{
		NoticeIDs: make([]string, 0, len(res.Issued)),
		Issued:    len(res.Issued),
		Failed:    len(res.Failures),
		Failures:  make([]Failure, 0, len(res.Failures)),
	}
	for _, n := range res.Issued {
		out.NoticeIDs = append(out.NoticeIDs, n.ID)
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, Failure{AgencyID: f.AgencyID, Code: string(f.Code), Message: f.Message})
	}

	h.logger.Info("notices issued", map[string]interface{}{
		"issued": out.Issued,
		"failed": out.Failed,
	})
	return out, nil
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
