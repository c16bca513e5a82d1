package rfqsessionstatus

import (
	"context"
	"encoding/json"
	"time"

	"rfq-workers/internal/common/camunda"
	"rfq-workers/internal/common/errors"
	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/common/metrics"
	"rfq-workers/internal/common/validation"
	"rfq-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "rfq-session-status"

// StatusReader evaluates the completion status of an existing session.
type StatusReader interface {
	SessionStatus(ctx context.Context, sessionID string) (*models.StatusReport, error)
}

type Handler struct {
	config *Config
	status StatusReader
	errors *errors.ErrorHandler
	logger logger.Logger
}

func NewHandler(config *Config, status StatusReader, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		status: status,
		errors: errors.NewErrorHandler(log),
		logger: log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) camunda.JobOutcome {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	raw := []byte(job.GetVariables())
	if err := validation.Validate(inputSchema, raw); err != nil {
		h.failJob(ctx, client, job, err)
		return camunda.JobFailed
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		h.failJob(ctx, client, job, errors.NewInvalidInputError(err.Error()))
		return camunda.JobFailed
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return camunda.JobFailed
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err == nil {
		_, err = cmd.Send(ctx)
	}
	if err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{"jobKey": job.GetKey(), "error": err})
		return camunda.JobCompleteError
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
	return camunda.JobCompleted
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	report, err := h.status.SessionStatus(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	outstanding := report.Outstanding
	if outstanding == nil {
		outstanding = []models.Category{}
	}
	return &Output{
		SessionStatus: string(report.Status),
		Expected:      report.Expected,
		Received:      report.Received,
		Outstanding:   outstanding,
	}, nil
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
