package rfqsubmitbid

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
	"rfq-workers/internal/rfq"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "rfq-submit-bid"

// Collector records vendor bids against open RFQ sessions.
type Collector interface {
	SubmitBid(ctx context.Context, sub models.BidSubmission) (*rfq.SubmitResult, error)
}

type Handler struct {
	config    *Config
	collector Collector
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, collector Collector, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		collector: collector,
		errors:    errors.NewErrorHandler(log),
		logger:    log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) camunda.JobOutcome {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return camunda.JobFailed
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return camunda.JobFailed
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"jobKey": job.GetKey(), "error": err})
		return camunda.JobCompleteError
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"jobKey": job.GetKey(), "error": err})
		return camunda.JobCompleteError
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
	return camunda.JobCompleted
}

func parseInput(job entities.Job) (*Input, error) {
	raw := []byte(job.GetVariables())
	if err := validation.Validate(inputSchema, raw); err != nil {
		return nil, err
	}
	var input Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, errors.NewInvalidInputError(err.Error())
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.collector.SubmitBid(ctx, models.BidSubmission{
		SessionID: input.SessionID,
		Token:     input.Token,
		Category:  input.Category,
		Payload:   input.Payload,
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		SessionStatus: string(result.Report.Status),
		SessionID:     result.SessionID,
		Category:      string(result.Category),
		Received:      result.Report.Received,
		Expected:      result.Report.Expected,
	}, nil
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
