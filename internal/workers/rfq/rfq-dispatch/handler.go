package rfqdispatch

import (
	"context"
	"encoding/json"
	"fmt"
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

const TaskType = "rfq-dispatch"

// Dispatcher opens an RFQ session for a stack and broadcasts its RFQs.
type Dispatcher interface {
	Dispatch(ctx context.Context, stackID string) (*models.DispatchResult, error)
}

type Handler struct {
	config     *Config
	dispatcher Dispatcher
	errors     *errors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(config *Config, dispatcher Dispatcher, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		dispatcher: dispatcher,
		errors:     errors.NewErrorHandler(log),
		logger:     log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) camunda.JobOutcome {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

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

	if err := h.completeJob(ctx, client, job, output); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{"jobKey": job.GetKey(), "error": err})
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
	result, err := h.dispatcher.Dispatch(ctx, input.StackID)
	if err != nil {
		return nil, err
	}
	return &Output{
		SessionID:     result.SessionID,
		DispatchToken: result.DispatchToken,
		Results:       result.Results,
		Dispatched:    len(result.Results),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("create complete job command: %w", err)
	}
	if _, err := cmd.Send(ctx); err != nil {
		return fmt.Errorf("send complete job command: %w", err)
	}
	return nil
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

// Execute runs the dispatch step without a job client.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
