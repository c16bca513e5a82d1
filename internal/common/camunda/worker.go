// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"
)

// JobOutcome is how a handler left the job; it labels the job telemetry.
type JobOutcome string

const (
	JobCompleted     JobOutcome = "completed"
	JobFailed        JobOutcome = "failed"
	JobCompleteError JobOutcome = "complete_error"
)

// JobHandler processes one activated job and reports completion or failure through client.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job) JobOutcome
}

// JobRecorder receives per-job telemetry.
type JobRecorder interface {
	RecordJobProcessed(ctx context.Context, taskType, status string)
	RecordJobDuration(ctx context.Context, taskType string, duration time.Duration, status string)
}

// WorkerOptions configures one job worker.
type WorkerOptions struct {
	TaskType      string
	MaxJobsActive int
	Timeout       time.Duration
	Recorder      JobRecorder
}

type CamundaWorker struct {
	worker   worker.JobWorker
	logger   *zap.Logger
	taskType string
}

// NewWorker opens a job worker for opts.TaskType and starts polling immediately.
func NewWorker(client zbc.Client, opts WorkerOptions, handler JobHandler, logger *zap.Logger) *CamundaWorker {
	if opts.MaxJobsActive <= 0 {
		opts.MaxJobsActive = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	step := client.NewJobWorker().
		JobType(opts.TaskType).
		Handler(instrument(opts.TaskType, handler, opts.Recorder)).
		MaxJobsActive(opts.MaxJobsActive).
		Timeout(opts.Timeout)

	w := &CamundaWorker{
		worker:   step.Open(),
		logger:   logger,
		taskType: opts.TaskType,
	}
	logger.Info("worker started",
		zap.String("taskType", opts.TaskType),
		zap.Int("maxJobsActive", opts.MaxJobsActive),
		zap.Duration("timeout", opts.Timeout),
	)
	return w
}

func instrument(taskType string, handler JobHandler, recorder JobRecorder) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		outcome := handler.Handle(client, job)
		if recorder != nil {
			ctx := context.Background()
			recorder.RecordJobProcessed(ctx, taskType, string(outcome))
			recorder.RecordJobDuration(ctx, taskType, time.Since(start), string(outcome))
		}
	}
}

// Stop closes the job worker and waits for in-flight jobs.
func (w *CamundaWorker) Stop() {
	w.logger.Info("stopping worker", zap.String("taskType", w.taskType))
	w.worker.Close()
	w.worker.AwaitClose()
}
