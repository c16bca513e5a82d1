// cmd/worker-manager/main.go
package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rfq-workers/internal/common/camunda"
	"rfq-workers/internal/common/config"
	httpclient "rfq-workers/internal/common/http"
	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/common/observability"
	"rfq-workers/internal/common/token"
	"rfq-workers/internal/gateway"
	"rfq-workers/internal/rfq"
	"rfq-workers/pkg/registry"

	dispatch "rfq-workers/internal/workers/rfq/rfq-dispatch"
	status "rfq-workers/internal/workers/rfq/rfq-session-status"
	submitbid "rfq-workers/internal/workers/rfq/rfq-submit-bid"
)

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"app":     cfg.App.Name,
		"version": cfg.App.Version,
	})

	zapLog.Info("Starting RFQ worker manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("storeBackend", cfg.RFQ.StoreBackend),
		zap.String("lookupBackend", cfg.RFQ.LookupBackend),
	)

	obsOpts := []observability.Option{observability.WithSampleRatio(cfg.Tracing.SampleRatio)}
	if cfg.Tracing.Enabled {
		sp, err := observability.NewOTLPProcessor(context.Background(), cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
		if err != nil {
			zapLog.Fatal("trace exporter initialization failed", zap.Error(err))
		}
		obsOpts = append(obsOpts, observability.WithSpanProcessor(sp))
		zapLog.Info("exporting traces", zap.String("endpoint", cfg.Tracing.Endpoint))
	}
	obs := observability.New(cfg.App.Name, obsOpts...)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildDependencies(ctx, cfg, log, zapLog)
	if err != nil {
		zapLog.Fatal("dependency initialization failed", zap.Error(err))
	}
	defer deps.Close()

	// --- Zeebe client (optional) ---
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      config.GetDuration(cfg.Camunda.Timeout),
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		zapLog.Info("Zeebe client connected successfully")

		if cfg.Camunda.CompletionMessage != "" {
			deps.notifiers = append(deps.notifiers, camunda.NewCompletionPublisher(zeebe, cfg.Camunda.CompletionMessage))
		}
	}

	// --- RFQ service ---
	opts := []rfq.Option{rfq.WithTracer(obs.Tracer())}
	if len(deps.notifiers) > 0 {
		opts = append(opts, rfq.WithNotifier(deps.notifiers))
	}
	if deps.audit != nil {
		opts = append(opts, rfq.WithAuditRecorder(deps.audit))
	}

	svc := rfq.NewService(
		deps.store,
		deps.lookup,
		token.NewUUIDIssuer(),
		httpclient.NewClient(config.GetDuration(cfg.RFQ.EndpointTimeout)),
		rfq.Config{
			EndpointTimeout: config.GetDuration(cfg.RFQ.EndpointTimeout),
			MaxConcurrency:  cfg.RFQ.MaxConcurrency,
			Action:          cfg.RFQ.Action,
			CallbackAddress: cfg.RFQ.CallbackAddress,
		},
		log,
		opts...,
	)

	// --- Workers ---
	var workers []*camunda.CamundaWorker
	if zeebe != nil {
		workers = startWorkers(zeebe, cfg, svc, obs, log, zapLog)
		zapLog.Info("workers registered", zap.Int("count", len(workers)))
	}

	// --- Gateway ---
	gwOpts := []gateway.Option{}
	if zeebe != nil {
		gwOpts = append(gwOpts, gateway.WithReadinessCheck("zeebe", zeebe.HealthCheck))
	}
	for name, check := range deps.checks {
		gwOpts = append(gwOpts, gateway.WithReadinessCheck(name, check))
	}

	server := &http.Server{
		Addr:         cfg.Gateway.Address,
		Handler:      gateway.NewRouter(gateway.New(svc, gateway.Config{MaxBodyBytes: cfg.Gateway.MaxBodyBytes}, log, gwOpts...)),
		ReadTimeout:  config.GetDuration(cfg.Gateway.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Gateway.WriteTimeout),
	}

	serverErr := make(chan error, 1)
	go func() {
		zapLog.Info("Gateway listening", zap.String("address", cfg.Gateway.Address))
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// --- Graceful Shutdown ---
	select {
	case <-ctx.Done():
		zapLog.Info("Shutdown signal received, stopping...")
	case err := <-serverErr:
		zapLog.Error("Gateway failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down gateway", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func startWorkers(zeebe *camunda.Client, cfg *config.Config, svc *rfq.Service, obs *observability.Observability, log logger.Logger, zapLog *zap.Logger) []*camunda.CamundaWorker {
	var workers []*camunda.CamundaWorker
	start := func(taskType string, enabled bool, validate func() error, maxJobs int, timeout time.Duration, handler camunda.JobHandler) {
		if !shouldStart(taskType, enabled, validate, zapLog) {
			return
		}
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), camunda.WorkerOptions{
			TaskType:      taskType,
			MaxJobsActive: maxJobs,
			Timeout:       timeout,
			Recorder:      obs,
		}, handler, zapLog))
	}

	dcfg := dispatch.LoadConfig(cfg)
	start(dispatch.TaskType, dcfg.Enabled, dcfg.Validate, dcfg.MaxJobsActive, dcfg.Timeout, dispatch.NewHandler(dcfg, svc, log))

	bcfg := submitbid.LoadConfig(cfg)
	start(submitbid.TaskType, bcfg.Enabled, bcfg.Validate, bcfg.MaxJobsActive, bcfg.Timeout, submitbid.NewHandler(bcfg, svc, log))

	scfg := status.LoadConfig(cfg)
	start(status.TaskType, scfg.Enabled, scfg.Validate, scfg.MaxJobsActive, scfg.Timeout, status.NewHandler(scfg, svc, log))

	checkRegistry(cfg.App.Registry, []string{dispatch.TaskType, submitbid.TaskType, status.TaskType}, zapLog)
	return workers
}

// shouldStart reports whether a worker should be registered; invalid configs are skipped, not fatal.
func shouldStart(taskType string, enabled bool, validate func() error, zapLog *zap.Logger) bool {
	if !enabled {
		zapLog.Info("worker disabled", zap.String("taskType", taskType))
		return false
	}
	if err := validate(); err != nil {
		zapLog.Error("invalid worker config, not starting", zap.String("taskType", taskType), zap.Error(err))
		return false
	}
	return true
}

// checkRegistry warns when a task type served here is missing from the activity registry
// the BPMN models are authored against.
func checkRegistry(path string, taskTypes []string, zapLog *zap.Logger) {
	if path == "" {
		return
	}
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		zapLog.Warn("activity registry unavailable", zap.String("path", path), zap.Error(err))
		return
	}
	if err := reg.Validate(); err != nil {
		zapLog.Warn("activity registry invalid", zap.String("path", path), zap.Error(err))
		return
	}
	for _, taskType := range taskTypes {
		if _, ok := reg.Find(taskType); !ok {
			zapLog.Warn("task type not in activity registry", zap.String("taskType", taskType))
		}
	}
}
