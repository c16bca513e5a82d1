package rfq

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"rfq-workers/internal/common/contracts"
	"rfq-workers/internal/common/errors"
	httpclient "rfq-workers/internal/common/http"
	"rfq-workers/internal/common/metrics"
	"rfq-workers/internal/common/session"
	"rfq-workers/internal/models"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type categoryPlan struct {
	category  models.Category
	endpoints []string
	payload   models.RFQPayload
}

// Dispatch opens a session for stackID, persists one placeholder per dispatchable category
// and posts the RFQ to every endpoint. Endpoint failures are reported in the result.
func (s *Service) Dispatch(ctx context.Context, stackID string) (result *models.DispatchResult, err error) {
	stackID = strings.TrimSpace(stackID)

	ctx, span := s.tracer.Start(ctx, "rfq.dispatch", trace.WithAttributes(attribute.String("rfq.stack_id", stackID)))
	defer func() {
		finishSpan(span, err)
		metrics.DispatchTotal.WithLabelValues(outcomeLabel(err)).Inc()
	}()

	if stackID == "" {
		return nil, errors.NewInvalidInputError("stack_id is required")
	}

	record, err := s.lookup.Lookup(ctx, stackID)
	if stderrors.Is(err, contracts.ErrStackNotFound) {
		return nil, errors.NewStackNotFoundError(stackID)
	}
	if err != nil {
		s.logger.Error("contract lookup failed", map[string]interface{}{"stackId": stackID, "error": err})
		return nil, errors.NewInternalError("contract lookup", err)
	}
	if record.IsEmpty() {
		return nil, errors.NewInvalidRecordError(stackID)
	}

	sessionID := s.issuer.NewToken()
	dispatchToken := s.issuer.NewToken()
	span.SetAttributes(attribute.String("rfq.session_id", sessionID))

	if err := s.store.CreateSession(ctx, sessionID, dispatchToken); err != nil {
		if stderrors.Is(err, session.ErrAlreadyExists) {
			s.logger.Error("session id collision", map[string]interface{}{"sessionId": sessionID, "stackId": stackID})
			return nil, errors.NewSessionCollisionError(sessionID)
		}
		s.logger.Error("failed to create session", map[string]interface{}{"sessionId": sessionID, "error": err})
		return nil, errors.NewInternalError("create session", err)
	}

	// Every placeholder exists before the first RFQ leaves, so early callbacks find their record.
	plans := make([]categoryPlan, 0, len(models.Categories))
	for _, category := range models.Categories {
		svc := record.Service(category)
		if !svc.Dispatchable() {
			continue
		}

		bidToken := s.issuer.NewToken()
		if err := s.store.PutCategory(ctx, models.CategoryRecord{
			SessionID:     sessionID,
			Category:      category,
			BidToken:      bidToken,
			ContractValue: *svc.ContractValue,
		}); err != nil {
			s.logger.Error("failed to persist category placeholder", map[string]interface{}{
				"sessionId": sessionID,
				"category":  string(category),
				"error":     err,
			})
			return nil, errors.NewInternalError("put category", err)
		}

		plans = append(plans, categoryPlan{
			category:  category,
			endpoints: svc.Endpoints,
			payload: models.RFQPayload{
				SessionID:       sessionID,
				Token:           bidToken,
				ContractValue:   *svc.ContractValue,
				Action:          s.config.Action,
				CallbackAddress: s.config.CallbackAddress,
			},
		})
	}

	if len(plans) == 0 {
		s.logger.Warn("no dispatchable category in contract record", map[string]interface{}{
			"stackId":   stackID,
			"sessionId": sessionID,
		})
	}

	result = &models.DispatchResult{
		SessionID:     sessionID,
		DispatchToken: dispatchToken,
		Results:       s.broadcast(ctx, plans),
	}

	s.logger.Info("dispatch completed", map[string]interface{}{
		"stackId":    stackID,
		"sessionId":  sessionID,
		"categories": len(plans),
	})

	if s.audit != nil {
		auditCtx, cancel := sideEffectContext(ctx)
		defer cancel()
		if err := s.audit.RecordDispatch(auditCtx, stackID, result); err != nil {
			s.logger.Warn("failed to audit dispatch", map[string]interface{}{"sessionId": sessionID, "error": err})
		}
	}

	return result, nil
}

// broadcast posts every plan to every endpoint concurrently and waits for all attempts.
// Attempts are detached from the caller's cancellation and bounded only by the endpoint timeout.
func (s *Service) broadcast(ctx context.Context, plans []categoryPlan) []models.CategoryOutcome {
	results := make([]models.CategoryOutcome, len(plans))
	for i, plan := range plans {
		results[i] = models.CategoryOutcome{
			Service: plan.category,
			Results: make([]models.EndpointOutcome, len(plan.endpoints)),
		}
	}

	workers := fanOutWidth(plans, s.config.MaxConcurrency)
	if workers == 0 {
		return results
	}

	attemptCtx := context.WithoutCancel(ctx)
	p := pool.New().WithMaxGoroutines(workers)
	for i, plan := range plans {
		for j, endpoint := range plan.endpoints {
			i, j, plan, endpoint := i, j, plan, endpoint
			p.Go(func() {
				results[i].Results[j] = s.post(attemptCtx, plan, endpoint)
			})
		}
	}
	p.Wait()

	return results
}

// fanOutWidth is the pool size for plans: one goroutine per endpoint, capped by limit when positive.
func fanOutWidth(plans []categoryPlan, limit int) int {
	total := 0
	for _, plan := range plans {
		total += len(plan.endpoints)
	}
	if limit > 0 && limit < total {
		return limit
	}
	return total
}

func (s *Service) post(ctx context.Context, plan categoryPlan, endpoint string) models.EndpointOutcome {
	ctx, cancel := context.WithTimeout(ctx, s.config.EndpointTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "rfq.endpoint", trace.WithAttributes(
		attribute.String("rfq.category", string(plan.category)),
		attribute.String("rfq.endpoint", endpoint),
	))
	defer span.End()

	service := string(plan.category)
	start := time.Now()
	resp, err := s.poster.PostJSON(ctx, endpoint, plan.payload)
	metrics.EndpointDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())

	out := models.EndpointOutcome{Endpoint: endpoint}
	if err != nil {
		code := errors.ErrCodeEndpointUnreachable
		if httpclient.IsTimeout(err) {
			code = errors.ErrCodeEndpointTimeout
		}
		out.Error = err.Error()
		out.ErrorCode = string(code)

		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		metrics.EndpointRequests.WithLabelValues(service, string(code)).Inc()
		s.logger.Warn("RFQ delivery failed", map[string]interface{}{
			"sessionId": plan.payload.SessionID,
			"category":  service,
			"endpoint":  endpoint,
			"errorCode": string(code),
			"error":     err,
		})
		return out
	}

	out.StatusCode = resp.StatusCode
	out.Body = resp.Body
	out.Truncated = resp.Truncated
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	metrics.EndpointRequests.WithLabelValues(service, "delivered").Inc()
	return out
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.CodeOf(err)))
	}
	span.End()
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errors.CodeOf(err))
}
