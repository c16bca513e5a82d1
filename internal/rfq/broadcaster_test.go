package rfq

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"rfq-workers/internal/common/contracts"
	apperrors "rfq-workers/internal/common/errors"
	httpclient "rfq-workers/internal/common/http"
	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/common/session"
	"rfq-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDispatch_SkipsCategoryWithoutEndpoints(t *testing.T) {
	a := newVendor(t)
	lookup := staticLookup(map[string]*models.ContractRecord{
		"S1": {StackID: "S1", Services: map[models.Category]models.ServiceContract{
			models.CategoryLocation:     {Endpoints: []string{a.URL()}, ContractValue: value(10)},
			models.CategoryNotification: {ContractValue: value(5)},
		}},
	})
	env := newTestEnv(t, lookup, Config{})
	ctx := context.Background()

	result, err := env.svc.Dispatch(ctx, "S1")
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	assert.Equal(t, models.CategoryLocation, result.Results[0].Service)
	require.Len(t, result.Results[0].Results, 1)
	outcome := result.Results[0].Results[0]
	assert.Equal(t, a.URL(), outcome.Endpoint)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Equal(t, `{"received":true}`, outcome.Body)
	assert.False(t, outcome.Failed())

	records, err := env.store.ListCategories(ctx, result.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.CategoryLocation, records[0].Category)
	assert.Equal(t, 10.0, records[0].ContractValue)
	assert.False(t, records[0].HasBid())

	rfqs := a.received()
	require.Len(t, rfqs, 1)
	assert.Equal(t, models.RFQPayload{
		SessionID:       result.SessionID,
		Token:           records[0].BidToken,
		ContractValue:   10,
		Action:          models.ActionRFQ,
		CallbackAddress: testCallback,
	}, rfqs[0])

	sess, err := env.store.GetSession(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, result.DispatchToken, sess.DispatchToken)
	assert.Equal(t, []string{"S1"}, env.audit.dispatches)
}

func TestDispatch_OneRecordPerConfiguredCategory(t *testing.T) {
	a, b, c := newVendor(t), newVendor(t), newVendor(t)
	lookup := staticLookup(map[string]*models.ContractRecord{
		"full": {StackID: "full", Services: map[models.Category]models.ServiceContract{
			models.CategoryTripManagement: {Endpoints: []string{c.URL()}, ContractValue: value(4)},
			models.CategoryRideMatching:   {Endpoints: []string{a.URL(), b.URL()}, ContractValue: value(1)},
			models.CategoryLocation:       {Endpoints: []string{b.URL()}, ContractValue: value(2)},
			models.CategoryNotification:   {Endpoints: []string{c.URL()}},
		}},
	})
	env := newTestEnv(t, lookup, Config{})

	result, err := env.svc.Dispatch(context.Background(), "full")
	require.NoError(t, err)

	assert.Equal(t, []models.Category{
		models.CategoryRideMatching,
		models.CategoryLocation,
		models.CategoryTripManagement,
	}, result.Categories())
	assert.Equal(t, a.URL(), result.Results[0].Results[0].Endpoint)
	assert.Equal(t, b.URL(), result.Results[0].Results[1].Endpoint)

	records, err := env.store.ListCategories(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	tokens := map[string]bool{result.SessionID: true, result.DispatchToken: true}
	for _, rec := range records {
		assert.False(t, tokens[rec.BidToken], "bid token reused: %s", rec.BidToken)
		tokens[rec.BidToken] = true
	}
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 2)
	assert.Len(t, c.received(), 1)
}

func TestDispatch_Errors(t *testing.T) {
	lookupErr := errors.New("table unavailable")
	lookup := func(ctx context.Context, stackID string) (*models.ContractRecord, error) {
		switch stackID {
		case "empty":
			return &models.ContractRecord{StackID: stackID}, nil
		case "broken":
			return nil, lookupErr
		}
		return staticLookup(nil).Lookup(ctx, stackID)
	}

	tests := []struct {
		name    string
		stackID string
		want    apperrors.ErrorCode
	}{
		{"empty stack id", "  ", apperrors.ErrCodeInvalidInput},
		{"unknown stack", "nope", apperrors.ErrCodeStackNotFound},
		{"record with nothing configured", "empty", apperrors.ErrCodeInvalidRecord},
		{"lookup failure", "broken", apperrors.ErrCodeInternalFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, contracts.LookupFunc(lookup), Config{})
			_, err := env.svc.Dispatch(context.Background(), tt.stackID)
			require.Error(t, err)
			assert.Equal(t, tt.want, apperrors.CodeOf(err))
		})
	}
}

func TestDispatch_PartialRecordWithoutDispatchableCategory(t *testing.T) {
	lookup := staticLookup(map[string]*models.ContractRecord{
		"values-only": {StackID: "values-only", Services: map[models.Category]models.ServiceContract{
			models.CategoryLocation: {ContractValue: value(3)},
		}},
	})
	env := newTestEnv(t, lookup, Config{})

	result, err := env.svc.Dispatch(context.Background(), "values-only")
	require.NoError(t, err)
	assert.Empty(t, result.Results)

	report, err := env.svc.Status(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, report.Status)
	assert.Equal(t, 0, report.Expected)
}

func TestDispatch_SessionCollision(t *testing.T) {
	a := newVendor(t)
	lookup := staticLookup(map[string]*models.ContractRecord{
		"S1": {StackID: "S1", Services: map[models.Category]models.ServiceContract{
			models.CategoryLocation: {Endpoints: []string{a.URL()}, ContractValue: value(10)},
		}},
	})
	store := session.NewMemoryStore()
	require.NoError(t, store.CreateSession(context.Background(), "fixed", "other"))

	svc := NewService(store, lookup, constantIssuer("fixed"), nil, Config{CallbackAddress: testCallback}, logger.NewTestLogger(t))
	_, err := svc.Dispatch(context.Background(), "S1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionCollision, apperrors.CodeOf(err))
	assert.Empty(t, a.received())

	sess, err := store.GetSession(context.Background(), "fixed")
	require.NoError(t, err)
	assert.Equal(t, "other", sess.DispatchToken)
}

func TestDispatch_EndpointFailuresAreData(t *testing.T) {
	ok := newVendor(t)
	slow := newVendor(t)
	slow.delay = 2 * time.Second
	down := newVendor(t)
	downURL := down.URL()
	down.server.Close()
	failing := newVendor(t)
	failing.status = http.StatusServiceUnavailable

	lookup := staticLookup(map[string]*models.ContractRecord{
		"S1": {StackID: "S1", Services: map[models.Category]models.ServiceContract{
			models.CategoryRideMatching: {Endpoints: []string{slow.URL(), ok.URL()}, ContractValue: value(1)},
			models.CategoryLocation:     {Endpoints: []string{downURL, failing.URL()}, ContractValue: value(2)},
		}},
	})
	env := newTestEnv(t, lookup, Config{EndpointTimeout: 200 * time.Millisecond})

	start := time.Now()
	result, err := env.svc.Dispatch(context.Background(), "S1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 1500*time.Millisecond)

	require.Len(t, result.Results, 2)
	matching, location := result.Results[0].Results, result.Results[1].Results

	assert.Equal(t, string(apperrors.ErrCodeEndpointTimeout), matching[0].ErrorCode)
	assert.NotEmpty(t, matching[0].Error)
	assert.Equal(t, http.StatusOK, matching[1].StatusCode)

	assert.Equal(t, string(apperrors.ErrCodeEndpointUnreachable), location[0].ErrorCode)
	assert.Equal(t, http.StatusServiceUnavailable, location[1].StatusCode)
	assert.False(t, location[1].Failed())
}

func TestDispatch_FanOutIsConcurrent(t *testing.T) {
	endpoints := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		v := newVendor(t)
		v.delay = 300 * time.Millisecond
		endpoints = append(endpoints, v.URL())
	}
	lookup := staticLookup(map[string]*models.ContractRecord{
		"S1": {StackID: "S1", Services: map[models.Category]models.ServiceContract{
			models.CategoryRideMatching: {Endpoints: endpoints[:3], ContractValue: value(1)},
			models.CategoryLocation:     {Endpoints: endpoints[3:], ContractValue: value(2)},
		}},
	})
	env := newTestEnv(t, lookup, Config{EndpointTimeout: 2 * time.Second, MaxConcurrency: 8})

	start := time.Now()
	result, err := env.svc.Dispatch(context.Background(), "S1")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 1200*time.Millisecond)
	for _, cat := range result.Results {
		for _, o := range cat.Results {
			assert.Equal(t, http.StatusOK, o.StatusCode)
		}
	}
}

func TestDispatch_DefaultWidthCoversEveryEndpoint(t *testing.T) {
	v := newVendor(t)
	v.delay = 300 * time.Millisecond
	endpoints := make([]string, 40)
	for i := range endpoints {
		endpoints[i] = v.URL()
	}
	lookup := staticLookup(map[string]*models.ContractRecord{
		"S1": {StackID: "S1", Services: map[models.Category]models.ServiceContract{
			models.CategoryRideMatching: {Endpoints: endpoints, ContractValue: value(1)},
		}},
	})
	env := newTestEnv(t, lookup, Config{EndpointTimeout: 2 * time.Second})

	start := time.Now()
	result, err := env.svc.Dispatch(context.Background(), "S1")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 1500*time.Millisecond)
	require.Len(t, result.Results[0].Results, 40)
	assert.Len(t, v.received(), 40)
}

func TestFanOutWidth(t *testing.T) {
	plans := []categoryPlan{
		{endpoints: []string{"a", "b", "c"}},
		{endpoints: []string{"d"}},
	}
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"unbounded", 0, 4},
		{"cap below endpoints", 2, 2},
		{"cap above endpoints", 10, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fanOutWidth(plans, tt.limit))
		})
	}
	assert.Zero(t, fanOutWidth(nil, 0))
}

func TestDispatch_ReportsTruncatedBody(t *testing.T) {
	v := newVendor(t)
	v.body = bytes.Repeat([]byte("x"), httpclient.DefaultMaxBodyBytes+10)
	short := newVendor(t)
	lookup := staticLookup(map[string]*models.ContractRecord{
		"S1": {StackID: "S1", Services: map[models.Category]models.ServiceContract{
			models.CategoryLocation: {Endpoints: []string{v.URL(), short.URL()}, ContractValue: value(10)},
		}},
	})
	env := newTestEnv(t, lookup, Config{})

	result, err := env.svc.Dispatch(context.Background(), "S1")
	require.NoError(t, err)

	outcomes := result.Results[0].Results
	assert.True(t, outcomes[0].Truncated)
	assert.Len(t, outcomes[0].Body, httpclient.DefaultMaxBodyBytes)
	assert.False(t, outcomes[1].Truncated)
}

func TestDispatch_CallerCancellationDoesNotAbortAttempts(t *testing.T) {
	v := newVendor(t)
	v.delay = 100 * time.Millisecond
	lookup := staticLookup(map[string]*models.ContractRecord{
		"S1": {StackID: "S1", Services: map[models.Category]models.ServiceContract{
			models.CategoryLocation: {Endpoints: []string{v.URL()}, ContractValue: value(10)},
		}},
	})
	env := newTestEnv(t, lookup, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := env.svc.Dispatch(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Results[0].Results[0].StatusCode)
}

func TestDispatch_Spans(t *testing.T) {
	v := newVendor(t)
	lookup := staticLookup(map[string]*models.ContractRecord{
		"S1": {StackID: "S1", Services: map[models.Category]models.ServiceContract{
			models.CategoryLocation: {Endpoints: []string{v.URL()}, ContractValue: value(10)},
		}},
	})
	recorder := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	env := newTestEnv(t, lookup, Config{}, WithTracer(provider.Tracer("test")))

	_, err := env.svc.Dispatch(context.Background(), "S1")
	require.NoError(t, err)

	names := make([]string, 0)
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"rfq.endpoint", "rfq.dispatch"}, names)
}
