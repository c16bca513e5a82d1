package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rfq-workers/internal/common/config"
	"rfq-workers/internal/common/contracts"
	"rfq-workers/internal/common/errors"
	httpclient "rfq-workers/internal/common/http"
	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/common/session"
	"rfq-workers/internal/common/token"
	"rfq-workers/internal/models"
	"rfq-workers/internal/rfq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router  http.Handler
	store   *session.MemoryStore
	vendor  *httptest.Server
	tokens  chan models.RFQPayload
	service *rfq.Service
}

func setupRouter(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: session.NewMemoryStore(), tokens: make(chan models.RFQPayload, 16)}

	f.vendor = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p models.RFQPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		f.tokens <- p
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(f.vendor.Close)

	loc, match := 10.0, 3.0
	lookup := contracts.NewStaticLookup(map[string]map[string]config.StaticContract{
		"S1": {
			"location_service":      {Endpoints: f.vendor.URL, ContractValue: &loc},
			"ride_matching_service": {Endpoints: f.vendor.URL, ContractValue: &match},
			"notification_service":  {ContractValue: &loc},
		},
	})

	log := logger.NewTestLogger(t)
	f.service = rfq.NewService(f.store, lookup, token.NewUUIDIssuer(), httpclient.NewClient(5*time.Second),
		rfq.Config{EndpointTimeout: time.Second, CallbackAddress: "http://gateway.test/rfq/quote"}, log)
	f.router = NewRouter(New(f.service, Config{MaxBodyBytes: 4096}, log, opts...))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)

	var decoded map[string]interface{}
	if resp.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &decoded), resp.Body.String())
	}
	return resp, decoded
}

func (f *fixture) dispatch(t *testing.T) (string, map[models.Category]string) {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/rfq/dispatch", `{"stack_id":"S1"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	sessionID := body["session_id"].(string)

	tokens := make(map[models.Category]string)
	for _, cat := range []models.Category{models.CategoryRideMatching, models.CategoryLocation} {
		rec, err := f.store.GetCategory(context.Background(), sessionID, cat)
		require.NoError(t, err)
		tokens[cat] = rec.BidToken
	}
	return sessionID, tokens
}

func quoteBody(sessionID, tok, category, payload string) string {
	return `{"session_id":"` + sessionID + `","token":"` + tok + `","category":"` + category + `","payload":` + payload + `}`
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func TestDispatchRoute(t *testing.T) {
	f := setupRouter(t)

	resp, body := f.do(t, http.MethodPost, "/rfq/dispatch", `{"stack_id":"S1"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, body["session_id"])
	assert.NotEmpty(t, body["dispatch_token"])

	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "ride_matching_service", first["service"])
	endpoint := first["results"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, f.vendor.URL, endpoint["endpoint"])
	assert.Equal(t, float64(200), endpoint["status_code"])

	sent := <-f.tokens
	assert.Equal(t, body["session_id"], sent.SessionID)
	assert.Equal(t, models.ActionRFQ, sent.Action)
}

func TestDispatchRoute_Errors(t *testing.T) {
	f := setupRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"missing stack id", `{}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"empty stack id", `{"stack_id":""}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"malformed json", `{"stack_id":`, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown stack", `{"stack_id":"nope"}`, http.StatusNotFound, "STACK_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/rfq/dispatch", tt.body)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
}

func TestQuoteRoute(t *testing.T) {
	f := setupRouter(t)
	sessionID, tokens := f.dispatch(t)

	resp, body := f.do(t, http.MethodPost, "/rfq/quote",
		quoteBody(sessionID, tokens[models.CategoryRideMatching], "matching", `{"address":"http://m"}`))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "pending", body["status"])
	assert.NotContains(t, body, "session_id")
	assert.Equal(t, "ride_matching_service", body["category"])
	assert.Equal(t, map[string]interface{}{"address": "http://m"}, body["payload"])
	assert.Equal(t, float64(1), body["received"])
	assert.Equal(t, float64(2), body["expected"])

	resp, body = f.do(t, http.MethodPost, "/rfq/quote",
		quoteBody(sessionID, tokens[models.CategoryLocation], "location_service", `{"address":"http://l"}`))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "complete", body["status"])
	assert.Equal(t, sessionID, body["session_id"])

	resp, body = f.do(t, http.MethodPost, "/rfq/quote",
		quoteBody(sessionID, tokens[models.CategoryLocation], "location_service", `{"address":"http://other"}`))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "ALREADY_BID", errorCode(body))
}

func TestQuoteRoute_Errors(t *testing.T) {
	f := setupRouter(t)
	sessionID, tokens := f.dispatch(t)
	loc := tokens[models.CategoryLocation]

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"wrong token", quoteBody(sessionID, "forged", "location", `{}`), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"undispatched category", quoteBody(sessionID, loc, "notification", `{}`), http.StatusNotFound, "CATEGORY_NOT_FOUND"},
		{"unknown category", quoteBody(sessionID, loc, "weather", `{}`), http.StatusBadRequest, "INVALID_INPUT"},
		{"null payload", quoteBody(sessionID, loc, "location", `null`), http.StatusBadRequest, "INVALID_INPUT"},
		{"missing payload", `{"session_id":"` + sessionID + `","token":"` + loc + `","category":"location"}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown session", quoteBody("nope", loc, "location", `{}`), http.StatusNotFound, "CATEGORY_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/rfq/quote", tt.body)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}

	resp, body := f.do(t, http.MethodGet, "/rfq/sessions/"+sessionID+"/status", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(0), body["received"])
}

func TestActionRoute(t *testing.T) {
	f := setupRouter(t)

	resp, body := f.do(t, http.MethodPost, "/rfq", `{"action":"dispatch","stack_id":"S1"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	sessionID := body["session_id"].(string)

	rec, err := f.store.GetCategory(context.Background(), sessionID, models.CategoryLocation)
	require.NoError(t, err)

	resp, body = f.do(t, http.MethodPost, "/rfq", `{"action":"quote",`+strings.TrimPrefix(quoteBody(sessionID, rec.BidToken, "location", `"ok"`), "{"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "pending", body["status"])

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"unknown action", `{"action":"refund"}`, "Invalid action"},
		{"empty action", `{"action":""}`, "Invalid action"},
		{"missing action", `{"stack_id":"S1"}`, ""},
		{"dispatch without stack", `{"action":"dispatch"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/rfq", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, "INVALID_INPUT", errorCode(body))
			if tt.message != "" {
				assert.Equal(t, tt.message, body["error"].(map[string]interface{})["message"])
			}
		})
	}
}

func TestStatusRoute(t *testing.T) {
	f := setupRouter(t)
	sessionID, tokens := f.dispatch(t)

	_, err := f.service.SubmitBid(context.Background(), models.BidSubmission{
		SessionID: sessionID, Token: tokens[models.CategoryLocation], Category: "location", Payload: json.RawMessage(`1`),
	})
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/rfq/sessions/"+sessionID+"/status", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, sessionID, body["session_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, []interface{}{"ride_matching_service"}, body["outstanding"])

	resp, body = f.do(t, http.MethodGet, "/rfq/sessions/unknown/status", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(body))
}

func TestBodyLimit(t *testing.T) {
	f := setupRouter(t)
	large := `{"stack_id":"` + strings.Repeat("x", 8192) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/rfq/dispatch", bytes.NewReader([]byte(large)))
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "too large")
}

type brokenService struct {
	*rfq.Service
}

func (brokenService) Dispatch(context.Context, string) (*models.DispatchResult, error) {
	return nil, errors.NewInternalError("create session", assert.AnError)
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	f := setupRouter(t)
	router := NewRouter(New(brokenService{f.service}, Config{}, logger.NewTestLogger(t)))

	req := httptest.NewRequest(http.MethodPost, "/rfq/dispatch", strings.NewReader(`{"stack_id":"S1"}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.JSONEq(t, `{"error":{"code":"INTERNAL_FAILURE","message":"Internal failure"}}`, resp.Body.String())
	assert.NotContains(t, resp.Body.String(), assert.AnError.Error())
}

func TestHealthReadyMetrics(t *testing.T) {
	f := setupRouter(t)
	f.dispatch(t)

	resp, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "healthy", body["status"])

	resp, body = f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ready", body["status"])

	failing := setupRouter(t, WithReadinessCheck("zeebe", func(context.Context) error { return assert.AnError }))
	resp, body = failing.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "unavailable", body["checks"].(map[string]interface{})["zeebe"])
	assert.Equal(t, "ok", body["checks"].(map[string]interface{})["session_store"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rfq_dispatch_total")
}
