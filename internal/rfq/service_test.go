package rfq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rfq-workers/internal/common/contracts"
	httpclient "rfq-workers/internal/common/http"
	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/common/session"
	"rfq-workers/internal/common/token"
	"rfq-workers/internal/models"

	"github.com/stretchr/testify/require"
)

const testCallback = "http://gateway.test/rfq/quote"

// vendor is an httptest endpoint that records every RFQ it receives.
type vendor struct {
	server *httptest.Server
	mu     sync.Mutex
	rfqs   []models.RFQPayload
	delay  time.Duration
	status int
	body   []byte
}

func newVendor(t *testing.T) *vendor {
	v := &vendor{status: http.StatusOK}
	v.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p models.RFQPayload
		_ = json.NewDecoder(r.Body).Decode(&p)

		v.mu.Lock()
		v.rfqs = append(v.rfqs, p)
		delay, status, body := v.delay, v.status, v.body
		v.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if body == nil {
			body = []byte(`{"received":true}`)
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(v.server.Close)
	return v
}

func (v *vendor) URL() string { return v.server.URL }

func (v *vendor) received() []models.RFQPayload {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.RFQPayload(nil), v.rfqs...)
}

// sequentialIssuer yields predictable tokens: tok-1, tok-2, ...
func sequentialIssuer() token.Issuer {
	var n int64
	return token.IssuerFunc(func() string {
		return fmt.Sprintf("tok-%d", atomic.AddInt64(&n, 1))
	})
}

func constantIssuer(tok string) token.Issuer {
	return token.IssuerFunc(func() string { return tok })
}

func value(v float64) *float64 { return &v }

func staticLookup(records map[string]*models.ContractRecord) contracts.Lookup {
	return contracts.LookupFunc(func(_ context.Context, stackID string) (*models.ContractRecord, error) {
		rec, ok := records[stackID]
		if !ok {
			return nil, contracts.ErrStackNotFound
		}
		return rec, nil
	})
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.SessionCompletedEvent
	err    error
}

func (f *fakeNotifier) NotifySessionComplete(_ context.Context, e models.SessionCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeAudit struct {
	mu         sync.Mutex
	dispatches []string
	bids       []models.CategoryRecord
}

func (f *fakeAudit) RecordDispatch(_ context.Context, stackID string, _ *models.DispatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches = append(f.dispatches, stackID)
	return nil
}

func (f *fakeAudit) RecordBid(_ context.Context, rec models.CategoryRecord, _ models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bids = append(f.bids, rec)
	return nil
}

type testEnv struct {
	svc      *Service
	store    *session.MemoryStore
	notifier *fakeNotifier
	audit    *fakeAudit
}

func newTestEnv(t *testing.T, lookup contracts.Lookup, cfg Config, opts ...Option) *testEnv {
	t.Helper()
	if cfg.EndpointTimeout == 0 {
		cfg.EndpointTimeout = time.Second
	}
	cfg.CallbackAddress = testCallback

	env := &testEnv{
		store:    session.NewMemoryStore(),
		notifier: &fakeNotifier{},
		audit:    &fakeAudit{},
	}
	opts = append([]Option{WithNotifier(env.notifier), WithAuditRecorder(env.audit)}, opts...)
	env.svc = NewService(env.store, lookup, sequentialIssuer(), httpclient.NewClient(10*time.Second), cfg, logger.NewTestLogger(t), opts...)
	return env
}

// bidFor returns a submission carrying the token the vendor received for category.
func bidFor(t *testing.T, env *testEnv, sessionID string, category models.Category, payload string) models.BidSubmission {
	t.Helper()
	rec, err := env.store.GetCategory(context.Background(), sessionID, category)
	require.NoError(t, err)
	return models.BidSubmission{
		SessionID: sessionID,
		Token:     rec.BidToken,
		Category:  string(category),
		Payload:   json.RawMessage(payload),
	}
}
