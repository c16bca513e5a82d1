package rfq

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rfq-workers/internal/common/errors"
	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/common/session"
	"rfq-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoCategoryStack(t *testing.T) (*testEnv, *vendor, string) {
	t.Helper()
	v := newVendor(t)
	lookup := staticLookup(map[string]*models.ContractRecord{
		"S2": {StackID: "S2", Services: map[models.Category]models.ServiceContract{
			models.CategoryRideMatching: {Endpoints: []string{v.URL()}, ContractValue: value(1)},
			models.CategoryLocation:     {Endpoints: []string{v.URL()}, ContractValue: value(2)},
		}},
	})
	env := newTestEnv(t, lookup, Config{})
	result, err := env.svc.Dispatch(context.Background(), "S2")
	require.NoError(t, err)
	return env, v, result.SessionID
}

func TestSubmitBid_CompletesSession(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env, _, sessionID := twoCategoryStack(t)
	WithClock(func() time.Time { return fixed })(env.svc)
	ctx := context.Background()

	first, err := env.svc.SubmitBid(ctx, bidFor(t, env, sessionID, models.CategoryRideMatching, `{"address":"http://match-a"}`))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, first.Report.Status)
	assert.Equal(t, 1, first.Report.Received)
	assert.Equal(t, 2, first.Report.Expected)
	assert.Equal(t, []models.Category{models.CategoryLocation}, first.Report.Outstanding)
	assert.Equal(t, 0, env.notifier.count())

	second, err := env.svc.SubmitBid(ctx, bidFor(t, env, sessionID, models.CategoryLocation, `{"address":"http://loc-a"}`))
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, second.Report.Status)
	assert.Equal(t, models.CategoryLocation, second.Category)
	assert.JSONEq(t, `{"address":"http://loc-a"}`, string(second.Payload))
	assert.Empty(t, second.Report.Outstanding)

	require.Equal(t, 1, env.notifier.count())
	event := env.notifier.events[0]
	assert.Equal(t, models.EventSessionComplete, event.Event)
	assert.Equal(t, sessionID, event.SessionID)
	assert.Equal(t, fixed, event.CompletedAt)
	assert.Equal(t, []models.Category{models.CategoryRideMatching, models.CategoryLocation}, event.Categories)

	_, err = env.svc.SubmitBid(ctx, bidFor(t, env, sessionID, models.CategoryLocation, `{"address":"http://loc-b"}`))
	assert.Equal(t, errors.ErrCodeAlreadyBid, errors.CodeOf(err))

	report, err := env.svc.Status(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, report.Status)
	assert.Equal(t, 1, env.notifier.count())

	rec, err := env.store.GetCategory(ctx, sessionID, models.CategoryLocation)
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"http://loc-a"}`, string(rec.Payload))
	assert.Len(t, env.audit.bids, 2)
}

func TestSubmitBid_TokenFromReceivedRFQ(t *testing.T) {
	env, v, sessionID := twoCategoryStack(t)

	rfqs := v.received()
	require.Len(t, rfqs, 2)
	for _, rfq := range rfqs {
		assert.Equal(t, sessionID, rfq.SessionID)
	}

	// The vendor cannot tell which RFQ is which category, so it tries each token against location.
	accepted := 0
	for _, rfq := range rfqs {
		_, err := env.svc.SubmitBid(context.Background(), models.BidSubmission{
			SessionID: rfq.SessionID,
			Token:     rfq.Token,
			Category:  "location",
			Payload:   json.RawMessage(`{"address":"http://loc"}`),
		})
		if err == nil {
			accepted++
			continue
		}
		assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
	}
	assert.Equal(t, 1, accepted)
}

func TestSubmitBid_WrongTokenThenRightToken(t *testing.T) {
	env, _, sessionID := twoCategoryStack(t)
	ctx := context.Background()

	sub := bidFor(t, env, sessionID, models.CategoryRideMatching, `{"address":"http://match"}`)
	good := sub.Token
	sub.Token = "forged"

	_, err := env.svc.SubmitBid(ctx, sub)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))

	rec, err := env.store.GetCategory(ctx, sessionID, models.CategoryRideMatching)
	require.NoError(t, err)
	assert.False(t, rec.HasBid())

	sub.Token = good
	res, err := env.svc.SubmitBid(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Report.Status)
}

func TestSubmitBid_Rejections(t *testing.T) {
	env, _, sessionID := twoCategoryStack(t)
	valid := bidFor(t, env, sessionID, models.CategoryRideMatching, `{"a":1}`)

	tests := []struct {
		name   string
		mutate func(*models.BidSubmission)
		want   errors.ErrorCode
	}{
		{"missing session", func(b *models.BidSubmission) { b.SessionID = "" }, errors.ErrCodeInvalidInput},
		{"missing token", func(b *models.BidSubmission) { b.Token = "" }, errors.ErrCodeInvalidInput},
		{"missing category", func(b *models.BidSubmission) { b.Category = " " }, errors.ErrCodeInvalidInput},
		{"unknown category", func(b *models.BidSubmission) { b.Category = "weather_service" }, errors.ErrCodeInvalidInput},
		{"null payload", func(b *models.BidSubmission) { b.Payload = json.RawMessage(`null`) }, errors.ErrCodeInvalidInput},
		{"absent payload", func(b *models.BidSubmission) { b.Payload = nil }, errors.ErrCodeInvalidInput},
		{"malformed payload", func(b *models.BidSubmission) { b.Payload = json.RawMessage(`{"a":`) }, errors.ErrCodeInvalidInput},
		{"undispatched category", func(b *models.BidSubmission) { b.Category = "notification" }, errors.ErrCodeCategoryNotFound},
		{"unknown session", func(b *models.BidSubmission) { b.SessionID = "nope" }, errors.ErrCodeCategoryNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := valid
			tt.mutate(&sub)
			_, err := env.svc.SubmitBid(context.Background(), sub)
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.CodeOf(err))
		})
	}

	records, err := env.store.ListCategories(context.Background(), sessionID)
	require.NoError(t, err)
	for _, rec := range records {
		assert.False(t, rec.HasBid())
	}
	assert.Equal(t, 0, env.notifier.count())
}

func TestSubmitBid_ScalarPayloadAccepted(t *testing.T) {
	env, _, sessionID := twoCategoryStack(t)

	res, err := env.svc.SubmitBid(context.Background(), bidFor(t, env, sessionID, models.CategoryLocation, `"http://loc-a"`))
	require.NoError(t, err)
	assert.Equal(t, `"http://loc-a"`, string(res.Payload))
}

func TestSubmitBid_ConcurrentDuplicates(t *testing.T) {
	env, _, sessionID := twoCategoryStack(t)
	sub := bidFor(t, env, sessionID, models.CategoryRideMatching, `{"a":1}`)

	const n = 16
	var accepted, duplicates int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.SubmitBid(context.Background(), sub)
			if err == nil {
				atomic.AddInt32(&accepted, 1)
				return
			}
			if errors.CodeOf(err) == errors.ErrCodeAlreadyBid {
				atomic.AddInt32(&duplicates, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted)
	assert.Equal(t, int32(n-1), duplicates)
}

func TestSubmitBid_NotifierFailureDoesNotRejectBid(t *testing.T) {
	env, _, sessionID := twoCategoryStack(t)
	env.notifier.err = stderrors.New("topic unavailable")
	ctx := context.Background()

	_, err := env.svc.SubmitBid(ctx, bidFor(t, env, sessionID, models.CategoryRideMatching, `{"a":1}`))
	require.NoError(t, err)
	res, err := env.svc.SubmitBid(ctx, bidFor(t, env, sessionID, models.CategoryLocation, `{"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, res.Report.Status)
	assert.Equal(t, 1, env.notifier.count())
}

// failingStore wraps a MemoryStore and fails the configured operation.
type failingStore struct {
	*session.MemoryStore
	failSetBid bool
	failList   bool
	// listFailures fails that many ListCategories calls before delegating.
	listFailures atomic.Int32
}

var errStoreDown = stderrors.New("store down")

func (f *failingStore) SetBid(ctx context.Context, sessionID string, category models.Category, payload json.RawMessage) error {
	if f.failSetBid {
		return errStoreDown
	}
	return f.MemoryStore.SetBid(ctx, sessionID, category, payload)
}

func (f *failingStore) ListCategories(ctx context.Context, sessionID string) ([]models.CategoryRecord, error) {
	if f.failList || f.listFailures.Add(-1) >= 0 {
		return nil, errStoreDown
	}
	return f.MemoryStore.ListCategories(ctx, sessionID)
}

func TestSubmitBid_StoreFailureIsInternal(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: session.NewMemoryStore(), failSetBid: true}
	require.NoError(t, store.PutCategory(ctx, models.CategoryRecord{
		SessionID: "sess", Category: models.CategoryLocation, BidToken: "tok",
	}))
	svc := NewService(store, staticLookup(nil), sequentialIssuer(), nil, Config{}, logger.NewTestLogger(t))

	_, err := svc.SubmitBid(ctx, models.BidSubmission{
		SessionID: "sess", Token: "tok", Category: "location", Payload: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternalFailure, errors.CodeOf(err))
	assert.ErrorIs(t, err, errStoreDown)
}

func TestSubmitBid_StatusFailureAfterCommit(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T) (*failingStore, *Service, *fakeNotifier, *fakeAudit) {
		store := &failingStore{MemoryStore: session.NewMemoryStore()}
		require.NoError(t, store.CreateSession(ctx, "sess", "dispatch"))
		require.NoError(t, store.PutCategory(ctx, models.CategoryRecord{
			SessionID: "sess", Category: models.CategoryLocation, BidToken: "tok",
		}))
		notifier, audit := &fakeNotifier{}, &fakeAudit{}
		svc := NewService(store, staticLookup(nil), sequentialIssuer(), nil, Config{}, logger.NewTestLogger(t),
			WithNotifier(notifier), WithAuditRecorder(audit))
		return store, svc, notifier, audit
	}
	bid := models.BidSubmission{SessionID: "sess", Token: "tok", Category: "location", Payload: json.RawMessage(`{"a":1}`)}

	t.Run("transient read failure still completes", func(t *testing.T) {
		store, svc, notifier, audit := setup(t)
		store.listFailures.Store(1)

		result, err := svc.SubmitBid(ctx, bid)
		require.NoError(t, err)
		assert.Equal(t, models.StatusComplete, result.Report.Status)
		assert.Equal(t, 1, notifier.count())
		assert.Len(t, audit.bids, 1)
	})

	t.Run("persistent read failure keeps the accepted bid", func(t *testing.T) {
		store, svc, notifier, audit := setup(t)
		store.failList = true

		result, err := svc.SubmitBid(ctx, bid)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(result.Payload))
		assert.Equal(t, models.StatusPending, result.Report.Status)
		assert.Zero(t, notifier.count())
		assert.Len(t, audit.bids, 1)

		rec, err := store.GetCategory(ctx, "sess", models.CategoryLocation)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(rec.Payload))

		store.failList = false
		_, err = svc.SubmitBid(ctx, bid)
		assert.Equal(t, errors.ErrCodeAlreadyBid, errors.CodeOf(err))
	})
}
