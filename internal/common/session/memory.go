package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"rfq-workers/internal/models"
)

// MemoryStore keeps sessions in process memory. It is only correct for a single instance.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]models.Session
	categories map[string]map[models.Category]models.CategoryRecord
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]models.Session),
		categories: make(map[string]map[models.Category]models.CategoryRecord),
		now:        time.Now,
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sessionID, dispatchToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; exists {
		return ErrAlreadyExists
	}
	s.sessions[sessionID] = models.Session{
		ID:            sessionID,
		DispatchToken: dispatchToken,
		CreatedAt:     s.now().UTC(),
	}
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *MemoryStore) PutCategory(_ context.Context, record models.CategoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byCategory, ok := s.categories[record.SessionID]
	if !ok {
		byCategory = make(map[models.Category]models.CategoryRecord)
		s.categories[record.SessionID] = byCategory
	}
	record.Payload = clonePayload(record.Payload)
	byCategory[record.Category] = record
	return nil
}

func (s *MemoryStore) GetCategory(_ context.Context, sessionID string, category models.Category) (*models.CategoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.categories[sessionID][category]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Payload = clonePayload(rec.Payload)
	return &rec, nil
}

func (s *MemoryStore) SetBid(_ context.Context, sessionID string, category models.Category, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.categories[sessionID][category]
	if !ok {
		return ErrNotFound
	}
	if rec.HasBid() {
		return ErrAlreadyBid
	}
	at := s.now().UTC()
	rec.Payload = clonePayload(payload)
	rec.BidAt = &at
	s.categories[sessionID][category] = rec
	return nil
}

func (s *MemoryStore) ListCategories(_ context.Context, sessionID string) ([]models.CategoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.CategoryRecord, 0, len(s.categories[sessionID]))
	for _, rec := range s.categories[sessionID] {
		rec.Payload = clonePayload(rec.Payload)
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
