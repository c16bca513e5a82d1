// Package session persists RFQ sessions and their per-category bid placeholders.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"rfq-workers/internal/models"
)

var (
	// ErrAlreadyExists is returned when a session id has already been claimed.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrNotFound is returned for an unknown session or a category without a placeholder.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyBid is returned when the category already carries a bid payload.
	ErrAlreadyBid = errors.New("bid already recorded")
)

// Store is the session-scoped state behind dispatch and bid collection.
// SetBid must be a single atomic conditional write in every implementation;
// any error other than the sentinels above is an infrastructure failure.
type Store interface {
	CreateSession(ctx context.Context, sessionID, dispatchToken string) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	PutCategory(ctx context.Context, record models.CategoryRecord) error
	GetCategory(ctx context.Context, sessionID string, category models.Category) (*models.CategoryRecord, error)
	SetBid(ctx context.Context, sessionID string, category models.Category, payload json.RawMessage) error
	ListCategories(ctx context.Context, sessionID string) ([]models.CategoryRecord, error)
	Ping(ctx context.Context) error
}

func sortRecords(records []models.CategoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Category.Index() < records[j].Category.Index()
	})
}

func clonePayload(p json.RawMessage) json.RawMessage {
	if p == nil {
		return nil
	}
	out := make(json.RawMessage, len(p))
	copy(out, p)
	return out
}
