// Package audit writes dispatch and bid events to an Elasticsearch index.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"rfq-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

const (
	EventDispatch = "dispatch"
	EventBid      = "bid"
)

// Document is one audit entry.
type Document struct {
	Event      string                   `json:"event"`
	SessionID  string                   `json:"session_id"`
	StackID    string                   `json:"stack_id,omitempty"`
	Category   models.Category          `json:"category,omitempty"`
	Payload    json.RawMessage          `json:"payload,omitempty"`
	Status     models.SessionStatus     `json:"status,omitempty"`
	Results    []models.CategoryOutcome `json:"results,omitempty"`
	Categories int                      `json:"categories,omitempty"`
	At         time.Time                `json:"at"`
}

type Recorder struct {
	client *elasticsearch.Client
	index  string
	now    func() time.Time
}

func NewRecorder(client *elasticsearch.Client, index string) *Recorder {
	return &Recorder{client: client, index: index, now: time.Now}
}

func (r *Recorder) RecordDispatch(ctx context.Context, stackID string, result *models.DispatchResult) error {
	return r.indexDocument(ctx, Document{
		Event:      EventDispatch,
		SessionID:  result.SessionID,
		StackID:    stackID,
		Results:    result.Results,
		Categories: len(result.Results),
		At:         r.now().UTC(),
	})
}

func (r *Recorder) RecordBid(ctx context.Context, record models.CategoryRecord, status models.SessionStatus) error {
	return r.indexDocument(ctx, Document{
		Event:     EventBid,
		SessionID: record.SessionID,
		Category:  record.Category,
		Payload:   record.Payload,
		Status:    status,
		At:        r.now().UTC(),
	})
}

func (r *Recorder) indexDocument(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal audit document: %w", err)
	}

	res, err := r.client.Index(r.index, bytes.NewReader(body), r.client.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index audit document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("index audit document: %s: %s", res.Status(), bytes.TrimSpace(msg))
	}
	return nil
}
