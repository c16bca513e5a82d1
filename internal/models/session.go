package models

import (
	"encoding/json"
	"time"
)

// Session is one RFQ auction, claimed exactly once at dispatch time.
type Session struct {
	ID            string    `json:"id" bson:"_id"`
	DispatchToken string    `json:"dispatchToken" bson:"dispatch_token"`
	CreatedAt     time.Time `json:"createdAt" bson:"created_at"`
}

// CategoryRecord is the expected-bid placeholder for one (session, category) pair.
// A nil Payload means no bid has been accepted yet; once set it never changes.
type CategoryRecord struct {
	SessionID     string          `json:"sessionId"`
	Category      Category        `json:"category"`
	BidToken      string          `json:"-"`
	ContractValue float64         `json:"contractValue"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	BidAt         *time.Time      `json:"bidAt,omitempty"`
}

// HasBid reports whether a bid payload has been recorded.
func (r *CategoryRecord) HasBid() bool {
	return len(r.Payload) > 0
}

// SessionStatus is derived from the category records, never stored.
type SessionStatus string

const (
	StatusPending  SessionStatus = "pending"
	StatusComplete SessionStatus = "complete"
)

// StatusReport is the completion evaluation of a session.
type StatusReport struct {
	SessionID   string        `json:"sessionId"`
	Status      SessionStatus `json:"status"`
	Expected    int           `json:"expected"`
	Received    int           `json:"received"`
	Categories  []Category    `json:"categories"`
	Outstanding []Category    `json:"outstanding"`
}
