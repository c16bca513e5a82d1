package models

import (
	"encoding/json"
	"time"
)

// ActionRFQ tags outbound messages as requests for quote.
const ActionRFQ = "rfq"

// RFQPayload is posted to every vendor endpoint of a dispatched category.
type RFQPayload struct {
	SessionID       string  `json:"session_id"`
	Token           string  `json:"token"`
	ContractValue   float64 `json:"contract_value"`
	Action          string  `json:"action"`
	CallbackAddress string  `json:"callback_address"`
}

// BidSubmission is a vendor's asynchronous bid callback.
type BidSubmission struct {
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
	Category  string          `json:"category"`
	Payload   json.RawMessage `json:"payload"`
}

// EndpointOutcome is the result of one RFQ POST: either a response or a transport error.
type EndpointOutcome struct {
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// Failed reports whether the attempt ended in a transport failure.
func (o EndpointOutcome) Failed() bool {
	return o.Error != ""
}

// CategoryOutcome groups endpoint outcomes per dispatched service.
type CategoryOutcome struct {
	Service Category          `json:"service"`
	Results []EndpointOutcome `json:"results"`
}

// DispatchResult is returned synchronously once every RFQ attempt has resolved.
type DispatchResult struct {
	SessionID     string            `json:"session_id"`
	DispatchToken string            `json:"dispatch_token"`
	Results       []CategoryOutcome `json:"results"`
}

// Categories lists the dispatched categories in result order.
func (d *DispatchResult) Categories() []Category {
	out := make([]Category, 0, len(d.Results))
	for _, r := range d.Results {
		out = append(out, r.Service)
	}
	return out
}

// EventSessionComplete names the notification emitted when a session's last bid lands.
const EventSessionComplete = "rfq.session.complete"

// SessionCompletedEvent is published once every dispatched category carries a bid.
type SessionCompletedEvent struct {
	Event       string     `json:"event"`
	SessionID   string     `json:"session_id"`
	CompletedAt time.Time  `json:"completed_at"`
	Categories  []Category `json:"categories"`
}
