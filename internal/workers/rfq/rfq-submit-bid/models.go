// internal/workers/rfq/rfq-submit-bid/models.go
package rfqsubmitbid

import (
	"encoding/json"

	"rfq-workers/internal/common/validation"
)

type Input struct {
	SessionID string          `json:"sessionId"`
	Token     string          `json:"token"`
	Category  string          `json:"category"`
	Payload   json.RawMessage `json:"payload"`
}

type Output struct {
	SessionStatus string `json:"sessionStatus"`
	SessionID     string `json:"sessionId"`
	Category      string `json:"category"`
	Received      int    `json:"received"`
	Expected      int    `json:"expected"`
}

var inputSchema = validation.MustSchema(`{
	"type": "object",
	"required": ["sessionId", "token", "category", "payload"],
	"properties": {
		"sessionId": {"type": "string", "minLength": 1},
		"token": {"type": "string", "minLength": 1},
		"category": {"type": "string", "minLength": 1},
		"payload": {"not": {"type": "null"}}
	}
}`)
