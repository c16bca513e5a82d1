// internal/workers/rfq/rfq-session-status/models.go
package rfqsessionstatus

import (
	"rfq-workers/internal/common/validation"
	"rfq-workers/internal/models"
)

type Input struct {
	SessionID string `json:"sessionId"`
}

type Output struct {
	SessionStatus string            `json:"sessionStatus"`
	Expected      int               `json:"expected"`
	Received      int               `json:"received"`
	Outstanding   []models.Category `json:"outstanding"`
}

var inputSchema = validation.MustSchema(`{
	"type": "object",
	"required": ["sessionId"],
	"properties": {
		"sessionId": {"type": "string", "minLength": 1}
	}
}`)
