// internal/workers/rfq/rfq-dispatch/models.go
package rfqdispatch

import (
	"rfq-workers/internal/common/validation"
	"rfq-workers/internal/models"
)

type Input struct {
	StackID string `json:"stackId"`
}

type Output struct {
	SessionID     string                   `json:"sessionId"`
	DispatchToken string                   `json:"dispatchToken"`
	Results       []models.CategoryOutcome `json:"results"`
	Dispatched    int                      `json:"dispatched"`
}

var inputSchema = validation.MustSchema(`{
	"type": "object",
	"required": ["stackId"],
	"properties": {
		"stackId": {"type": "string", "minLength": 1}
	}
}`)
