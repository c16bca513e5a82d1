package camunda

import (
	"context"

	"rfq-workers/internal/models"
)

// MessagePublisher publishes correlated Zeebe messages.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey string, variables interface{}) error
}

// CompletionPublisher tells waiting process instances that an RFQ session is complete.
// The message is correlated on the session id.
type CompletionPublisher struct {
	publisher   MessagePublisher
	messageName string
}

func NewCompletionPublisher(publisher MessagePublisher, messageName string) *CompletionPublisher {
	return &CompletionPublisher{publisher: publisher, messageName: messageName}
}

func (p *CompletionPublisher) NotifySessionComplete(ctx context.Context, event models.SessionCompletedEvent) error {
	return p.publisher.PublishMessage(ctx, p.messageName, event.SessionID, map[string]interface{}{
		"sessionId":     event.SessionID,
		"sessionStatus": string(models.StatusComplete),
		"completedAt":   event.CompletedAt,
		"categories":    event.Categories,
	})
}
