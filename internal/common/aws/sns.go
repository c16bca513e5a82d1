package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"rfq-workers/internal/models"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client SNSAPI
}

func NewSNSClient(ctx context.Context, region string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SNSClient{client: sns.NewFromConfig(cfg)}, nil
}

func NewSNSClientFromAPI(api SNSAPI) *SNSClient {
	return &SNSClient{client: api}
}

func (s *SNSClient) Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	return s.client.Publish(ctx, input)
}

// CompletionNotifier publishes session completion events to an SNS topic.
type CompletionNotifier struct {
	client   *SNSClient
	topicARN string
}

func NewCompletionNotifier(client *SNSClient, topicARN string) *CompletionNotifier {
	return &CompletionNotifier{client: client, topicARN: topicARN}
}

func (n *CompletionNotifier) NotifySessionComplete(ctx context.Context, event models.SessionCompletedEvent) error {
	if event.Event == "" {
		event.Event = models.EventSessionComplete
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(n.topicARN),
		Message:  awssdk.String(string(body)),
		Subject:  awssdk.String("RFQ session complete"),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: awssdk.String("String"), StringValue: awssdk.String(event.Event)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish completion event for session %s: %w", event.SessionID, err)
	}
	return nil
}
