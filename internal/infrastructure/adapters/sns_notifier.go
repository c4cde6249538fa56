package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
)

// SNSPublisher is the subset of the SNS client used here
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes settlement events to an SNS topic. Subscribers
// (email, push, in-app) live outside this service.
type SNSNotifier struct {
	client   SNSPublisher
	topicARN string
	logger   *zap.Logger
}

// NewSNSNotifier loads the default AWS configuration for region
func NewSNSNotifier(ctx context.Context, region, topicARN string, logger *zap.Logger) (*SNSNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSNSNotifierWithClient(sns.NewFromConfig(awsCfg), topicARN, logger), nil
}

// NewSNSNotifierWithClient wraps an existing client
func NewSNSNotifierWithClient(client SNSPublisher, topicARN string, logger *zap.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN, logger: logger}
}

// PublishEvent sends the JSON encoded event. The event type and network are
// message attributes so subscribers can filter.
func (n *SNSNotifier) PublishEvent(ctx context.Context, event *entities.SettlementEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement event: %w", err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(event.Type))},
			"network":    {DataType: aws.String("String"), StringValue: aws.String(string(event.Network))},
		},
	})
	if err != nil {
		n.logger.Error("Failed to publish settlement event via SNS",
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	n.logger.Debug("Settlement event published",
		zap.String("type", string(event.Type)),
		zap.String("reference_id", event.ReferenceID))
	return nil
}
