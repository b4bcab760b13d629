package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sender-identity/internal/config"
	"github.com/sender-identity/internal/domain"
	"github.com/sender-identity/internal/infrastructure/awsclient"
)

// Publisher pushes status changes to the tenant notification topic.
// Subscribers filter on the tenant_id message attribute.
type Publisher struct {
	client   *sns.Client
	topicARN string
}

func NewPublisher(ctx context.Context, cfg *config.Config) (*Publisher, error) {
	awsCfg, err := awsclient.Load(ctx, cfg, cfg.SNSRegion)
	if err != nil {
		return nil, err
	}
	ep := awsclient.Endpoint(cfg)
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if ep != nil {
			o.BaseEndpoint = ep
		}
	})
	return &Publisher{client: client, topicARN: cfg.NotificationTopicARN}, nil
}

func (p *Publisher) Publish(ctx context.Context, ev domain.StatusEvent) error {
	if p.topicARN == "" {
		slog.Debug("notification topic not configured, dropping event", "type", ev.Type, "tenant_id", ev.TenantID)
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"tenant_id":  {DataType: aws.String("String"), StringValue: aws.String(ev.TenantID)},
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
