package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/platform/config"
)

// ErrTopicDisabled is returned when publishing to a topic that is not configured.
var ErrTopicDisabled = errors.New("pubsub publisher: topic not configured")

// NewPubSubClient dials Pub/Sub, using the emulator when one is configured.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("pubsub: project id is required")
	}
	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	return client, nil
}

// PubSubPublisher publishes order events and notifications to their topics. Either topic
// may be nil, in which case publishing to it returns ErrTopicDisabled.
type PubSubPublisher struct {
	orderTopic        *pubsub.Topic
	notificationTopic *pubsub.Topic
	marshal           func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a publisher over the given topics.
func NewPubSubPublisher(orderTopic, notificationTopic *pubsub.Topic) *PubSubPublisher {
	if orderTopic != nil {
		orderTopic.EnableMessageOrdering = true
	}
	return &PubSubPublisher{
		orderTopic:        orderTopic,
		notificationTopic: notificationTopic,
		marshal:           json.Marshal,
	}
}

// PublishOrderEvent publishes event ordered by order id, so consumers see the events of one
// order in commit order.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error) {
	if p == nil || p.orderTopic == nil {
		return "", ErrTopicDisabled
	}
	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{"eventType": string(event.Type)}
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.Status))

	id, err := p.orderTopic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	}).Get(ctx)
	if err != nil {
		p.orderTopic.ResumePublish(event.OrderID)
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// notificationMessage is the wire form of a notification on the fan-out topic.
type notificationMessage struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Level     string         `json:"level"`
	Locale    string         `json:"locale,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// PublishNotification pushes a rendered notification for downstream channels (push, email).
func (p *PubSubPublisher) PublishNotification(ctx context.Context, n domain.Notification) (string, error) {
	if p == nil || p.notificationTopic == nil {
		return "", ErrTopicDisabled
	}
	data, err := p.marshal(notificationMessage{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Level:     string(n.Level),
		Locale:    n.Locale,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	audience := "user"
	if n.UserID == "" {
		audience = "admin"
	}
	attrs := map[string]string{"audience": audience}
	setAttr(attrs, "notificationId", n.ID)
	setAttr(attrs, "type", string(n.Type))
	setAttr(attrs, "level", string(n.Level))

	id, err := p.notificationTopic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

// TopicCheck returns a readiness probe verifying the topic exists.
func TopicCheck(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("topic %s does not exist", topic.ID())
		}
		return nil
	}
}

// Stop flushes pending messages on both topics.
func (p *PubSubPublisher) Stop() {
	if p == nil {
		return
	}
	for _, topic := range []*pubsub.Topic{p.orderTopic, p.notificationTopic} {
		if topic != nil {
			topic.Stop()
		}
	}
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
