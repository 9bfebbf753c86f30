package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/sokomart/api/internal/services"
)

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// orderEventMessage is the wire form of a published order event.
type orderEventMessage struct {
	Type           string            `json:"type"`
	OrderID        string            `json:"orderId"`
	OrderNumber    string            `json:"orderNumber,omitempty"`
	StoreID        string            `json:"storeId,omitempty"`
	BuyerID        string            `json:"buyerId,omitempty"`
	PreviousStatus string            `json:"previousStatus,omitempty"`
	CurrentStatus  string            `json:"currentStatus"`
	ActorID        string            `json:"actorId,omitempty"`
	OccurredAt     string            `json:"occurredAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Publish enqueues the event on the configured topic. Attributes carry the
// routing fields so subscribers can filter without decoding the payload.
func (p *PubSubOrderEventPublisher) Publish(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	msg := orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		StoreID:        event.StoreID,
		BuyerID:        event.BuyerID,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Metadata:       cleanMetadata(event.Metadata),
	}
	data, err := p.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "storeId", event.StoreID)
	setAttr(attrs, "currentStatus", string(event.CurrentStatus))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// cleanMetadata trims caller-supplied metadata and drops blank keys so
// the published payload stays tidy.
func cleanMetadata(values map[string]string) map[string]string {
	var cleaned map[string]string
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if cleaned == nil {
			cleaned = make(map[string]string, len(values))
		}
		cleaned[key] = strings.TrimSpace(value)
	}
	return cleaned
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)
