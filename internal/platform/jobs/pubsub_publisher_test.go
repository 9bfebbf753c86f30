package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sokomart/api/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           services.EventOrderStatusChanged,
		OrderID:        "ord_1",
		OrderNumber:    "SM-2026-000042",
		StoreID:        "store_a",
		BuyerID:        "user_1",
		PreviousStatus: "pending",
		CurrentStatus:  "paid",
		ActorID:        "webhook",
		OccurredAt:     occurredAt,
		Metadata:       map[string]string{"reference": "cs_test_123"},
	}

	if err := publisher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.CurrentStatus != "paid" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.OccurredAt != occurredAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected occurredAt %q", payload.OccurredAt)
	}
	if attr := messages[0].Attributes["type"]; attr != services.EventOrderStatusChanged {
		t.Fatalf("expected type attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["orderId"]; attr != "ord_1" {
		t.Fatalf("expected orderId attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["buyerId"]; ok {
		t.Fatalf("buyerId attribute should not be present")
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}

func TestCleanMetadataDropsBlankKeys(t *testing.T) {
	cleaned := cleanMetadata(map[string]string{
		"  reference ": " cs_test_123 ",
		"   ":          "dropped",
	})
	if len(cleaned) != 1 || cleaned["reference"] != "cs_test_123" {
		t.Fatalf("cleaned = %#v", cleaned)
	}
	if cleanMetadata(nil) != nil {
		t.Fatal("nil metadata should stay nil")
	}
}
