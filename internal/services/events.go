package services

import (
	"context"
	"time"
)

// Event names emitted on the order stream.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status.changed"
)

// OrderEvent is the payload published when orders are created or transition state.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	StoreID        string
	BuyerID        string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]string
}

// OrderEventPublisher fans order lifecycle events out to interested consumers.
// Publishing is best-effort; services log failures and keep going.
type OrderEventPublisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}
