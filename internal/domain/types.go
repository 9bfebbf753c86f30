package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Store is the seller-facing storefront that owns products and logistics options.
type Store struct {
	ID        string
	OwnerID   string
	Name      string
	City      string
	Active    bool
	ImagePath string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LogisticsType distinguishes buyer pickup from courier delivery.
type LogisticsType string

const (
	// LogisticsTypePickup means the buyer collects from a named location.
	LogisticsTypePickup LogisticsType = "pickup"
	// LogisticsTypeDelivery means a courier delivers to the buyer's address.
	LogisticsTypeDelivery LogisticsType = "delivery"
)

// LogisticsOption is a fulfilment choice a store offers at checkout. FeeAmount is
// whole naira and is snapshotted onto the order when chosen.
type LogisticsOption struct {
	ID            string
	StoreID       string
	Type          LogisticsType
	LocationName  string
	City          string
	FeeAmount     int64
	TimelineLabel string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartLine is one product entry in the buyer's cart as submitted to checkout.
// StoreName is carried as a display snapshot; the jara fields describe the
// product's buy-X-get-Y promotion at the time of purchase.
type CartLine struct {
	ProductID       string
	ProductName     string
	StoreID         string
	StoreName       string
	UnitPrice       int64
	Quantity        int64
	JaraBuyQuantity int64
	JaraGetQuantity int64
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created and awaits payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment was confirmed.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing indicates the store is preparing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order was handed to the courier or is ready for pickup.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the buyer received the order. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Order is one per-store purchase produced by splitting a checkout. Money fields
// are whole naira; Total is always Subtotal+LogisticsFee.
type Order struct {
	ID                string
	OrderNumber       string
	BuyerID           string
	StoreID           string
	StoreName         string
	Status            OrderStatus
	Subtotal          int64
	LogisticsFee      int64
	Total             int64
	Currency          string
	LogisticsOptionID string
	DeliveryAddress   string
	PaymentReference  string
	Items             []OrderItem
	CancelReason      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
}

// OrderItem mirrors a cart line at the time of checkout. JaraQuantity is the
// free units granted on top of Quantity; TotalPrice is UnitPrice*Quantity.
type OrderItem struct {
	ID           string
	OrderID      string
	ProductID    string
	ProductName  string
	Quantity     int64
	JaraQuantity int64
	UnitPrice    int64
	TotalPrice   int64
}

// AuditLogEntry records who moved an order between states and why.
type AuditLogEntry struct {
	ID        string
	OrderID   string
	ActorID   string
	ActorRole string
	FromState OrderStatus
	ToState   OrderStatus
	Reason    string
	CreatedAt time.Time
}

// HealthStatus grades the outcome of a dependency probe.
type HealthStatus string

const (
	// HealthStatusOK means the dependency responded inside its budget.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded means the dependency responded with an error.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError means the dependency timed out or was cancelled.
	HealthStatusError HealthStatus = "error"
)

// SystemHealthCheck captures a single dependency probe result.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates probe results for readiness reporting.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}

// MediaUpload describes a signed upload slot issued for store imagery.
type MediaUpload struct {
	Path        string
	UploadURL   string
	ContentType string
	ExpiresAt   time.Time
}
