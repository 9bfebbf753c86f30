package services

import (
	"context"
	"time"

	domain "github.com/sokomart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Store              = domain.Store
	LogisticsOption    = domain.LogisticsOption
	LogisticsType      = domain.LogisticsType
	CartLine           = domain.CartLine
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	AuditLogEntry      = domain.AuditLogEntry
	SystemHealthReport = domain.SystemHealthReport
	MediaUpload        = domain.MediaUpload
)

// CheckoutService splits a cart across stores and creates the per-store orders.
type CheckoutService interface {
	PlaceOrders(ctx context.Context, cmd PlaceOrdersCommand) (CheckoutResult, error)
}

// PlaceOrdersCommand carries everything checkout needs: the cart lines, the
// buyer's logistics choice per store, and the delivery address.
type PlaceOrdersCommand struct {
	BuyerID string
	Lines   []CartLine
	// LogisticsSelections maps storeId to the chosen logistics option id. Every
	// store present in Lines must have an entry.
	LogisticsSelections map[string]string
	DeliveryAddress     string
	PaymentReference    string
}

// CheckoutResult reports the orders created by a split, in store-group order.
type CheckoutResult struct {
	Orders []Order
}

// OrderService encapsulates order reads and the fulfilment state machine.
type OrderService interface {
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	// Advance moves the order to the requested status, enforcing the linear
	// pending->paid->processing->shipped->delivered flow.
	Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error)
	// Cancel moves any non-terminal order to cancelled.
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	// ConfirmPayment resolves the orders stamped with a provider reference and
	// advances the pending ones to paid. Used by the payment webhook.
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) ([]Order, error)
	// ExpireStalePending cancels pending orders older than the TTL. Returns the
	// IDs of the orders cancelled.
	ExpireStalePending(ctx context.Context, cmd ExpireStalePendingCommand) ([]string, error)
	// ListAuditTrail returns the transition history recorded for an order.
	ListAuditTrail(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[AuditLogEntry], error)
}

// OrderListFilter narrows order listings per caller.
type OrderListFilter struct {
	BuyerID    string
	StoreID    string
	Status     []OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// AdvanceOrderCommand requests a single forward transition.
type AdvanceOrderCommand struct {
	OrderID          string
	TargetStatus     OrderStatus
	ActorID          string
	ActorRole        string
	PaymentReference string
}

// CancelOrderCommand requests cancellation with an optional reason.
type CancelOrderCommand struct {
	OrderID   string
	Reason    string
	ActorID   string
	ActorRole string
}

// ConfirmPaymentCommand marks the order paid based on a provider reference.
type ConfirmPaymentCommand struct {
	PaymentReference string
	ActorID          string
}

// ExpireStalePendingCommand bounds a single expiry sweep.
type ExpireStalePendingCommand struct {
	TTL     time.Duration
	Limit   int
	ActorID string
}

// LogisticsService manages the fulfilment options a store offers.
type LogisticsService interface {
	CreateOption(ctx context.Context, cmd UpsertLogisticsOptionCommand) (LogisticsOption, error)
	UpdateOption(ctx context.Context, cmd UpsertLogisticsOptionCommand) (LogisticsOption, error)
	DeactivateOption(ctx context.Context, cmd DeactivateLogisticsOptionCommand) (LogisticsOption, error)
	GetOption(ctx context.Context, optionID string) (LogisticsOption, error)
	ListStoreOptions(ctx context.Context, query LogisticsOptionQuery) (domain.CursorPage[LogisticsOption], error)
}

// UpsertLogisticsOptionCommand creates or updates an option. OptionID is empty on create.
type UpsertLogisticsOptionCommand struct {
	OptionID      string
	StoreID       string
	Type          LogisticsType
	LocationName  string
	City          string
	FeeAmount     int64
	TimelineLabel string
	Active        *bool
	ActorID       string
}

// DeactivateLogisticsOptionCommand retires an option from checkout.
type DeactivateLogisticsOptionCommand struct {
	OptionID string
	ActorID  string
}

// LogisticsOptionQuery lists a store's options.
type LogisticsOptionQuery struct {
	StoreID    string
	OnlyActive bool
	Pagination Pagination
}

// StoreService maintains the storefront registry used for ownership checks.
type StoreService interface {
	CreateStore(ctx context.Context, cmd CreateStoreCommand) (Store, error)
	UpdateStore(ctx context.Context, cmd UpdateStoreCommand) (Store, error)
	GetStore(ctx context.Context, storeID string) (Store, error)
	ListStores(ctx context.Context, query StoreQuery) (domain.CursorPage[Store], error)
}

// CreateStoreCommand registers a storefront for the acting seller.
type CreateStoreCommand struct {
	OwnerID string
	Name    string
	City    string
}

// UpdateStoreCommand mutates mutable store fields.
type UpdateStoreCommand struct {
	StoreID   string
	Name      *string
	City      *string
	Active    *bool
	ImagePath *string
	ActorID   string
}

// StoreQuery filters store listings.
type StoreQuery struct {
	OwnerID    string
	OnlyActive bool
	Pagination Pagination
}

// PaymentService bridges pending orders to the payment provider and back.
type PaymentService interface {
	// CreatePaymentSession opens a provider checkout session covering the given
	// orders and stamps the provider reference onto each of them.
	CreatePaymentSession(ctx context.Context, cmd CreatePaymentSessionCommand) (PaymentSession, error)
	// RecordWebhookEvent processes a provider notification, confirming payment
	// on success events.
	RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error
}

// CreatePaymentSessionCommand opens a session for one or more pending orders.
type CreatePaymentSessionCommand struct {
	BuyerID    string
	OrderIDs   []string
	SuccessURL string
	CancelURL  string
	Provider   string
}

// PaymentSession is the provider session handed back to the client.
type PaymentSession struct {
	SessionID   string
	Provider    string
	RedirectURL string
	Reference   string
	ExpiresAt   time.Time
}

// PaymentWebhookCommand wraps a verified provider event.
type PaymentWebhookCommand struct {
	Provider  string
	EventType string
	Reference string
	EventID   string
}

// MediaService issues signed URLs for store imagery.
type MediaService interface {
	CreateStoreImageUpload(ctx context.Context, cmd StoreImageUploadCommand) (MediaUpload, error)
}

// StoreImageUploadCommand requests a signed upload slot for a store image.
type StoreImageUploadCommand struct {
	StoreID     string
	FileName    string
	ContentType string
	ActorID     string
}

// SystemService surfaces operational health for probes.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// CounterService hands out sequence numbers for order numbering.
type CounterService interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// AuditLogService records fulfilment transitions for later review.
type AuditLogService interface {
	RecordTransition(ctx context.Context, cmd RecordTransitionCommand) error
	ListByOrder(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[AuditLogEntry], error)
}

// RecordTransitionCommand captures one state change for the audit trail.
type RecordTransitionCommand struct {
	OrderID   string
	ActorID   string
	ActorRole string
	From      OrderStatus
	To        OrderStatus
	Reason    string
}
