package repositories

import (
	"context"
	"time"

	domain "github.com/sokomart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Stores() StoreRepository
	LogisticsOptions() LogisticsOptionRepository
	Orders() OrderRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StoreRepository persists storefront records.
type StoreRepository interface {
	Insert(ctx context.Context, store domain.Store) error
	Update(ctx context.Context, store domain.Store) error
	FindByID(ctx context.Context, storeID string) (domain.Store, error)
	List(ctx context.Context, filter StoreListFilter) (domain.CursorPage[domain.Store], error)
}

// LogisticsOptionRepository persists the fulfilment choices a store offers.
type LogisticsOptionRepository interface {
	Insert(ctx context.Context, option domain.LogisticsOption) error
	Update(ctx context.Context, option domain.LogisticsOption) error
	FindByID(ctx context.Context, optionID string) (domain.LogisticsOption, error)
	// FindByIDs resolves several options in one call; absent IDs are simply
	// missing from the result map rather than an error.
	FindByIDs(ctx context.Context, optionIDs []string) (map[string]domain.LogisticsOption, error)
	ListByStore(ctx context.Context, storeID string, filter LogisticsOptionListFilter) (domain.CursorPage[domain.LogisticsOption], error)
}

// OrderRepository persists order documents (header plus embedded items) and
// provides the conditional status update the fulfilment flow relies on.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// ListByPaymentReference returns every order stamped with the provider
	// reference. One payment session can cover several per-store orders.
	ListByPaymentReference(ctx context.Context, reference string) ([]domain.Order, error)
	// UpdatePaymentReference stamps the provider reference onto the order.
	UpdatePaymentReference(ctx context.Context, orderID, reference string, updatedAt time.Time) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// UpdateStatus applies "set status=to where id=orderID and status=from".
	// Implementations must perform the check-and-set atomically and return a
	// RepositoryError with IsConflict when another writer got there first.
	UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, update OrderStatusUpdate) (domain.Order, error)
	// ListStalePending returns pending orders created before the cutoff, oldest
	// first, capped at limit.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// OrderStatusUpdate carries the optional fields written alongside a status change.
type OrderStatusUpdate struct {
	UpdatedAt        time.Time
	PaymentReference *string
	CancelReason     *string
	PaidAt           *time.Time
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type StoreListFilter struct {
	OwnerID    string
	OnlyActive bool
	Pagination domain.Pagination
}

type LogisticsOptionListFilter struct {
	OnlyActive bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	BuyerID    string
	StoreID    string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
