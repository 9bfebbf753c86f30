package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/payments"
	"github.com/sokomart/api/internal/repositories"
)

var (
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidInput indicates a malformed command.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderInvalidTransition indicates the requested status change is not
	// allowed from the order's current status. Repeating the current status is
	// also rejected.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent writer changed the order first.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the persistence layer failed.
	ErrOrderUnavailable = errors.New("order: service unavailable")
)

// orderStateTransitions defines the legal fulfilment flow. The happy path is
// strictly linear; cancellation is reachable from every non-terminal state.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

const defaultExpirySweepLimit = 50

// RefundGateway is the slice of the payments router the cancel path
// uses to return captured money.
type RefundGateway interface {
	Refund(ctx context.Context, hint payments.RouteHint, params payments.RefundParams) (payments.RefundResult, error)
}

// orderService implements OrderService over the order repository, the audit
// writer service, and the event publisher.
type orderService struct {
	orders    repositories.OrderRepository
	auditLogs AuditLogService
	events    OrderEventPublisher
	refunds   RefundGateway
	logger    func(ctx context.Context, event string, fields map[string]any)
	clock     func() time.Time
}

// OrderServiceDeps enumerates dependencies for NewOrderService. Refunds
// is optional; without it cancelled paid orders are not refunded.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	AuditLogs AuditLogService
	Events    OrderEventPublisher
	Refunds   RefundGateway
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Clock     func() time.Time
}

// NewOrderService wires an OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service requires order repository")
	}
	if deps.AuditLogs == nil {
		return nil, errors.New("order service requires audit log service")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &orderService{
		orders:    deps.Orders,
		auditLogs: deps.AuditLogs,
		events:    deps.Events,
		refunds:   deps.Refunds,
		logger:    deps.Logger,
		clock:     func() time.Time { return clock().UTC() },
	}, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		BuyerID:    strings.TrimSpace(filter.BuyerID),
		StoreID:    strings.TrimSpace(filter.StoreID),
		Status:     filter.Status,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// Advance moves the order one step along the fulfilment flow. The underlying
// update is conditional on the status the caller observed, so exactly one of
// two concurrent identical advances succeeds.
func (s *orderService) Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, known := orderStateTransitions[cmd.TargetStatus]; !known {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !canTransition(current.Status, cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, current.Status, cmd.TargetStatus)
	}

	now := s.clock()
	update := repositories.OrderStatusUpdate{UpdatedAt: now}
	switch cmd.TargetStatus {
	case domain.OrderStatusPaid:
		update.PaidAt = &now
		if ref := strings.TrimSpace(cmd.PaymentReference); ref != "" {
			update.PaymentReference = &ref
		}
	case domain.OrderStatusShipped:
		update.ShippedAt = &now
	case domain.OrderStatusDelivered:
		update.DeliveredAt = &now
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID, current.Status, cmd.TargetStatus, update)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.recordTransition(ctx, updated, current.Status, cmd.ActorID, cmd.ActorRole, "")
	s.publishStatusChanged(ctx, updated, current.Status, cmd.ActorID, now)
	return updated, nil
}

// Cancel moves a non-terminal order to cancelled, recording the reason.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if current.Status.IsTerminal() {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, current.Status, domain.OrderStatusCancelled)
	}

	now := s.clock()
	reason := strings.TrimSpace(cmd.Reason)
	update := repositories.OrderStatusUpdate{
		UpdatedAt:   now,
		CancelledAt: &now,
	}
	if reason != "" {
		update.CancelReason = &reason
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID, current.Status, domain.OrderStatusCancelled, update)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.recordTransition(ctx, updated, current.Status, cmd.ActorID, cmd.ActorRole, reason)
	s.publishStatusChanged(ctx, updated, current.Status, cmd.ActorID, now)
	s.refundCapturedPayment(ctx, updated, current.Status)
	return updated, nil
}

// refundCapturedPayment returns the money for an order that was paid
// before cancellation. The refund is best effort: the cancellation
// already committed, so a provider failure is logged, not surfaced.
func (s *orderService) refundCapturedPayment(ctx context.Context, order Order, from domain.OrderStatus) {
	if s.refunds == nil || from == domain.OrderStatusPending {
		return
	}
	reference := strings.TrimSpace(order.PaymentReference)
	if reference == "" {
		return
	}

	result, err := s.refunds.Refund(ctx,
		payments.RouteHint{Currency: domain.CurrencyNGN},
		payments.RefundParams{
			Reference:      reference,
			Reason:         "requested_by_customer",
			IdempotencyKey: "refund-" + order.ID,
			Metadata:       map[string]string{"orderId": order.ID},
		},
	)
	if s.logger == nil {
		return
	}
	if err != nil {
		s.logger(ctx, "order.refund_failed", map[string]any{
			"order_id":  order.ID,
			"reference": reference,
			"error":     err.Error(),
		})
		return
	}
	s.logger(ctx, "order.refund_issued", map[string]any{
		"order_id":  order.ID,
		"reference": reference,
		"refund_id": result.RefundID,
		"status":    string(result.Status),
	})
}

// ConfirmPayment resolves every order stamped with the provider reference and
// advances the pending ones to paid. Orders already past pending are left
// alone, so a replayed webhook is harmless.
func (s *orderService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) ([]Order, error) {
	reference := strings.TrimSpace(cmd.PaymentReference)
	if reference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", ErrOrderInvalidInput)
	}

	orders, err := s.orders.ListByPaymentReference(ctx, reference)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	confirmed := make([]Order, 0, len(orders))
	for _, order := range orders {
		if order.Status != domain.OrderStatusPending {
			continue
		}
		updated, err := s.Advance(ctx, AdvanceOrderCommand{
			OrderID:          order.ID,
			TargetStatus:     domain.OrderStatusPaid,
			ActorID:          cmd.ActorID,
			ActorRole:        "system",
			PaymentReference: reference,
		})
		if err != nil {
			// A concurrent confirmation already moved this order on.
			if errors.Is(err, ErrOrderConflict) || errors.Is(err, ErrOrderInvalidTransition) {
				continue
			}
			return confirmed, err
		}
		confirmed = append(confirmed, updated)
	}
	return confirmed, nil
}

// ExpireStalePending cancels pending orders older than the TTL. Orders that
// lose the conditional update raced a payment confirmation and are skipped.
func (s *orderService) ExpireStalePending(ctx context.Context, cmd ExpireStalePendingCommand) ([]string, error) {
	if cmd.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrOrderInvalidInput)
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultExpirySweepLimit
	}

	now := s.clock()
	cutoff := now.Add(-cmd.TTL)
	stale, err := s.orders.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	reason := "payment window expired"
	expired := make([]string, 0, len(stale))
	for _, order := range stale {
		update := repositories.OrderStatusUpdate{
			UpdatedAt:    now,
			CancelledAt:  &now,
			CancelReason: &reason,
		}
		updated, err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled, update)
		if err != nil {
			if errors.Is(s.mapRepositoryError(err), ErrOrderConflict) {
				continue
			}
			return expired, s.mapRepositoryError(err)
		}
		expired = append(expired, updated.ID)
		s.recordTransition(ctx, updated, domain.OrderStatusPending, cmd.ActorID, "system", reason)
		s.publishStatusChanged(ctx, updated, domain.OrderStatusPending, cmd.ActorID, now)
	}
	return expired, nil
}

func (s *orderService) ListAuditTrail(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[AuditLogEntry], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	page, err := s.auditLogs.ListByOrder(ctx, orderID, pager)
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// recordTransition hands the state change to the audit writer. The writer
// swallows repository failures; only a malformed command comes back, and the
// transition already committed so it is logged rather than surfaced.
func (s *orderService) recordTransition(ctx context.Context, order Order, from domain.OrderStatus, actorID, actorRole, reason string) {
	err := s.auditLogs.RecordTransition(ctx, RecordTransitionCommand{
		OrderID:   order.ID,
		ActorID:   strings.TrimSpace(actorID),
		ActorRole: strings.TrimSpace(actorRole),
		From:      from,
		To:        order.Status,
		Reason:    reason,
	})
	if err != nil && s.logger != nil {
		s.logger(ctx, "order.audit_append_failed", map[string]any{
			"order_id": order.ID,
			"to_state": string(order.Status),
			"error":    err.Error(),
		})
	}
}

func (s *orderService) publishStatusChanged(ctx context.Context, order Order, from domain.OrderStatus, actorID string, now time.Time) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:           EventOrderStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		StoreID:        order.StoreID,
		BuyerID:        order.BuyerID,
		PreviousStatus: from,
		CurrentStatus:  order.Status,
		ActorID:        strings.TrimSpace(actorID),
		OccurredAt:     now,
	}
	if err := s.events.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"event_type": event.Type,
			"order_id":   order.ID,
			"error":      err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

// Ensure interface compliance.
var _ OrderService = (*orderService)(nil)
