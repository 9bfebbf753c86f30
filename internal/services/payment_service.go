package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/payments"
	"github.com/sokomart/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput indicates the session or webhook request is malformed.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates no order matches the request.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentUnauthorized indicates the acting buyer does not own the orders.
	ErrPaymentUnauthorized = errors.New("payment: unauthorized")
	// ErrPaymentOrderNotPayable indicates an order is past the pending state.
	ErrPaymentOrderNotPayable = errors.New("payment: order is not payable")
	// ErrPaymentUnavailable indicates the provider or the datastore failed.
	ErrPaymentUnavailable = errors.New("payment: dependency unavailable")
)

// Webhook event types the service treats as payment success.
const (
	webhookEventSessionCompleted = "checkout.session.completed"
	webhookEventIntentSucceeded  = "payment_intent.succeeded"
)

// PaymentGateway is the slice of the payments router the service needs.
type PaymentGateway interface {
	CreateSession(ctx context.Context, hint payments.RouteHint, params payments.SessionParams) (payments.Session, error)
}

// PaymentLogger defines the logging contract for payment operations.
type PaymentLogger func(ctx context.Context, event string, fields map[string]any)

// PaymentServiceDeps wires the payment service dependencies.
type PaymentServiceDeps struct {
	Orders       repositories.OrderRepository
	OrderService OrderService
	Gateway      PaymentGateway
	Logger       PaymentLogger
	Clock        func() time.Time
}

type paymentService struct {
	orders       repositories.OrderRepository
	orderService OrderService
	gateway      PaymentGateway
	logger       PaymentLogger
	clock        func() time.Time
}

// NewPaymentService constructs the PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service requires an order repository")
	}
	if deps.OrderService == nil {
		return nil, errors.New("payment service requires the order service")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service requires a payment gateway")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &paymentService{
		orders:       deps.Orders,
		orderService: deps.OrderService,
		gateway:      deps.Gateway,
		logger:       logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

var _ PaymentService = (*paymentService)(nil)

// CreatePaymentSession opens one provider session covering every order in the
// command and stamps the session ID onto each as the payment reference.
func (s *paymentService) CreatePaymentSession(ctx context.Context, cmd CreatePaymentSessionCommand) (PaymentSession, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return PaymentSession{}, fmt.Errorf("%w: buyer id is required", ErrPaymentInvalidInput)
	}
	orderIDs := dedupeOrderIDs(cmd.OrderIDs)
	if len(orderIDs) == 0 {
		return PaymentSession{}, fmt.Errorf("%w: at least one order id is required", ErrPaymentInvalidInput)
	}
	if strings.TrimSpace(cmd.SuccessURL) == "" || strings.TrimSpace(cmd.CancelURL) == "" {
		return PaymentSession{}, fmt.Errorf("%w: success and cancel URLs are required", ErrPaymentInvalidInput)
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return PaymentSession{}, s.mapRepositoryError(err)
		}
		if order.BuyerID != buyerID {
			return PaymentSession{}, fmt.Errorf("%w: order %s belongs to another buyer", ErrPaymentUnauthorized, orderID)
		}
		if order.Status != domain.OrderStatusPending {
			return PaymentSession{}, fmt.Errorf("%w: order %s is %s", ErrPaymentOrderNotPayable, orderID, order.Status)
		}
		orders = append(orders, order)
	}

	var total int64
	items := make([]payments.LineItem, 0, len(orders))
	for _, order := range orders {
		total += order.Total
		items = append(items, payments.LineItem{
			Name:       fmt.Sprintf("Order %s", order.OrderNumber),
			SKU:        order.ID,
			Quantity:   1,
			UnitAmount: domain.ToKobo(order.Total),
			Currency:   domain.CurrencyNGN,
		})
	}

	session, err := s.gateway.CreateSession(ctx,
		payments.RouteHint{
			Provider: strings.TrimSpace(cmd.Provider),
			Currency: domain.CurrencyNGN,
		},
		payments.SessionParams{
			Amount:         domain.ToKobo(total),
			Currency:       domain.CurrencyNGN,
			SuccessURL:     strings.TrimSpace(cmd.SuccessURL),
			CancelURL:      strings.TrimSpace(cmd.CancelURL),
			IdempotencyKey: paymentSessionKey(buyerID, orderIDs),
			Metadata: map[string]string{
				"buyerId":  buyerID,
				"orderIds": strings.Join(orderIDs, ","),
			},
			Items: items,
		},
	)
	if err != nil {
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	now := s.clock()
	for _, order := range orders {
		if err := s.orders.UpdatePaymentReference(ctx, order.ID, session.ID, now); err != nil {
			return PaymentSession{}, s.mapRepositoryError(err)
		}
	}

	s.logger(ctx, "payments.session.created", map[string]any{
		"sessionId": session.ID,
		"provider":  session.Provider,
		"buyerId":   buyerID,
		"orders":    len(orders),
		"total":     domain.FormatNaira(total),
	})

	return PaymentSession{
		SessionID:   session.ID,
		Provider:    session.Provider,
		RedirectURL: session.RedirectURL,
		Reference:   session.ID,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// RecordWebhookEvent confirms payment on success events and logs the rest.
// Replays are safe: confirmation skips orders that already left pending.
func (s *paymentService) RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error {
	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		return fmt.Errorf("%w: payment reference is required", ErrPaymentInvalidInput)
	}
	eventType := strings.TrimSpace(cmd.EventType)
	if eventType == "" {
		return fmt.Errorf("%w: event type is required", ErrPaymentInvalidInput)
	}

	switch eventType {
	case webhookEventSessionCompleted, webhookEventIntentSucceeded:
		confirmed, err := s.orderService.ConfirmPayment(ctx, ConfirmPaymentCommand{
			PaymentReference: reference,
			ActorID:          strings.TrimSpace(cmd.Provider),
		})
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				return fmt.Errorf("%w: no orders for reference %s", ErrPaymentNotFound, reference)
			}
			return err
		}
		s.logger(ctx, "payments.webhook.confirmed", map[string]any{
			"provider":  cmd.Provider,
			"eventId":   cmd.EventID,
			"reference": reference,
			"confirmed": len(confirmed),
		})
		return nil
	default:
		s.logger(ctx, "payments.webhook.ignored", map[string]any{
			"provider":  cmd.Provider,
			"eventId":   cmd.EventID,
			"eventType": eventType,
			"reference": reference,
		})
		return nil
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentOrderNotPayable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
}

func dedupeOrderIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// paymentSessionKey derives a stable idempotency key so a retried request for
// the same order set reuses the provider session instead of opening another.
func paymentSessionKey(buyerID string, orderIDs []string) string {
	sum := sha256.Sum256([]byte(buyerID + "|" + strings.Join(orderIDs, "|")))
	return "pay_" + hex.EncodeToString(sum[:])[:24]
}
