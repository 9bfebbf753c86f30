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

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/repositories"
)

// Checkout error taxonomy. Handlers map these onto HTTP statuses.
var (
	// ErrCheckoutInvalidInput indicates a malformed cart line or command.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrMissingAddress indicates the delivery address was empty.
	ErrMissingAddress = errors.New("checkout: delivery address is required")
	// ErrMissingLogisticsSelection indicates at least one store in the cart has
	// no logistics choice. No orders are created.
	ErrMissingLogisticsSelection = errors.New("checkout: logistics selection missing for store")
	// ErrLogisticsOptionUnavailable indicates a chosen option does not exist, is
	// inactive, or belongs to a different store.
	ErrLogisticsOptionUnavailable = errors.New("checkout: logistics option unavailable")
	// ErrCheckoutConflict indicates the same cart was already placed.
	ErrCheckoutConflict = errors.New("checkout: orders already placed for this cart")
	// ErrCheckoutUnavailable indicates the persistence layer failed.
	ErrCheckoutUnavailable = errors.New("checkout: service unavailable")
)

// PartialCheckoutError reports a persistence failure that struck after some
// store groups were already committed. The created orders stand; the caller
// learns which ones via CreatedOrders.
type PartialCheckoutError struct {
	CreatedOrders []Order
	FailedStoreID string
	Err           error
}

func (e *PartialCheckoutError) Error() string {
	return fmt.Sprintf("checkout: order creation failed for store %s after %d orders were created: %v",
		e.FailedStoreID, len(e.CreatedOrders), e.Err)
}

func (e *PartialCheckoutError) Unwrap() error { return e.Err }

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
	orderCounterID    = "orders"
)

// checkoutService splits carts into per-store orders.
type checkoutService struct {
	orders    repositories.OrderRepository
	logistics repositories.LogisticsOptionRepository
	counters  CounterService
	events    OrderEventPublisher
	logger    func(ctx context.Context, event string, fields map[string]any)
	clock     func() time.Time
	idgen     func() string
	sanitize  func(string) string
}

// CheckoutServiceDeps enumerates dependencies for NewCheckoutService.
type CheckoutServiceDeps struct {
	Orders           repositories.OrderRepository
	LogisticsOptions repositories.LogisticsOptionRepository
	Counters         CounterService
	Events           OrderEventPublisher
	Logger           func(ctx context.Context, event string, fields map[string]any)
	Clock            func() time.Time
	IDGenerator      func() string
}

// NewCheckoutService wires a CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service requires order repository")
	}
	if deps.LogisticsOptions == nil {
		return nil, errors.New("checkout service requires logistics option repository")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service requires counter service")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idgen := deps.IDGenerator
	if idgen == nil {
		idgen = func() string { return ulid.Make().String() }
	}

	policy := bluemonday.StrictPolicy()
	return &checkoutService{
		orders:    deps.Orders,
		logistics: deps.LogisticsOptions,
		counters:  deps.Counters,
		events:    deps.Events,
		logger:    deps.Logger,
		clock:     func() time.Time { return clock().UTC() },
		idgen:     idgen,
		sanitize:  func(s string) string { return strings.TrimSpace(policy.Sanitize(s)) },
	}, nil
}

// PlaceOrders validates the whole cart up front, then creates one pending order
// per store group. Validation failures create nothing.
func (s *checkoutService) PlaceOrders(ctx context.Context, cmd PlaceOrdersCommand) (CheckoutResult, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: buyer id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}
	address := s.sanitize(cmd.DeliveryAddress)
	if address == "" {
		return CheckoutResult{}, ErrMissingAddress
	}
	for i, line := range cmd.Lines {
		if strings.TrimSpace(line.StoreID) == "" {
			return CheckoutResult{}, fmt.Errorf("%w: line %d has no store id", ErrCheckoutInvalidInput, i)
		}
		if strings.TrimSpace(line.ProductID) == "" {
			return CheckoutResult{}, fmt.Errorf("%w: line %d has no product id", ErrCheckoutInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return CheckoutResult{}, fmt.Errorf("%w: line %d quantity must be positive", ErrCheckoutInvalidInput, i)
		}
		if line.UnitPrice < 0 {
			return CheckoutResult{}, fmt.Errorf("%w: line %d unit price must not be negative", ErrCheckoutInvalidInput, i)
		}
	}

	groups := groupLinesByStore(cmd.Lines)

	// Every store group needs a logistics choice before anything is written.
	optionIDs := make([]string, 0, len(groups))
	for _, group := range groups {
		optionID := strings.TrimSpace(cmd.LogisticsSelections[group.storeID])
		if optionID == "" {
			return CheckoutResult{}, fmt.Errorf("%w %s", ErrMissingLogisticsSelection, group.storeID)
		}
		optionIDs = append(optionIDs, optionID)
	}

	options, err := s.logistics.FindByIDs(ctx, optionIDs)
	if err != nil {
		return CheckoutResult{}, s.translateRepositoryError(err)
	}
	for _, group := range groups {
		optionID := strings.TrimSpace(cmd.LogisticsSelections[group.storeID])
		option, ok := options[optionID]
		if !ok || !option.Active || option.StoreID != group.storeID {
			return CheckoutResult{}, fmt.Errorf("%w: option %s for store %s", ErrLogisticsOptionUnavailable, optionID, group.storeID)
		}
	}

	now := s.clock()
	fingerprint := checkoutFingerprint(buyerID, address, cmd.Lines, cmd.LogisticsSelections)

	created := make([]Order, 0, len(groups))
	for _, group := range groups {
		option := options[strings.TrimSpace(cmd.LogisticsSelections[group.storeID])]

		orderNumber, err := s.nextOrderNumber(ctx, now)
		if err != nil {
			return s.partialFailure(created, group.storeID, err)
		}

		order := s.buildOrder(group, option, orderNumber, buyerID, address, fingerprint, now)
		order.PaymentReference = strings.TrimSpace(cmd.PaymentReference)

		if err := s.orders.Insert(ctx, order); err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsConflict() {
				// Deterministic order IDs make a replayed cart collide here.
				return CheckoutResult{}, ErrCheckoutConflict
			}
			return s.partialFailure(created, group.storeID, err)
		}
		created = append(created, order)

		s.publishEvent(ctx, OrderEvent{
			Type:          EventOrderCreated,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			StoreID:       order.StoreID,
			BuyerID:       order.BuyerID,
			CurrentStatus: order.Status,
			ActorID:       buyerID,
			OccurredAt:    now,
			Metadata: map[string]string{
				"total":    fmt.Sprintf("%d", order.Total),
				"currency": order.Currency,
			},
		})
	}

	return CheckoutResult{Orders: created}, nil
}

// storeGroup collects the cart lines destined for one store, in cart order.
type storeGroup struct {
	storeID   string
	storeName string
	lines     []CartLine
}

func groupLinesByStore(lines []CartLine) []storeGroup {
	index := make(map[string]int, len(lines))
	groups := make([]storeGroup, 0, len(lines))
	for _, line := range lines {
		storeID := strings.TrimSpace(line.StoreID)
		pos, ok := index[storeID]
		if !ok {
			pos = len(groups)
			index[storeID] = pos
			groups = append(groups, storeGroup{storeID: storeID, storeName: strings.TrimSpace(line.StoreName)})
		}
		groups[pos].lines = append(groups[pos].lines, line)
	}
	return groups
}

func (s *checkoutService) buildOrder(group storeGroup, option domain.LogisticsOption, orderNumber, buyerID, address, fingerprint string, now time.Time) domain.Order {
	orderID := deterministicOrderID(fingerprint, group.storeID)

	items := make([]domain.OrderItem, 0, len(group.lines))
	var subtotal int64
	for _, line := range group.lines {
		lineTotal := domain.LineTotal(line.UnitPrice, line.Quantity)
		subtotal += lineTotal
		items = append(items, domain.OrderItem{
			ID:           orderItemIDPrefix + s.idgen(),
			OrderID:      orderID,
			ProductID:    strings.TrimSpace(line.ProductID),
			ProductName:  s.sanitize(line.ProductName),
			Quantity:     line.Quantity,
			JaraQuantity: domain.JaraQuantity(line.Quantity, line.JaraBuyQuantity, line.JaraGetQuantity),
			UnitPrice:    line.UnitPrice,
			TotalPrice:   lineTotal,
		})
	}

	return domain.Order{
		ID:                orderID,
		OrderNumber:       orderNumber,
		BuyerID:           buyerID,
		StoreID:           group.storeID,
		StoreName:         s.sanitize(group.storeName),
		Status:            domain.OrderStatusPending,
		Subtotal:          subtotal,
		LogisticsFee:      option.FeeAmount,
		Total:             subtotal + option.FeeAmount,
		Currency:          domain.CurrencyNGN,
		LogisticsOptionID: option.ID,
		DeliveryAddress:   address,
		Items:             items,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (s *checkoutService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderCounterID)
	if err != nil {
		return "", fmt.Errorf("allocate order number: %w", err)
	}
	return fmt.Sprintf("SM-%04d-%06d", now.Year(), seq), nil
}

// checkoutFingerprint hashes the cart so a replayed checkout produces the same
// order IDs and collides instead of double-charging.
func checkoutFingerprint(buyerID, address string, lines []CartLine, selections map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "buyer=%s\naddress=%s\n", buyerID, address)

	sorted := make([]CartLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StoreID != sorted[j].StoreID {
			return sorted[i].StoreID < sorted[j].StoreID
		}
		return sorted[i].ProductID < sorted[j].ProductID
	})
	for _, line := range sorted {
		fmt.Fprintf(h, "line=%s|%s|%d|%d\n", line.StoreID, line.ProductID, line.UnitPrice, line.Quantity)
	}

	storeIDs := make([]string, 0, len(selections))
	for storeID := range selections {
		storeIDs = append(storeIDs, storeID)
	}
	sort.Strings(storeIDs)
	for _, storeID := range storeIDs {
		fmt.Fprintf(h, "logistics=%s|%s\n", storeID, selections[storeID])
	}

	return hex.EncodeToString(h.Sum(nil))
}

func deterministicOrderID(fingerprint, storeID string) string {
	sum := sha256.Sum256([]byte(fingerprint + "|" + storeID))
	return orderIDPrefix + hex.EncodeToString(sum[:])[:24]
}

func (s *checkoutService) partialFailure(created []Order, storeID string, err error) (CheckoutResult, error) {
	translated := s.translateRepositoryError(err)
	if len(created) == 0 {
		return CheckoutResult{}, translated
	}
	return CheckoutResult{Orders: created}, &PartialCheckoutError{
		CreatedOrders: created,
		FailedStoreID: storeID,
		Err:           translated,
	}
}

func (s *checkoutService) translateRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return ErrCheckoutConflict
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
	}
}

// Ensure interface compliance.
var _ CheckoutService = (*checkoutService)(nil)
