package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/sokomart/api/internal/domain"
	"github.com/sokomart/api/internal/platform/auth"
	"github.com/sokomart/api/internal/platform/httpx"
	"github.com/sokomart/api/internal/services"
)

const maxOrderRequestBody = 4 * 1024

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusPaid:       {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

// OrderHandlers exposes order reads and the fulfilment transitions. The store
// service resolves which seller owns an order's store for authorization.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	stores services.StoreService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, stores services.StoreService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
		stores: stores,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/audit", h.listAuditTrail)
	r.Post("/{orderID}:advance", h.advanceOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()

	statuses := make([]domain.OrderStatus, 0, len(query["status"]))
	for _, raw := range query["status"] {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pagination, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		BuyerID:    strings.TrimSpace(identity.UID),
		Status:     statuses,
		DateRange:  dateRange,
		Pagination: pagination,
	}

	// Staff can inspect any buyer's or store's orders; buyers only their own.
	if identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin) {
		filter.BuyerID = strings.TrimSpace(query.Get("buyer_id"))
		filter.StoreID = strings.TrimSpace(query.Get("store_id"))
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if !canReadOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type advanceOrderRequest struct {
	TargetStatus     string `json:"target_status"`
	PaymentReference string `json:"payment_reference"`
}

func (h *OrderHandlers) advanceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if !identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req advanceOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	target, ok := parseOrderStatus(req.TargetStatus)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status must be a valid order status", http.StatusBadRequest))
		return
	}

	current, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !h.requireOrderStoreOwner(ctx, w, identity, current) {
		return
	}

	order, err := h.orders.Advance(ctx, services.AdvanceOrderCommand{
		OrderID:          orderID,
		TargetStatus:     target,
		ActorID:          strings.TrimSpace(identity.UID),
		ActorRole:        actorRole(identity),
		PaymentReference: strings.TrimSpace(req.PaymentReference),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !canReadOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	// Buyers may cancel their own order; anyone else must own the store.
	if !strings.EqualFold(strings.TrimSpace(order.BuyerID), strings.TrimSpace(identity.UID)) {
		if !h.requireOrderStoreOwner(ctx, w, identity, order) {
			return
		}
	}

	cancelled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:   orderID,
		Reason:    strings.TrimSpace(req.Reason),
		ActorID:   strings.TrimSpace(identity.UID),
		ActorRole: actorRole(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

func (h *OrderHandlers) listAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if !identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	pagination, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListAuditTrail(ctx, orderID, pagination)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	entries := make([]auditEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		entries = append(entries, auditEntryPayload{
			ID:        entry.ID,
			OrderID:   entry.OrderID,
			ActorID:   entry.ActorID,
			ActorRole: entry.ActorRole,
			FromState: string(entry.FromState),
			ToState:   string(entry.ToState),
			Reason:    entry.Reason,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, auditTrailResponse{
		Items:         entries,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID           string `json:"id"`
	OrderNumber  string `json:"order_number"`
	StoreID      string `json:"store_id"`
	StoreName    string `json:"store_name,omitempty"`
	Status       string `json:"status"`
	Currency     string `json:"currency"`
	Subtotal     int64  `json:"subtotal"`
	LogisticsFee int64  `json:"logistics_fee"`
	Total        int64  `json:"total"`
	CreatedAt    string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"order_number"`
	BuyerID           string             `json:"buyer_id"`
	StoreID           string             `json:"store_id"`
	StoreName         string             `json:"store_name,omitempty"`
	Status            string             `json:"status"`
	Currency          string             `json:"currency"`
	Subtotal          int64              `json:"subtotal"`
	LogisticsFee      int64              `json:"logistics_fee"`
	Total             int64              `json:"total"`
	LogisticsOptionID string             `json:"logistics_option_id"`
	DeliveryAddress   string             `json:"delivery_address"`
	PaymentReference  string             `json:"payment_reference,omitempty"`
	Items             []orderItemPayload `json:"items"`
	CancelReason      *string            `json:"cancel_reason,omitempty"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at,omitempty"`
	PaidAt            string             `json:"paid_at,omitempty"`
	ShippedAt         string             `json:"shipped_at,omitempty"`
	DeliveredAt       string             `json:"delivered_at,omitempty"`
	CancelledAt       string             `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	Quantity     int64  `json:"quantity"`
	JaraQuantity int64  `json:"jara_quantity"`
	UnitPrice    int64  `json:"unit_price"`
	TotalPrice   int64  `json:"total_price"`
}

type auditTrailResponse struct {
	Items         []auditEntryPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type auditEntryPayload struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	ActorID   string `json:"actor_id,omitempty"`
	ActorRole string `json:"actor_role,omitempty"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:           strings.TrimSpace(order.ID),
		OrderNumber:  strings.TrimSpace(order.OrderNumber),
		StoreID:      strings.TrimSpace(order.StoreID),
		StoreName:    strings.TrimSpace(order.StoreName),
		Status:       strings.TrimSpace(string(order.Status)),
		Currency:     strings.ToUpper(strings.TrimSpace(order.Currency)),
		Subtotal:     order.Subtotal,
		LogisticsFee: order.LogisticsFee,
		Total:        order.Total,
		CreatedAt:    formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                strings.TrimSpace(order.ID),
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		BuyerID:           strings.TrimSpace(order.BuyerID),
		StoreID:           strings.TrimSpace(order.StoreID),
		StoreName:         strings.TrimSpace(order.StoreName),
		Status:            strings.TrimSpace(string(order.Status)),
		Currency:          strings.ToUpper(strings.TrimSpace(order.Currency)),
		Subtotal:          order.Subtotal,
		LogisticsFee:      order.LogisticsFee,
		Total:             order.Total,
		LogisticsOptionID: strings.TrimSpace(order.LogisticsOptionID),
		DeliveryAddress:   strings.TrimSpace(order.DeliveryAddress),
		PaymentReference:  strings.TrimSpace(order.PaymentReference),
		Items:             make([]orderItemPayload, 0, len(order.Items)),
		CancelReason:      order.CancelReason,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		PaidAt:            formatTimePtr(order.PaidAt),
		ShippedAt:         formatTimePtr(order.ShippedAt),
		DeliveredAt:       formatTimePtr(order.DeliveredAt),
		CancelledAt:       formatTimePtr(order.CancelledAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:           strings.TrimSpace(item.ID),
			ProductID:    strings.TrimSpace(item.ProductID),
			ProductName:  strings.TrimSpace(item.ProductName),
			Quantity:     item.Quantity,
			JaraQuantity: item.JaraQuantity,
			UnitPrice:    item.UnitPrice,
			TotalPrice:   item.TotalPrice,
		})
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; reload and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

// requireOrderStoreOwner verifies the caller may manage the order's fulfilment:
// admins always, everyone else only when they own the order's store. Writes the
// error response when the check fails.
func (h *OrderHandlers) requireOrderStoreOwner(ctx context.Context, w http.ResponseWriter, identity *auth.Identity, order services.Order) bool {
	if identity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return false
	}
	if identity.HasRole(auth.RoleAdmin) {
		return true
	}
	if h.stores == nil {
		httpx.WriteError(ctx, w, httpx.NewError("store_service_unavailable", "store service unavailable", http.StatusServiceUnavailable))
		return false
	}

	store, err := h.stores.GetStore(ctx, strings.TrimSpace(order.StoreID))
	if err != nil {
		writeStoreError(ctx, w, err)
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(store.OwnerID), strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "caller is not the order's owning store", http.StatusForbidden))
		return false
	}
	return true
}

func canReadOrder(identity *auth.Identity, order services.Order) bool {
	if identity == nil {
		return false
	}
	if identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(order.BuyerID), strings.TrimSpace(identity.UID))
}

func actorRole(identity *auth.Identity) string {
	switch {
	case identity == nil:
		return ""
	case identity.HasRole(auth.RoleAdmin):
		return auth.RoleAdmin
	case identity.HasRole(auth.RoleStaff):
		return auth.RoleStaff
	default:
		return auth.RoleBuyer
	}
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}
