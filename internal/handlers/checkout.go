package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sokomart/api/internal/platform/auth"
	"github.com/sokomart/api/internal/platform/httpx"
	"github.com/sokomart/api/internal/services"
)

const (
	maxCheckoutRequestBody = 32 * 1024

	checkoutRateLimit  = 10
	checkoutRateWindow = time.Minute
)

// CheckoutHandlers exposes the checkout endpoint for authenticated buyers.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  rateLimiter
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase
// authentication and a per-buyer rate limit.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		limiter:  newWindowLimiter(checkoutRateLimit, checkoutRateWindow, time.Now),
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/", h.placeOrders)
}

type checkoutLinePayload struct {
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	StoreID         string `json:"store_id"`
	StoreName       string `json:"store_name"`
	UnitPrice       int64  `json:"unit_price"`
	Quantity        int64  `json:"quantity"`
	JaraBuyQuantity int64  `json:"jara_buy_quantity"`
	JaraGetQuantity int64  `json:"jara_get_quantity"`
}

type placeOrdersRequest struct {
	DeliveryAddress     string                `json:"delivery_address"`
	Lines               []checkoutLinePayload `json:"lines"`
	LogisticsSelections map[string]string     `json:"logistics_selections"`
}

type placeOrdersResponse struct {
	Orders []orderPayload `json:"orders"`
}

func (h *CheckoutHandlers) placeOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req placeOrdersRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	if len(req.Lines) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one cart line is required", http.StatusBadRequest))
		return
	}

	lines := make([]services.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CartLine{
			ProductID:       strings.TrimSpace(line.ProductID),
			ProductName:     strings.TrimSpace(line.ProductName),
			StoreID:         strings.TrimSpace(line.StoreID),
			StoreName:       strings.TrimSpace(line.StoreName),
			UnitPrice:       line.UnitPrice,
			Quantity:        line.Quantity,
			JaraBuyQuantity: line.JaraBuyQuantity,
			JaraGetQuantity: line.JaraGetQuantity,
		})
	}

	selections := make(map[string]string, len(req.LogisticsSelections))
	for storeID, optionID := range req.LogisticsSelections {
		storeID = strings.TrimSpace(storeID)
		optionID = strings.TrimSpace(optionID)
		if storeID == "" || optionID == "" {
			continue
		}
		selections[storeID] = optionID
	}

	cmd := services.PlaceOrdersCommand{
		BuyerID:             identity.UID,
		Lines:               lines,
		LogisticsSelections: selections,
		DeliveryAddress:     req.DeliveryAddress,
	}

	result, err := h.checkout.PlaceOrders(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	orders := make([]orderPayload, 0, len(result.Orders))
	for _, order := range result.Orders {
		orders = append(orders, buildOrderPayload(order))
	}

	writeJSONResponse(w, http.StatusCreated, placeOrdersResponse{Orders: orders})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var partial *services.PartialCheckoutError
	switch {
	case errors.As(err, &partial):
		createdIDs := make([]string, 0, len(partial.CreatedOrders))
		for _, order := range partial.CreatedOrders {
			createdIDs = append(createdIDs, order.ID)
		}
		httpx.WriteError(ctx, w, httpx.NewError("checkout_partial_failure", "some orders were created before checkout failed", http.StatusInternalServerError).
			WithDetails(map[string]any{
				"created_order_ids": createdIDs,
				"failed_store_id":   partial.FailedStoreID,
			}))
	case errors.Is(err, services.ErrMissingAddress):
		httpx.WriteError(ctx, w, httpx.NewError("missing_address", "delivery address is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrMissingLogisticsSelection):
		httpx.WriteError(ctx, w, httpx.NewError("missing_logistics_selection", "every store in the cart needs a logistics selection", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrLogisticsOptionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("logistics_option_unavailable", "a chosen logistics option is unavailable", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "orders were already placed for this cart", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
