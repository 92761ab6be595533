package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/quickprint/api/internal/domain"
	"github.com/quickprint/api/internal/platform/auth"
	"github.com/quickprint/api/internal/platform/httpx"
	"github.com/quickprint/api/internal/services"
)

const (
	maxOrderRequestBody  = 16 * 1024
	maxStatusRequestBody = 1024
)

// OrderHandlers exposes the payment and order lifecycle endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	limiter     RateLimiter
	idempotency func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderRateLimiter throttles order initiation per caller.
func WithOrderRateLimiter(limiter RateLimiter) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = limiter
	}
}

// WithIdempotency wraps order initiation with replay protection.
func WithIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the order endpoints at the router root.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	customer := r.With(h.authn.Customer())
	admin := r.With(h.authn.RequireAdmin())

	initiate := http.Handler(http.HandlerFunc(h.initiateOrder))
	if h.idempotency != nil {
		initiate = h.idempotency(initiate)
	}
	customer.Method(http.MethodPost, "/initiate-order", initiate)
	customer.Post("/verify-payment-complete-order", h.verifyPayment)
	customer.Get("/payment-status/{tempOrderId}", h.paymentStatus)
	customer.Get("/orders/{userId}", h.listUserOrders)
	customer.Get("/order/{orderId}", h.getOrder)
	customer.Get("/queue", h.listQueue)

	admin.Put("/orders/{orderId}", h.updateStatus(true))
	admin.Patch("/orders/{orderId}", h.updateStatus(false))
}

type printOptionsPayload struct {
	ColorMode   string `json:"colorMode,omitempty"`
	Sides       string `json:"sides,omitempty"`
	Orientation string `json:"orientation,omitempty"`
}

type initiateOrderRequest struct {
	UserID         string               `json:"userId" validate:"required"`
	ServiceType    string               `json:"serviceType" validate:"required,max=100"`
	FileURL        string               `json:"fileUrl" validate:"required"`
	Quantity       int                  `json:"quantity" validate:"gte=0,lte=1000"`
	PageCount      int                  `json:"pageCount" validate:"gte=0,lte=100000"`
	EstimatedPrice float64              `json:"estimatedPrice" validate:"required,gt=0"`
	Instructions   string               `json:"instructions" validate:"max=4000"`
	PrintOptions   *printOptionsPayload `json:"printOptions"`
	Provider       string               `json:"provider" validate:"omitempty,oneof=razorpay stripe"`
}

type gatewayOrderPayload struct {
	ID           string            `json:"id"`
	Entity       string            `json:"entity"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Receipt      string            `json:"receipt,omitempty"`
	Status       string            `json:"status,omitempty"`
	Notes        map[string]string `json:"notes,omitempty"`
	ClientSecret string            `json:"clientSecret,omitempty"`
}

type initiateOrderResponse struct {
	Success       bool                `json:"success"`
	RazorpayOrder gatewayOrderPayload `json:"razorpayOrder"`
	TempOrderID   string              `json:"tempOrderId"`
	Key           string              `json:"key"`
	Provider      string              `json:"provider"`
	ExpiresAt     string              `json:"expiresAt"`
}

type verifyPaymentRequest struct {
	GatewayOrderID string `json:"razorpay_order_id" validate:"required"`
	PaymentID      string `json:"razorpay_payment_id" validate:"required"`
	Signature      string `json:"razorpay_signature" validate:"required"`
	TempOrderID    string `json:"tempOrderId" validate:"required"`
}

type verifyPaymentResponse struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Message   string `json:"message"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type orderPayload struct {
	OrderID           string              `json:"orderId"`
	UserID            string              `json:"userId"`
	ServiceType       string              `json:"serviceType"`
	FileURL           string              `json:"fileUrl"`
	Quantity          int                 `json:"quantity"`
	PrintOptions      printOptionsPayload `json:"printOptions"`
	Instructions      string              `json:"instructions"`
	PageCount         int                 `json:"pageCount,omitempty"`
	TotalPages        int                 `json:"totalPages,omitempty"`
	EstimatedPrice    float64             `json:"estimatedPrice"`
	TempOrderID       string              `json:"tempOrderId,omitempty"`
	PaymentProvider   string              `json:"paymentProvider,omitempty"`
	RazorpayOrderID   string              `json:"razorpayOrderId"`
	RazorpayPaymentID string              `json:"razorpayPaymentId"`
	PaymentStatus     string              `json:"paymentStatus"`
	Status            string              `json:"status"`
	CreatedAt         string              `json:"createdAt"`
	PaidAt            string              `json:"paidAt,omitempty"`
	UpdatedAt         string              `json:"updatedAt,omitempty"`
}

func (h *OrderHandlers) initiateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, _ := auth.IdentityFromContext(ctx)
	if h.limiter != nil && !h.limiter.Allow(clientKey(r, identity)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order requests; retry shortly", http.StatusTooManyRequests))
		return
	}

	var req initiateOrderRequest
	if status, err := decodeJSON(r, maxOrderRequestBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if identity != nil && !identity.CanActFor(strings.TrimSpace(req.UserID)) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "cannot create orders for another user", http.StatusForbidden))
		return
	}

	cmd := services.InitiateOrderCommand{
		UserID:         req.UserID,
		ServiceType:    req.ServiceType,
		FileURL:        req.FileURL,
		Quantity:       req.Quantity,
		PageCount:      req.PageCount,
		EstimatedPrice: req.EstimatedPrice,
		Instructions:   req.Instructions,
		Provider:       req.Provider,
	}
	if req.PrintOptions != nil {
		cmd.Options = domain.PrintOptions{
			ColorMode:   req.PrintOptions.ColorMode,
			Sides:       req.PrintOptions.Sides,
			Orientation: req.PrintOptions.Orientation,
		}
	}

	result, err := h.orders.InitiateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	gw := result.GatewayOrder
	writeJSONResponse(w, http.StatusOK, initiateOrderResponse{
		Success: true,
		RazorpayOrder: gatewayOrderPayload{
			ID:           gw.ID,
			Entity:       "order",
			Amount:       gw.Amount,
			Currency:     gw.Currency,
			Receipt:      gw.Receipt,
			Status:       gw.Status,
			Notes:        map[string]string{"tempOrderId": result.DraftID, "serviceType": strings.TrimSpace(req.ServiceType)},
			ClientSecret: gw.ClientSecret,
		},
		TempOrderID: result.DraftID,
		Key:         result.ClientKey,
		Provider:    result.Provider,
		ExpiresAt:   formatTime(result.ExpiresAt),
	})
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	var req verifyPaymentRequest
	if status, err := decodeJSON(r, maxOrderRequestBody, &req); err != nil {
		code := "invalid_request"
		if status == http.StatusBadRequest {
			code = "payment_verification_data_missing"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), status))
		return
	}

	result, err := h.orders.VerifyAndConfirm(ctx, services.VerifyPaymentCommand{
		DraftID:        req.TempOrderID,
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		Signature:      req.Signature,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, verifyPaymentResponse{
		Success:   true,
		OrderID:   result.OrderID,
		PaymentID: result.PaymentID,
		Message:   "Payment verified and order created successfully",
	})
}

func (h *OrderHandlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	status, err := h.orders.PaymentStatus(ctx, chi.URLParam(r, "tempOrderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !status.Exists {
		httpx.WriteError(ctx, w, httpx.NewError("draft_not_found", "order not found", http.StatusNotFound).
			WithDetails(map[string]any{"exists": false}))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"exists":    true,
		"status":    string(status.Status),
		"createdAt": formatTime(status.CreatedAt),
		"expiresAt": formatTime(status.ExpiresAt),
	})
}

func (h *OrderHandlers) listQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	orders, err := h.orders.ListQueue(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayloads(orders))
}

func (h *OrderHandlers) listUserOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if identity, ok := auth.IdentityFromContext(ctx); ok && !identity.CanActFor(userID) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "cannot read another user's orders", http.StatusForbidden))
		return
	}
	orders, err := h.orders.ListUserOrders(ctx, userID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayloads(orders))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && !identity.CanActFor(order.Details.UserID) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

// updateStatus serves both PUT (envelope with success) and PATCH (message and order only).
func (h *OrderHandlers) updateStatus(withSuccess bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.orders == nil {
			writeServiceUnavailable(ctx, w)
			return
		}
		var req updateStatusRequest
		if status, err := decodeJSON(r, maxStatusRequestBody, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Status is required", status))
			return
		}

		actor := ""
		if identity, ok := auth.IdentityFromContext(ctx); ok {
			actor = identity.UID
		}
		order, err := h.orders.AdvanceStatus(ctx, services.AdvanceStatusCommand{
			OrderID: chi.URLParam(r, "orderId"),
			Status:  req.Status,
			ActorID: actor,
		})
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}

		payload := map[string]any{
			"message": "Order status updated successfully",
			"order":   buildOrderPayload(order),
		}
		if withSuccess {
			payload["success"] = true
		}
		writeJSONResponse(w, http.StatusOK, payload)
	}
}

func buildOrderPayloads(orders []domain.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

func buildOrderPayload(order domain.Order) orderPayload {
	d := order.Details
	payload := orderPayload{
		OrderID:     order.ID,
		UserID:      d.UserID,
		ServiceType: d.ServiceType,
		FileURL:     d.FileURL,
		Quantity:    d.Quantity,
		PrintOptions: printOptionsPayload{
			ColorMode:   d.Options.ColorMode,
			Sides:       d.Options.Sides,
			Orientation: d.Options.Orientation,
		},
		Instructions:      d.Instructions,
		PageCount:         d.PageCount,
		TotalPages:        d.TotalPages,
		EstimatedPrice:    d.EstimatedPrice,
		TempOrderID:       order.DraftID,
		PaymentProvider:   order.Payment.Provider,
		RazorpayOrderID:   order.Payment.GatewayOrderID,
		RazorpayPaymentID: order.Payment.GatewayPaymentID,
		PaymentStatus:     string(order.PaymentStatus),
		Status:            string(order.Status),
		CreatedAt:         formatTime(order.CreatedAt),
		PaidAt:            formatTime(order.PaidAt),
	}
	if order.UpdatedAt != nil {
		payload.UpdatedAt = formatTime(*order.UpdatedAt)
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", errorDetail(err, services.ErrValidation), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "Payment verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrDraftNotFoundOrExpired):
		httpx.WriteError(ctx, w, httpx.NewError("draft_not_found", "Order data not found or expired", http.StatusNotFound))
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "Error initiating order", http.StatusInternalServerError))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "Order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", errorDetail(err, services.ErrInvalidTransition), http.StatusConflict))
	case errors.Is(err, services.ErrShopClosed):
		httpx.WriteError(ctx, w, httpx.NewError("shop_closed", "The shop is not accepting orders right now", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "Internal server error", http.StatusInternalServerError))
	}
}

// errorDetail strips the sentinel prefix so clients see only the specific reason.
func errorDetail(err, sentinel error) string {
	msg := err.Error()
	if detail, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return detail
	}
	return msg
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
