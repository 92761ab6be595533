package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quickprint/api/internal/platform/auth"
	"github.com/quickprint/api/internal/platform/httpx"
	"github.com/quickprint/api/internal/services"
)

const maxAdminRequestBody = 4 * 1024

// AdminHandlers serves shop management endpoints.
type AdminHandlers struct {
	authn *auth.Authenticator
	shop  services.ShopService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, shop services.ShopService) *AdminHandlers {
	return &AdminHandlers{authn: authn, shop: shop}
}

// Routes registers the login and shop status endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/admin/login", h.login)
	r.Get("/shop-status", h.shopStatus)
	r.With(h.authn.RequireAdmin()).Post("/shop-status", h.setShopStatus)
}

type adminLoginRequest struct {
	Password string `json:"password" validate:"required"`
}

type shopStatusRequest struct {
	Open *bool `json:"open" validate:"required"`
}

func (h *AdminHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admin := h.authn.Admin()
	if admin == nil {
		httpx.WriteError(ctx, w, httpx.NewError("admin_disabled", "admin login is not configured", http.StatusNotFound))
		return
	}
	var req adminLoginRequest
	if status, err := decodeJSON(r, maxAdminRequestBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	token, expires, err := admin.Login(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "Incorrect password", http.StatusUnauthorized))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to issue admin token", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     token,
		"expiresAt": formatTime(expires),
	})
}

func (h *AdminHandlers) shopStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shop == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	status, err := h.shop.Status(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"open":      status.Open,
		"updatedAt": formatTime(status.UpdatedAt),
	})
}

func (h *AdminHandlers) setShopStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shop == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	var req shopStatusRequest
	if status, err := decodeJSON(r, maxAdminRequestBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	status, err := h.shop.SetOpen(ctx, *req.Open)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success":   true,
		"open":      status.Open,
		"updatedAt": formatTime(status.UpdatedAt),
	})
}
