package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/quickprint/api/internal/domain"
	"github.com/quickprint/api/internal/drafts"
	"github.com/quickprint/api/internal/payments"
	"github.com/quickprint/api/internal/repositories"
)

const (
	orderEventConfirmed     = "order.confirmed"
	orderEventStatusChanged = "order.status_changed"

	orderIDPrefix = "ord_"

	maxInstructionsLength = 1000
	maxStatusAttempts     = 3
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusQueued:     {domain.OrderStatusInProgress, domain.OrderStatusCompleted},
	domain.OrderStatusInProgress: {domain.OrderStatusCompleted},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Drafts       drafts.Store
	Gateway      PaymentGateway
	Shop         repositories.ShopStatusRepository
	Events       OrderEventPublisher
	Metrics      OrderMetrics
	Currency     string
	PricePerPage float64
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	drafts       drafts.Store
	gateway      PaymentGateway
	shop         repositories.ShopStatusRepository
	events       OrderEventPublisher
	metrics      OrderMetrics
	currency     string
	pricePerPage float64
	clock        func() time.Time
	sanitizer    *bluemonday.Policy
	logger       func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Drafts == nil {
		return nil, errors.New("order service: draft store is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	pricePerPage := deps.PricePerPage
	if pricePerPage <= 0 {
		pricePerPage = domain.DefaultPricePerPage
	}

	return &orderService{
		orders:       deps.Orders,
		drafts:       deps.Drafts,
		gateway:      deps.Gateway,
		shop:         deps.Shop,
		events:       deps.Events,
		metrics:      deps.Metrics,
		currency:     currency,
		pricePerPage: pricePerPage,
		clock: func() time.Time {
			return clock().UTC()
		},
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}, nil
}

// InitiateOrder opens a gateway order and parks the details as a draft until the payment callback.
// The gateway order is created first so a gateway failure never leaves a draft behind.
func (s *orderService) InitiateOrder(ctx context.Context, cmd InitiateOrderCommand) (InitiateResult, error) {
	details, err := s.buildDetails(cmd)
	if err != nil {
		return InitiateResult{}, err
	}
	if err := s.ensureShopOpen(ctx); err != nil {
		return InitiateResult{}, err
	}

	amount, err := payments.MinorUnits(details.EstimatedPrice, s.currency)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	draftID := s.drafts.NewID()
	now := s.clock()
	paymentCtx := payments.PaymentContext{PreferredProvider: cmd.Provider, Currency: s.currency}

	gatewayOrder, err := s.gateway.CreateOrder(ctx, paymentCtx, payments.OrderRequest{
		Amount:   amount,
		Currency: s.currency,
		Receipt:  "receipt_" + strconv.FormatInt(now.UnixMilli(), 10),
		Notes: map[string]string{
			"tempOrderId": draftID,
			"serviceType": details.ServiceType,
		},
	})
	if err != nil {
		s.observeInitiated(cmd.Provider, "gateway_error")
		s.logger(ctx, "order.initiate.gateway_failed", map[string]any{
			"tempOrderId": draftID,
			"error":       err.Error(),
		})
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return InitiateResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return InitiateResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	draft, err := s.drafts.Put(ctx, domain.Draft{
		ID:       draftID,
		Details:  details,
		Status:   domain.DraftStatusPaymentPending,
		Provider: gatewayOrder.Provider,
		Gateway: domain.GatewayOrderRef{
			OrderID:  gatewayOrder.ID,
			Amount:   gatewayOrder.Amount,
			Currency: gatewayOrder.Currency,
		},
	})
	if err != nil {
		s.observeInitiated(gatewayOrder.Provider, "draft_error")
		return InitiateResult{}, fmt.Errorf("order: store draft: %w", err)
	}

	s.observeInitiated(gatewayOrder.Provider, "success")
	s.logger(ctx, "order.initiated", map[string]any{
		"tempOrderId":    draft.ID,
		"gatewayOrderId": gatewayOrder.ID,
		"provider":       gatewayOrder.Provider,
		"amount":         gatewayOrder.Amount,
		"userId":         details.UserID,
	})

	return InitiateResult{
		DraftID:      draft.ID,
		GatewayOrder: gatewayOrder,
		ClientKey:    s.gateway.ClientKey(payments.PaymentContext{PreferredProvider: gatewayOrder.Provider}),
		Provider:     gatewayOrder.Provider,
		ExpiresAt:    draft.ExpiresAt,
	}, nil
}

// VerifyAndConfirm turns a paid draft into a durable order. RemoveIfPresent is the only gate: of any number
// of concurrent callbacks for the same draft, exactly one reaches Insert.
func (s *orderService) VerifyAndConfirm(ctx context.Context, cmd VerifyPaymentCommand) (ConfirmResult, error) {
	draftID := strings.TrimSpace(cmd.DraftID)
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	paymentID := strings.TrimSpace(cmd.PaymentID)
	signature := strings.TrimSpace(cmd.Signature)
	if draftID == "" || gatewayOrderID == "" || paymentID == "" || signature == "" {
		s.observeVerified("invalid")
		return ConfirmResult{}, fmt.Errorf("%w: missing required payment verification fields", ErrValidation)
	}

	// The signature is checked before the draft lookup decides anything, so a forged callback is always a
	// verification failure. The pending draft only selects which gateway verifies it.
	pending, lookupErr := s.drafts.Get(ctx, draftID)
	verification := payments.Verification{GatewayOrderID: gatewayOrderID, PaymentID: paymentID, Signature: signature}
	if err := s.gateway.VerifyPayment(ctx, payments.PaymentContext{PreferredProvider: pending.Provider, Currency: s.currency}, verification); err != nil {
		if errors.Is(err, payments.ErrGatewayUnavailable) {
			s.observeVerified("gateway_error")
			return ConfirmResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		s.observeVerified("rejected")
		s.logger(ctx, "order.verify.rejected", map[string]any{
			"tempOrderId":    draftID,
			"gatewayOrderId": gatewayOrderID,
			"error":          err.Error(),
		})
		return ConfirmResult{}, fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
	}
	if lookupErr != nil {
		s.observeVerified("draft_missing")
		return ConfirmResult{}, fmt.Errorf("%w: %s", ErrDraftNotFoundOrExpired, draftID)
	}
	if pending.Gateway.OrderID != "" && pending.Gateway.OrderID != gatewayOrderID {
		s.observeVerified("rejected")
		return ConfirmResult{}, fmt.Errorf("%w: payment belongs to a different gateway order", ErrPaymentVerificationFailed)
	}

	draft, claimed := s.drafts.RemoveIfPresent(ctx, draftID)
	if !claimed {
		s.observeVerified("draft_missing")
		return ConfirmResult{}, fmt.Errorf("%w: %s", ErrDraftNotFoundOrExpired, draftID)
	}

	now := s.clock()
	order := domain.Order{
		ID:      orderIDForDraft(draft.ID),
		DraftID: draft.ID,
		Details: draft.Details,
		Payment: domain.PaymentRef{
			Provider:         draft.Provider,
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: paymentID,
		},
		PaymentStatus: domain.PaymentStatusCompleted,
		Status:        domain.OrderStatusQueued,
		CreatedAt:     now,
		PaidAt:        now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			// An earlier attempt committed but reported failure and restored the draft.
			existing, ok := s.confirmedOrder(ctx, order.ID, paymentID)
			if !ok {
				s.observeVerified("draft_missing")
				return ConfirmResult{}, fmt.Errorf("%w: %s already confirmed", ErrDraftNotFoundOrExpired, draftID)
			}
			s.logger(ctx, "order.confirm.recovered", map[string]any{
				"orderId":     existing.ID,
				"tempOrderId": draftID,
				"paymentId":   paymentID,
			})
			order = existing
		} else {
			if restoreErr := s.drafts.Restore(ctx, draft); restoreErr != nil {
				s.logger(ctx, "order.confirm.restore_failed", map[string]any{
					"tempOrderId": draftID,
					"paymentId":   paymentID,
					"error":       restoreErr.Error(),
				})
			}
			s.observeVerified("persist_error")
			s.logger(ctx, "order.confirm.persist_failed", map[string]any{
				"tempOrderId": draftID,
				"paymentId":   paymentID,
				"error":       err.Error(),
			})
			return ConfirmResult{}, s.mapRepositoryError(err)
		}
	}

	s.observeVerified("confirmed")
	if s.metrics != nil {
		s.metrics.OrderConfirmed(order.Details.ServiceType, order.Details.EstimatedPrice)
	}
	s.logger(ctx, "order.confirmed", map[string]any{
		"orderId":     order.ID,
		"tempOrderId": draftID,
		"paymentId":   paymentID,
		"userId":      order.Details.UserID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventConfirmed,
		OrderID:       order.ID,
		UserID:        order.Details.UserID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"tempOrderId":    draftID,
			"gatewayOrderId": gatewayOrderID,
			"paymentId":      paymentID,
			"estimatedPrice": order.Details.EstimatedPrice,
		},
	})

	return ConfirmResult{OrderID: order.ID, PaymentID: paymentID, Order: order}, nil
}

// AdvanceStatus moves an order forward. Requesting the current status is a no-op; backward moves and moves
// out of Completed fail with ErrInvalidTransition.
func (s *orderService) AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if strings.TrimSpace(cmd.Status) == "" {
		return domain.Order{}, fmt.Errorf("%w: status is required", ErrValidation)
	}
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrValidation, cmd.Status)
	}

	for attempt := 0; ; attempt++ {
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return domain.Order{}, s.mapRepositoryError(err)
		}
		if current.Status == target {
			return current, nil
		}
		if !canTransition(current.Status, target) {
			return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
		}

		updated, err := s.orders.UpdateStatus(ctx, repositories.StatusUpdate{
			OrderID:   orderID,
			From:      current.Status,
			To:        target,
			UpdatedAt: s.clock(),
		})
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsConflict() && attempt+1 < maxStatusAttempts {
				continue
			}
			return domain.Order{}, s.mapRepositoryError(err)
		}

		if s.metrics != nil {
			s.metrics.StatusChanged(string(current.Status), string(target))
		}
		s.logger(ctx, "order.status_changed", map[string]any{
			"orderId": orderID,
			"from":    string(current.Status),
			"to":      string(target),
			"actor":   strings.TrimSpace(cmd.ActorID),
		})
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        orderID,
			UserID:         updated.Details.UserID,
			PreviousStatus: string(current.Status),
			CurrentStatus:  string(target),
			OccurredAt:     s.clock(),
			Metadata:       map[string]any{"actor": strings.TrimSpace(cmd.ActorID)},
		})
		return updated, nil
	}
}

func (s *orderService) ListQueue(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.orders.FindQueue(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return nonNil(orders), nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	orders, err := s.orders.FindByUser(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return nonNil(orders), nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) PaymentStatus(ctx context.Context, draftID string) (DraftPaymentStatus, error) {
	draftID = strings.TrimSpace(draftID)
	if draftID == "" {
		return DraftPaymentStatus{}, fmt.Errorf("%w: tempOrderId is required", ErrValidation)
	}
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return DraftPaymentStatus{Exists: false}, nil
	}
	return DraftPaymentStatus{
		Exists:    true,
		Status:    draft.Status,
		CreatedAt: draft.CreatedAt,
		ExpiresAt: draft.ExpiresAt,
	}, nil
}

func (s *orderService) buildDetails(cmd InitiateOrderCommand) (domain.OrderDetails, error) {
	var missing []string
	userID := strings.TrimSpace(cmd.UserID)
	serviceType := strings.TrimSpace(cmd.ServiceType)
	fileURL := strings.TrimSpace(cmd.FileURL)
	if userID == "" {
		missing = append(missing, "userId")
	}
	if serviceType == "" {
		missing = append(missing, "serviceType")
	}
	if fileURL == "" {
		missing = append(missing, "fileUrl")
	}
	if cmd.EstimatedPrice <= 0 {
		missing = append(missing, "estimatedPrice")
	}
	if len(missing) > 0 {
		return domain.OrderDetails{}, fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	if cmd.Quantity < 0 || cmd.PageCount < 0 {
		return domain.OrderDetails{}, fmt.Errorf("%w: quantity and pageCount must not be negative", ErrValidation)
	}

	quantity := cmd.Quantity
	if quantity == 0 {
		quantity = 1
	}
	details := domain.OrderDetails{
		UserID:      userID,
		ServiceType: serviceType,
		FileURL:     fileURL,
		Quantity:    quantity,
		Options: domain.PrintOptions{
			ColorMode:   strings.TrimSpace(cmd.Options.ColorMode),
			Sides:       strings.TrimSpace(cmd.Options.Sides),
			Orientation: strings.TrimSpace(cmd.Options.Orientation),
		},
		Instructions:   s.sanitizeInstructions(cmd.Instructions),
		PageCount:      cmd.PageCount,
		EstimatedPrice: cmd.EstimatedPrice,
	}
	if cmd.PageCount > 0 {
		quote := domain.QuotePrint(cmd.PageCount, quantity, s.pricePerPage)
		details.TotalPages = quote.TotalPages
		details.EstimatedPrice = quote.EstimatedPrice
	}
	return details, nil
}

func (s *orderService) sanitizeInstructions(raw string) string {
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(raw))
	if utf8.RuneCountInString(cleaned) <= maxInstructionsLength {
		return cleaned
	}
	runes := 0
	for i := range cleaned {
		if runes == maxInstructionsLength {
			return cleaned[:i]
		}
		runes++
	}
	return cleaned
}

func (s *orderService) ensureShopOpen(ctx context.Context) error {
	if s.shop == nil {
		return nil
	}
	status, err := s.shop.Get(ctx)
	if err != nil {
		s.logger(ctx, "order.shop_status.failed", map[string]any{"error": err.Error()})
		return nil
	}
	if !status.Open {
		return ErrShopClosed
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return err
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderService) observeInitiated(provider, outcome string) {
	if s.metrics != nil {
		s.metrics.OrderInitiated(provider, outcome)
	}
}

func (s *orderService) observeVerified(outcome string) {
	if s.metrics != nil {
		s.metrics.PaymentVerified(outcome)
	}
}

// confirmedOrder returns the stored order for id when it was paid by paymentID.
func (s *orderService) confirmedOrder(ctx context.Context, id, paymentID string) (domain.Order, bool) {
	existing, err := s.orders.FindByID(ctx, id)
	if err != nil {
		s.logger(ctx, "order.confirm.lookup_failed", map[string]any{"orderId": id, "error": err.Error()})
		return domain.Order{}, false
	}
	if existing.Payment.GatewayPaymentID != paymentID {
		return domain.Order{}, false
	}
	return existing, true
}

// orderIDForDraft derives the order id from the draft id so a retried insert for the same draft collides.
func orderIDForDraft(draftID string) string {
	return orderIDPrefix + strings.TrimPrefix(draftID, drafts.IDPrefix)
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func nonNil(orders []domain.Order) []domain.Order {
	if orders == nil {
		return []domain.Order{}
	}
	return orders
}
