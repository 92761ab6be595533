package services

import (
	"context"
	"time"

	domain "github.com/quickprint/api/internal/domain"
	"github.com/quickprint/api/internal/payments"
)

// OrderService drives a print order from draft to completion.
type OrderService interface {
	InitiateOrder(ctx context.Context, cmd InitiateOrderCommand) (InitiateResult, error)
	VerifyAndConfirm(ctx context.Context, cmd VerifyPaymentCommand) (ConfirmResult, error)
	AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (domain.Order, error)
	ListQueue(ctx context.Context) ([]domain.Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	PaymentStatus(ctx context.Context, draftID string) (DraftPaymentStatus, error)
}

// ShopService reads and toggles whether the shop accepts orders.
type ShopService interface {
	Status(ctx context.Context) (domain.ShopStatus, error)
	SetOpen(ctx context.Context, open bool) (domain.ShopStatus, error)
}

// SystemService reports process readiness.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.ReadinessReport, error)
}

// FileService stores customer files and estimates their page counts.
type FileService interface {
	Upload(ctx context.Context, cmd FileCommand) (FileResult, error)
	Convert(ctx context.Context, cmd FileCommand) (FileResult, error)
}

// PaymentGateway is the subset of the payments manager the order lifecycle needs.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error)
	VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, v payments.Verification) error
	ClientKey(paymentCtx payments.PaymentContext) string
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderMetrics receives lifecycle counters.
type OrderMetrics interface {
	OrderInitiated(provider, outcome string)
	PaymentVerified(outcome string)
	OrderConfirmed(serviceType string, value float64)
	StatusChanged(from, to string)
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// InitiateOrderCommand is the customer's request to open a payment for a print job.
type InitiateOrderCommand struct {
	UserID         string
	ServiceType    string
	FileURL        string
	Quantity       int
	Options        domain.PrintOptions
	Instructions   string
	PageCount      int
	EstimatedPrice float64
	Provider       string
}

// InitiateResult is returned to the client to open the gateway checkout.
type InitiateResult struct {
	DraftID      string
	GatewayOrder payments.GatewayOrder
	ClientKey    string
	Provider     string
	ExpiresAt    time.Time
}

// VerifyPaymentCommand carries the gateway callback fields.
type VerifyPaymentCommand struct {
	DraftID        string
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// ConfirmResult identifies the persisted order.
type ConfirmResult struct {
	OrderID   string
	PaymentID string
	Order     domain.Order
}

// AdvanceStatusCommand requests a production status change.
type AdvanceStatusCommand struct {
	OrderID string
	Status  string
	ActorID string
}

// DraftPaymentStatus reports whether a draft is still awaiting payment.
type DraftPaymentStatus struct {
	Exists    bool
	Status    domain.DraftStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// FileCommand references an uploaded file spooled to local disk.
type FileCommand struct {
	Filename    string
	ContentType string
	Path        string
	UserID      string
}

// FileResult describes the stored file.
type FileResult struct {
	Pages     int
	URL       string
	ObjectKey string
	Converted bool
	Note      string
}
