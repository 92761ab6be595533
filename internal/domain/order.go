package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates the production states of a confirmed order.
type OrderStatus string

const (
	// OrderStatusQueued indicates the order is paid and waiting for the print shop.
	OrderStatusQueued OrderStatus = "Queued"
	// OrderStatusInProgress indicates the order is being printed.
	OrderStatusInProgress OrderStatus = "In Progress"
	// OrderStatusCompleted indicates the order has been printed and handed over.
	OrderStatusCompleted OrderStatus = "Completed"
)

// ParseOrderStatus normalises wire values into an OrderStatus. Both "In Progress" and "InProgress" are accepted.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	normalized := strings.ToLower(strings.Join(strings.Fields(raw), ""))
	normalized = strings.NewReplacer("_", "", "-", "").Replace(normalized)
	switch normalized {
	case "queued":
		return OrderStatusQueued, true
	case "inprogress":
		return OrderStatusInProgress, true
	case "completed":
		return OrderStatusCompleted, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transitions are possible from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted
}

// PaymentStatus captures the payment state recorded on a confirmed order.
type PaymentStatus string

const (
	// PaymentStatusCompleted is the only payment state a persisted order may carry.
	PaymentStatusCompleted PaymentStatus = "completed"
)

// DraftStatus labels a draft while it waits for the gateway callback.
type DraftStatus string

const (
	// DraftStatusPaymentPending marks a draft awaiting payment confirmation.
	DraftStatusPaymentPending DraftStatus = "payment_pending"
)

// PrintOptions groups the customer's print preferences.
type PrintOptions struct {
	ColorMode   string
	Sides       string
	Orientation string
}

// OrderDetails carries the fields shared by drafts and confirmed orders.
type OrderDetails struct {
	UserID         string
	ServiceType    string
	FileURL        string
	Quantity       int
	Options        PrintOptions
	Instructions   string
	PageCount      int
	TotalPages     int
	EstimatedPrice float64
}

// Draft is an unpaid order held until the gateway callback arrives or the TTL elapses.
type Draft struct {
	ID        string
	Details   OrderDetails
	Status    DraftStatus
	Provider  string
	Gateway   GatewayOrderRef
	CreatedAt time.Time
	ExpiresAt time.Time
}

// GatewayOrderRef identifies the payment order opened at the gateway for a draft.
type GatewayOrderRef struct {
	OrderID  string
	Amount   int64
	Currency string
}

// PaymentRef links a confirmed order to the verified gateway payment.
type PaymentRef struct {
	Provider         string
	GatewayOrderID   string
	GatewayPaymentID string
}

// Order is a durable print order created once per verified payment.
type Order struct {
	ID            string
	DraftID       string
	Details       OrderDetails
	Payment       PaymentRef
	PaymentStatus PaymentStatus
	Status        OrderStatus
	CreatedAt     time.Time
	PaidAt        time.Time
	UpdatedAt     *time.Time
}

// ShopStatus reports whether the print shop currently accepts orders.
type ShopStatus struct {
	Open      bool
	UpdatedAt time.Time
}
