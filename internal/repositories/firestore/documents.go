package firestore

import (
	"time"

	domain "github.com/quickprint/api/internal/domain"
)

type printOptionsDocument struct {
	ColorMode   string `firestore:"colorMode,omitempty"`
	Sides       string `firestore:"sides,omitempty"`
	Orientation string `firestore:"orientation,omitempty"`
}

type orderDocument struct {
	UserID           string               `firestore:"userId"`
	ServiceType      string               `firestore:"serviceType"`
	FileURL          string               `firestore:"fileUrl"`
	Quantity         int                  `firestore:"quantity"`
	PrintOptions     printOptionsDocument `firestore:"printOptions"`
	Instructions     string               `firestore:"specialInstructions,omitempty"`
	PageCount        int                  `firestore:"pageCount"`
	TotalPages       int                  `firestore:"totalPages"`
	EstimatedPrice   float64              `firestore:"estimatedPrice"`
	TempOrderID      string               `firestore:"tempOrderId"`
	Provider         string               `firestore:"paymentProvider"`
	GatewayOrderID   string               `firestore:"razorpayOrderId"`
	GatewayPaymentID string               `firestore:"razorpayPaymentId"`
	PaymentStatus    string               `firestore:"paymentStatus"`
	Status           string               `firestore:"status"`
	CreatedAt        time.Time            `firestore:"createdAt"`
	PaidAt           time.Time            `firestore:"paidAt"`
	UpdatedAt        *time.Time           `firestore:"updatedAt,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	return orderDocument{
		UserID:      order.Details.UserID,
		ServiceType: order.Details.ServiceType,
		FileURL:     order.Details.FileURL,
		Quantity:    order.Details.Quantity,
		PrintOptions: printOptionsDocument{
			ColorMode:   order.Details.Options.ColorMode,
			Sides:       order.Details.Options.Sides,
			Orientation: order.Details.Options.Orientation,
		},
		Instructions:     order.Details.Instructions,
		PageCount:        order.Details.PageCount,
		TotalPages:       order.Details.TotalPages,
		EstimatedPrice:   order.Details.EstimatedPrice,
		TempOrderID:      order.DraftID,
		Provider:         order.Payment.Provider,
		GatewayOrderID:   order.Payment.GatewayOrderID,
		GatewayPaymentID: order.Payment.GatewayPaymentID,
		PaymentStatus:    string(order.PaymentStatus),
		Status:           string(order.Status),
		CreatedAt:        order.CreatedAt.UTC(),
		PaidAt:           order.PaidAt.UTC(),
		UpdatedAt:        order.UpdatedAt,
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	status, ok := domain.ParseOrderStatus(doc.Status)
	if !ok {
		status = domain.OrderStatus(doc.Status)
	}
	return domain.Order{
		ID:      id,
		DraftID: doc.TempOrderID,
		Details: domain.OrderDetails{
			UserID:      doc.UserID,
			ServiceType: doc.ServiceType,
			FileURL:     doc.FileURL,
			Quantity:    doc.Quantity,
			Options: domain.PrintOptions{
				ColorMode:   doc.PrintOptions.ColorMode,
				Sides:       doc.PrintOptions.Sides,
				Orientation: doc.PrintOptions.Orientation,
			},
			Instructions:   doc.Instructions,
			PageCount:      doc.PageCount,
			TotalPages:     doc.TotalPages,
			EstimatedPrice: doc.EstimatedPrice,
		},
		Payment: domain.PaymentRef{
			Provider:         doc.Provider,
			GatewayOrderID:   doc.GatewayOrderID,
			GatewayPaymentID: doc.GatewayPaymentID,
		},
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		Status:        status,
		CreatedAt:     doc.CreatedAt.UTC(),
		PaidAt:        doc.PaidAt.UTC(),
		UpdatedAt:     doc.UpdatedAt,
	}
}

type shopDocument struct {
	Open      bool      `firestore:"open"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}
