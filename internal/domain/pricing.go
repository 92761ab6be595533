package domain

import "math"

// DefaultPricePerPage is the per-page charge used when no override is configured.
const DefaultPricePerPage = 2.0

// PrintQuote captures the derived totals for an order.
type PrintQuote struct {
	PageCount      int
	Quantity       int
	TotalPages     int
	PricePerPage   float64
	EstimatedPrice float64
}

// QuotePrint derives totalPages = pageCount x quantity and estimatedPrice = totalPages x pricePerPage.
// Quantity below one is treated as one.
func QuotePrint(pageCount, quantity int, pricePerPage float64) PrintQuote {
	if quantity < 1 {
		quantity = 1
	}
	if pageCount < 0 {
		pageCount = 0
	}
	if pricePerPage <= 0 {
		pricePerPage = DefaultPricePerPage
	}
	total := pageCount * quantity
	return PrintQuote{
		PageCount:      pageCount,
		Quantity:       quantity,
		TotalPages:     total,
		PricePerPage:   pricePerPage,
		EstimatedPrice: roundCents(float64(total) * pricePerPage),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
