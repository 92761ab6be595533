package services

import "errors"

var (
	// ErrValidation signals the caller provided invalid data.
	ErrValidation = errors.New("order: invalid input")
	// ErrPaymentVerificationFailed indicates the payment proof did not verify.
	ErrPaymentVerificationFailed = errors.New("order: payment verification failed")
	// ErrDraftNotFoundOrExpired indicates the draft is gone, either confirmed already or expired.
	ErrDraftNotFoundOrExpired = errors.New("order: draft not found or expired")
	// ErrGatewayUnavailable indicates the payment gateway could not be reached.
	ErrGatewayUnavailable = errors.New("order: payment gateway unavailable")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrInvalidTransition indicates a backward or unknown status change.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderUnavailable indicates the order store is temporarily unreachable.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
	// ErrShopClosed indicates the shop is not accepting new orders.
	ErrShopClosed = errors.New("order: shop is closed")
	// ErrUnsupportedFile indicates an upload with an extension the shop cannot print.
	ErrUnsupportedFile = errors.New("file: unsupported file type")
)
