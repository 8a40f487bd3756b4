package order

import "errors"

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrUnknownStatus           = errors.New("unknown order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrStatusConflict          = errors.New("order status changed concurrently")
	ErrEmptyCart               = errors.New("cart is empty")
	ErrProductUnavailable      = errors.New("product is no longer available")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidShipping         = errors.New("shipping address is incomplete")
	ErrNotCancellable          = errors.New("order can no longer be cancelled")
)
