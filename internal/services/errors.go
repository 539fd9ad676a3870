// Package services defines the business logic for order intake, lifecycle
// transitions, retry scheduling, and group recaps. This file centralizes
// common service-level error values so that they can be consistently
// returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/ingest layer.
package services

import "errors"

// Order-related errors.
var (
	// ErrOrderNotFound indicates that the requested order does not exist or
	// is not accessible to the current user.
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateOrder is returned when a submission matches an existing
	// active order on (user, product URL, size, color) inside the
	// deduplication window.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrQuotaExceeded is returned when a submission would take the user over
	// the per-user open-order limit or the rolling daily limit.
	ErrQuotaExceeded = errors.New("order quota exceeded")

	// ErrInvalidQuantity is returned when a draft carries a quantity outside
	// the accepted range.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidProductURL is returned when a draft's product URL does not
	// match the retailer's product-URL shape.
	ErrInvalidProductURL = errors.New("invalid product url")

	// ErrInvalidTransition is returned when a lifecycle move is not allowed
	// from the order's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotCancellable is returned when cancellation is requested for an
	// order that has already reached the cart or a terminal state.
	ErrNotCancellable = errors.New("order can no longer be cancelled")
)
