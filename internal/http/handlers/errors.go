// Error codes carried in the ErrorResponse envelope. Codes are lowercase
// snake_case and stable: the admin tooling branches on them, so renaming one
// is a breaking change. Handlers pick the most specific code and pass it to
// fail() with the matching HTTP status.
package handlers

const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	// ErrCodeConflict covers state races, e.g. cancelling an order that the
	// executor already moved into the cart.
	ErrCodeConflict = "conflict"
	ErrCodeInternal = "internal_error"

	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
