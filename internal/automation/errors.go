// Package automation drives the retail storefront through headless Chrome
// and turns queued orders into cart lines. This file centralizes the attempt
// error taxonomy; the executor uses it to decide how many retries an error
// class deserves.
package automation

import "errors"

var (
	// ErrVariantUnavailable means the product page loaded but the requested
	// size or color could not be selected. One retry covers transient stock
	// flaps; after that the variant is treated as genuinely gone.
	ErrVariantUnavailable = errors.New("requested variant unavailable")

	// ErrProductUnavailable means the product page itself is gone or shows
	// the item as sold out.
	ErrProductUnavailable = errors.New("product unavailable")

	// ErrCartNotConfirmed means the add-to-cart click ran but no success
	// indicator appeared; the attempt counts as failed regardless of what
	// the storefront actually did.
	ErrCartNotConfirmed = errors.New("cart addition not confirmed")

	// ErrAutomationTimeout means a page interaction exceeded its deadline.
	ErrAutomationTimeout = errors.New("automation timed out")

	// ErrSessionExpired means the storefront bounced the browser to the
	// login page mid-operation.
	ErrSessionExpired = errors.New("browser session expired")
)
