package automation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/adiouf/go-cart-backend/internal/domain"
	"github.com/adiouf/go-cart-backend/internal/session"
)

// variantAttemptCap is the total attempts spent on a variant-unavailable
// failure: the first try plus one retry. Stock that reappears within one
// backoff window is a flap; anything longer means the variant is gone.
const variantAttemptCap = 2

// OrderQueue is the slice of the order service the executor drives.
type OrderQueue interface {
	ListQueued(ctx context.Context, limit int) ([]domain.Order, error)
	RequeueDue(ctx context.Context) (int, error)
	CompleteAttempt(ctx context.Context, id string, price *decimal.Decimal) error
	FailAttempt(ctx context.Context, id, cause string, attemptCap int) error
	IsCancelled(ctx context.Context, id string) (bool, error)
}

// SessionPool hands out authenticated browser sessions.
type SessionPool interface {
	Acquire(ctx context.Context) (*session.Session, error)
	Release(s *session.Session)
	Invalidate(ctx context.Context, s *session.Session, reason string)
}

// Executor polls the queue and turns queued orders into cart lines. Orders
// are processed strictly serially per browser session; concurrency comes
// from running several sessions, never from parallel actions on one.
type Executor struct {
	Orders   OrderQueue
	Sessions SessionPool
	Driver   Driver
	Log      zerolog.Logger

	// PollInterval is the queue polling cadence.
	PollInterval time.Duration
	// RateDelay is the pause between consecutive storefront actions, kept
	// human-speed so the automation does not trip bot detection.
	RateDelay time.Duration
	// BatchSize bounds how many orders one poll cycle picks up.
	BatchSize int
	// AttemptTimeout bounds one full add-to-cart attempt.
	AttemptTimeout time.Duration
}

// Run polls until ctx ends. It is meant to be started once from main as a
// goroutine.
func (e *Executor) Run(ctx context.Context) {
	poll := e.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	e.Log.Info().Dur("poll_interval", poll).Msg("cart executor started")
	for {
		select {
		case <-ctx.Done():
			e.Log.Info().Msg("cart executor stopped")
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

// cycle runs one poll iteration: promote due retries, then work the queue.
func (e *Executor) cycle(ctx context.Context) {
	if _, err := e.Orders.RequeueDue(ctx); err != nil {
		e.Log.Error().Err(err).Msg("requeue pass failed")
	}

	queued, err := e.Orders.ListQueued(ctx, e.batch())
	if err != nil {
		e.Log.Error().Err(err).Msg("queue poll failed")
		return
	}
	for i := range queued {
		if ctx.Err() != nil {
			return
		}
		e.process(ctx, &queued[i])
		if e.RateDelay > 0 {
			select {
			case <-time.After(e.RateDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// process runs one attempt for one order on a borrowed session.
func (e *Executor) process(ctx context.Context, o *domain.Order) {
	acquireCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	s, err := e.Sessions.Acquire(acquireCtx)
	cancel()
	if err != nil {
		// Not an order failure; the order stays Queued for the next cycle.
		e.Log.Warn().Str("order_id", o.ID).Msg("no session available, order deferred")
		return
	}
	defer e.Sessions.Release(s)

	// Cancellation re-check right before the irreversible click path.
	cancelled, err := e.Orders.IsCancelled(ctx, o.ID)
	if err != nil {
		e.Log.Error().Err(err).Str("order_id", o.ID).Msg("cancellation check failed")
		return
	}
	if cancelled {
		e.Log.Info().Str("order_id", o.ID).Msg("order cancelled, skipping attempt")
		return
	}

	attemptCtx := ctx
	if e.AttemptTimeout > 0 {
		var acancel context.CancelFunc
		attemptCtx, acancel = context.WithTimeout(ctx, e.AttemptTimeout)
		defer acancel()
	}

	price, err := e.Driver.AddToCart(attemptCtx, s, o)
	if err != nil {
		e.fail(ctx, s, o, err)
		return
	}
	if err := e.Orders.CompleteAttempt(ctx, o.ID, price); err != nil {
		e.Log.Error().Err(err).Str("order_id", o.ID).Msg("completion record failed")
	}
}

// fail records the attempt failure with the retry policy for its error class.
func (e *Executor) fail(ctx context.Context, s *session.Session, o *domain.Order, cause error) {
	attemptCap := 0 // service default
	switch {
	case errors.Is(cause, ErrVariantUnavailable), errors.Is(cause, ErrProductUnavailable):
		attemptCap = variantAttemptCap
	case errors.Is(cause, ErrSessionExpired):
		// The session is broken, not the order. Retire the session and
		// leave the order Queued so the next cycle picks it up on a
		// healthy one, with no attempt charged.
		e.Sessions.Invalidate(ctx, s, cause.Error())
		e.Log.Warn().Str("order_id", o.ID).Str("session", s.Name).Msg("session expired mid-attempt, order left queued")
		return
	}
	if err := e.Orders.FailAttempt(ctx, o.ID, cause.Error(), attemptCap); err != nil {
		e.Log.Error().Err(err).Str("order_id", o.ID).Msg("failure record failed")
	}
}

func (e *Executor) batch() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return 20
}
