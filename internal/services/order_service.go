// Package services – OrderService
//
// This file implements the OrderService, the single write path for order
// lifecycle state. It admits extracted drafts under quota and deduplication
// rules, walks accepted orders through the intake statuses to Queued, and
// owns every later transition: attempt completion, failure with retry
// scheduling, exhaustion, cancellation, and requeueing of due retries.
//
// Submissions for the same user are serialized through striped mutexes so
// quota checks and duplicate detection cannot race for one user, while
// different users proceed concurrently. Cross-process safety additionally
// rests on compare-and-set status updates in the repository: every
// transition names the expected current status and loses cleanly when
// another writer got there first.
package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/adiouf/go-cart-backend/internal/domain"
	"github.com/adiouf/go-cart-backend/internal/extract"
	"github.com/adiouf/go-cart-backend/internal/notify"
)

// maxQuantity bounds a single line item; anything above it is a typo or
// abuse, not a group order.
const maxQuantity = 99

// submitStripes is the number of per-user submission locks. Collisions only
// cost unnecessary serialization, never correctness.
const submitStripes = 64

// OrderRepo defines the repository contract required by OrderService.
// Implementations are responsible for persistence of order aggregates.
type OrderRepo interface {
	// CreateOrder inserts a new order row.
	CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) (*domain.Order, error)

	// GetOrder fetches an order by ID, or ErrRecordNotFound.
	GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error)

	// UpdateOrderStatusCAS moves id from exactly `from` to `to`, applying
	// extra column updates atomically. Returns gorm.ErrRecordNotFound when
	// the order is missing or no longer in `from`.
	UpdateOrderStatusCAS(ctx context.Context, db *gorm.DB, id string, from, to domain.OrderStatus, extra map[string]any) error

	// ListQueued returns Queued orders that are due, oldest first.
	ListQueued(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Order, error)

	// ListDueRetries returns Retrying orders whose backoff has elapsed.
	ListDueRetries(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Order, error)

	// CountOpenOrders counts the user's orders still in flight.
	CountOpenOrders(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// CountOrdersSince counts the user's orders created at or after since.
	CountOrdersSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error)

	// FindDuplicate returns the active order matching the variant key inside
	// the window, or ErrRecordNotFound when there is none.
	FindDuplicate(ctx context.Context, db *gorm.DB, userID, productURL, size, color string, since time.Time) (*domain.Order, error)

	// ListOrdersByUser returns a page of the user's orders, newest first.
	ListOrdersByUser(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Order, error)

	// CountOrdersByUser returns the user's total order count for pagination.
	CountOrdersByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// OrderStatusCounts returns the number of orders per status.
	OrderStatusCounts(ctx context.Context, db *gorm.DB) ([]domain.StatusCount, error)
}

// OrderService admits, transitions, and schedules orders.
type OrderService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the order repository used by this service.
	Repo OrderRepo
	// Notify delivers admin alerts on exhaustion. May be nil in tests.
	Notify notify.Notifier
	// Log is the service logger.
	Log zerolog.Logger

	// MaxItemsPerUser caps simultaneously open orders per user.
	MaxItemsPerUser int
	// MaxItemsPerDay caps submissions per user in a rolling 24h window.
	MaxItemsPerDay int
	// MaxRetries is how many failed automation attempts an order may
	// accumulate; the MaxRetries-th failure moves it to Exhausted.
	MaxRetries int
	// DedupWindow is how far back duplicate detection looks.
	DedupWindow time.Duration
	// BackoffBase is the delay before the first retry; it doubles per attempt.
	BackoffBase time.Duration
	// BackoffMax caps the computed backoff delay.
	BackoffMax time.Duration
	// FairnessRun bounds consecutive dequeues for one user in ListQueued.
	FairnessRun int

	// now is swappable for tests.
	now func() time.Time

	locks [submitStripes]sync.Mutex

	// quotaAlerted records when each user last triggered a quota alert, so
	// repeated breaches inside a rolling day do not spam the admin.
	quotaAlertMu sync.Mutex
	quotaAlerted map[string]time.Time
}

// OrderServiceOpts carries the tunable limits for NewOrderService.
type OrderServiceOpts struct {
	MaxItemsPerUser int
	MaxItemsPerDay  int
	MaxRetries      int
	DedupWindow     time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
}

// NewOrderService constructs an OrderService with sane defaults for any
// unset limit.
func NewOrderService(db *gorm.DB, r OrderRepo, n notify.Notifier, log zerolog.Logger, opts OrderServiceOpts) *OrderService {
	s := &OrderService{
		DB:              db,
		Repo:            r,
		Notify:          n,
		Log:             log,
		MaxItemsPerUser: opts.MaxItemsPerUser,
		MaxItemsPerDay:  opts.MaxItemsPerDay,
		MaxRetries:      opts.MaxRetries,
		DedupWindow:     opts.DedupWindow,
		BackoffBase:     opts.BackoffBase,
		BackoffMax:      opts.BackoffMax,
		FairnessRun:     3,
		now:             time.Now,
		quotaAlerted:    make(map[string]time.Time),
	}
	if s.MaxItemsPerUser <= 0 {
		s.MaxItemsPerUser = 20
	}
	if s.MaxItemsPerDay <= 0 {
		s.MaxItemsPerDay = 10
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	if s.DedupWindow <= 0 {
		s.DedupWindow = 24 * time.Hour
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = 2 * time.Second
	}
	if s.BackoffMax <= 0 {
		s.BackoffMax = 5 * time.Minute
	}
	return s
}

// userLock returns the stripe serializing submissions for userID.
func (s *OrderService) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%submitStripes]
}

// Submit admits an extracted draft as an order for userID. It enforces the
// open-order and rolling-day quotas and rejects duplicates of active orders
// inside the dedup window, all inside one transaction so concurrent
// submissions cannot overshoot a limit. An accepted order is persisted in
// Received status and walked to Queued before Submit returns.
func (s *OrderService) Submit(ctx context.Context, userID string, d *extract.Draft, providerMessageID string) (*domain.Order, error) {
	if d == nil || d.ProductURL == "" {
		return nil, ErrInvalidProductURL
	}
	if d.Quantity < 1 || d.Quantity > maxQuantity {
		return nil, ErrInvalidQuantity
	}

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	var order *domain.Order

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := s.Repo.CountOpenOrders(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("count open orders: %w", err)
		}
		if open >= int64(s.MaxItemsPerUser) {
			return ErrQuotaExceeded
		}

		daily, err := s.Repo.CountOrdersSince(ctx, tx, userID, now.Add(-24*time.Hour))
		if err != nil {
			return fmt.Errorf("count daily orders: %w", err)
		}
		if daily >= int64(s.MaxItemsPerDay) {
			return ErrQuotaExceeded
		}

		dup, err := s.Repo.FindDuplicate(ctx, tx, userID, d.ProductURL, d.Size, d.Color, now.Add(-s.DedupWindow))
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("duplicate lookup: %w", err)
		}
		if dup != nil {
			return ErrDuplicateOrder
		}

		order = &domain.Order{
			UserID:            userID,
			ProviderMessageID: strings.TrimSpace(providerMessageID),
			ProductURL:        d.ProductURL,
			Size:              d.Size,
			Color:             d.Color,
			Quantity:          d.Quantity,
			Status:            domain.StatusReceived,
			RawText:           d.RawText,
		}
		if order, err = s.Repo.CreateOrder(ctx, tx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		// Intake statuses are walked individually so the audit trail and
		// any concurrent reader always see a legal status, never a skip.
		for _, step := range []struct{ from, to domain.OrderStatus }{
			{domain.StatusReceived, domain.StatusExtracted},
			{domain.StatusExtracted, domain.StatusValidated},
			{domain.StatusValidated, domain.StatusQueued},
		} {
			if err := s.Repo.UpdateOrderStatusCAS(ctx, tx, order.ID, step.from, step.to, nil); err != nil {
				return fmt.Errorf("advance to %s: %w", step.to, err)
			}
		}
		order.Status = domain.StatusQueued
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			s.alertQuota(ctx, userID)
		}
		return nil, err
	}

	s.Log.Info().
		Str("order_id", order.ID).
		Str("user_id", userID).
		Str("variant", order.Variant()).
		Int("quantity", order.Quantity).
		Msg("order queued")
	return order, nil
}

// alertQuota notifies the admin the first time userID breaches a quota in a
// rolling day; further breaches inside the window stay silent.
func (s *OrderService) alertQuota(ctx context.Context, userID string) {
	now := s.now()
	s.quotaAlertMu.Lock()
	last, seen := s.quotaAlerted[userID]
	if seen && now.Sub(last) < 24*time.Hour {
		s.quotaAlertMu.Unlock()
		return
	}
	s.quotaAlerted[userID] = now
	s.quotaAlertMu.Unlock()

	s.Log.Warn().Str("user_id", userID).Msg("submission quota exceeded")
	if s.Notify == nil {
		return
	}
	msg := fmt.Sprintf("⚠️ Quota de commandes atteint pour l'utilisateur %s, soumission refusée", userID)
	if err := s.Notify.AlertAdmin(ctx, msg); err != nil {
		s.Log.Error().Err(err).Str("user_id", userID).Msg("admin alert failed")
	}
}

// Mark moves an order from one status to another after validating the move
// against the lifecycle graph. Transition helpers with extra bookkeeping
// (CompleteAttempt, FailAttempt, Cancel) stay the preferred entry points;
// Mark covers the remaining legal moves, recap finalization among them.
func (s *OrderService) Mark(ctx context.Context, id string, from, to domain.OrderStatus) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := s.Repo.UpdateOrderStatusCAS(ctx, s.DB, id, from, to, nil); err != nil {
		return s.wrapNotFound(err)
	}
	s.Log.Info().
		Str("order_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("order status updated")
	return nil
}

// CompleteAttempt records a successful cart placement, moving the order from
// Queued to InCart and storing the price observed on the product page.
func (s *OrderService) CompleteAttempt(ctx context.Context, id string, price *decimal.Decimal) error {
	extra := map[string]any{"last_error": ""}
	if price != nil {
		extra["estimated_price"] = price
	}
	if err := s.Repo.UpdateOrderStatusCAS(ctx, s.DB, id, domain.StatusQueued, domain.StatusInCart, extra); err != nil {
		return s.wrapNotFound(err)
	}
	s.Log.Info().Str("order_id", id).Msg("order placed in cart")
	return nil
}

// FailAttempt records a failed automation attempt for a Queued order. The
// order moves to Failed, then either to Retrying with an exponential-backoff
// due time, or to Exhausted once attemptCap failures have accumulated.
// attemptCap <= 0 means the service default; error classes with no point in
// repeated retries (an unavailable variant, say) pass a lower cap.
//
// The Exhausted transition is compare-and-set guarded, so the admin alert it
// triggers fires exactly once per order even under racing callers.
func (s *OrderService) FailAttempt(ctx context.Context, id, cause string, attemptCap int) error {
	if attemptCap <= 0 {
		attemptCap = s.MaxRetries
	}

	o, err := s.Repo.GetOrder(ctx, s.DB, id)
	if err != nil {
		return s.wrapNotFound(err)
	}

	attempt := o.AttemptCount + 1
	cause = strings.TrimSpace(cause)

	if err := s.Repo.UpdateOrderStatusCAS(ctx, s.DB, id, domain.StatusQueued, domain.StatusFailed, map[string]any{
		"attempt_count": attempt,
		"last_error":    cause,
	}); err != nil {
		return s.wrapNotFound(err)
	}

	if attempt < attemptCap {
		due := s.now().Add(s.backoff(attempt))
		if err := s.Repo.UpdateOrderStatusCAS(ctx, s.DB, id, domain.StatusFailed, domain.StatusRetrying, map[string]any{
			"next_attempt_at": due,
		}); err != nil {
			return s.wrapNotFound(err)
		}
		s.Log.Warn().
			Str("order_id", id).
			Int("attempt", attempt).
			Time("next_attempt_at", due).
			Str("cause", cause).
			Msg("order attempt failed, retry scheduled")
		return nil
	}

	if err := s.Repo.UpdateOrderStatusCAS(ctx, s.DB, id, domain.StatusFailed, domain.StatusExhausted, nil); err != nil {
		return s.wrapNotFound(err)
	}
	s.Log.Error().
		Str("order_id", id).
		Int("attempts", attempt).
		Str("cause", cause).
		Msg("order exhausted")
	if s.Notify != nil {
		msg := fmt.Sprintf("⚠️ Commande %s épuisée après %d tentatives (utilisateur %s): %s",
			shortID(id), attempt, o.UserID, cause)
		if err := s.Notify.AlertAdmin(ctx, msg); err != nil {
			s.Log.Error().Err(err).Str("order_id", id).Msg("admin alert failed")
		}
	}
	return nil
}

// backoff returns the retry delay after the given attempt number (1-based),
// doubling from BackoffBase and capped at BackoffMax.
func (s *OrderService) backoff(attempt int) time.Duration {
	d := s.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.BackoffMax {
			return s.BackoffMax
		}
	}
	if d > s.BackoffMax {
		return s.BackoffMax
	}
	return d
}

// RequeueDue promotes Retrying orders whose backoff has elapsed back to
// Queued. It is driven by the executor's ticker so waiting orders never
// block a worker. Returns the number of orders requeued.
func (s *OrderService) RequeueDue(ctx context.Context) (int, error) {
	due, err := s.Repo.ListDueRetries(ctx, s.DB, s.now())
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}
	n := 0
	for i := range due {
		err := s.Repo.UpdateOrderStatusCAS(ctx, s.DB, due[i].ID, domain.StatusRetrying, domain.StatusQueued, map[string]any{
			"next_attempt_at": nil,
		})
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue // cancelled or requeued by another instance
			}
			return n, fmt.Errorf("requeue %s: %w", due[i].ID, err)
		}
		n++
	}
	if n > 0 {
		s.Log.Debug().Int("count", n).Msg("retries requeued")
	}
	return n, nil
}

// Cancel rejects an order on behalf of its owner. Orders already in the cart
// or in a terminal state cannot be cancelled; everything earlier, including
// Retrying, can. An empty userID skips the ownership check (admin path).
func (s *OrderService) Cancel(ctx context.Context, id, userID string) error {
	o, err := s.Repo.GetOrder(ctx, s.DB, id)
	if err != nil {
		return s.wrapNotFound(err)
	}
	if userID != "" && o.UserID != userID {
		return ErrOrderNotFound
	}
	if !domain.CanTransition(o.Status, domain.StatusRejected) {
		return ErrNotCancellable
	}
	if err := s.Repo.UpdateOrderStatusCAS(ctx, s.DB, id, o.Status, domain.StatusRejected, nil); err != nil {
		// Lost the race; the order moved since we read it.
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotCancellable
		}
		return err
	}
	s.Log.Info().Str("order_id", id).Str("user_id", o.UserID).Msg("order cancelled")
	return nil
}

// IsCancelled reports whether the order has been rejected. The executor
// re-checks this right before the irreversible add-to-cart click.
func (s *OrderService) IsCancelled(ctx context.Context, id string) (bool, error) {
	o, err := s.Repo.GetOrder(ctx, s.DB, id)
	if err != nil {
		return false, s.wrapNotFound(err)
	}
	return o.Status == domain.StatusRejected, nil
}

// ListQueued returns up to limit due Queued orders in FIFO order, except
// that no more than FairnessRun consecutive orders belong to the same user.
// Orders held back for fairness keep their relative order and follow at the
// end, so one bulk submitter cannot monopolize a processing burst.
func (s *OrderService) ListQueued(ctx context.Context, limit int) ([]domain.Order, error) {
	queued, err := s.Repo.ListQueued(ctx, s.DB, s.now())
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	queued = s.interleave(queued)
	if limit > 0 && len(queued) > limit {
		queued = queued[:limit]
	}
	return queued, nil
}

// interleave applies the FairnessRun bound to a FIFO slice.
func (s *OrderService) interleave(queued []domain.Order) []domain.Order {
	if s.FairnessRun <= 0 || len(queued) <= s.FairnessRun {
		return queued
	}
	out := make([]domain.Order, 0, len(queued))
	var held []domain.Order
	lastUser, run := "", 0
	for i := range queued {
		o := queued[i]
		if o.UserID == lastUser && run >= s.FairnessRun {
			held = append(held, o)
			continue
		}
		if o.UserID == lastUser {
			run++
		} else {
			lastUser, run = o.UserID, 1
		}
		out = append(out, o)
	}
	return append(out, held...)
}

// GetByUser returns a page of the user's orders, newest first, plus the
// total count for pagination.
func (s *OrderService) GetByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	total, err := s.Repo.CountOrdersByUser(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	items, err := s.Repo.ListOrdersByUser(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return items, total, nil
}

// Get fetches a single order by ID.
func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.Repo.GetOrder(ctx, s.DB, id)
	if err != nil {
		return nil, s.wrapNotFound(err)
	}
	return o, nil
}

// StatusCounts returns the number of orders per lifecycle status.
func (s *OrderService) StatusCounts(ctx context.Context) (map[domain.OrderStatus]int64, error) {
	rows, err := s.Repo.OrderStatusCounts(ctx, s.DB)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	out := make(map[domain.OrderStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// wrapNotFound maps repository not-found results to the service sentinel.
func (s *OrderService) wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrOrderNotFound
	}
	return err
}

// shortID renders the first UUID group for user-facing references.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
