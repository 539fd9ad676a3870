// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Order model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Admission rules (quota, dedup) and
// state-machine legality live in services.OrderService, which calls these
// helpers inside a transaction.
//
// Error semantics:
//   - When an order is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - UpdateOrderStatusCAS reports a lost compare-and-swap as ErrNotFound,
//     letting the service distinguish "row gone" from "state moved".
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adiouf/go-cart-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// dedupTerminal are the statuses that do NOT block a new identical order:
// a rejected or exhausted order may be re-submitted inside the dedup window.
var dedupTerminal = []domain.OrderStatus{domain.StatusRejected, domain.StatusExhausted}

// openStatuses are the states counted against the per-user concurrently-open
// quota.
var openStatuses = []domain.OrderStatus{
	domain.StatusReceived, domain.StatusExtracted, domain.StatusValidated,
	domain.StatusQueued, domain.StatusFailed, domain.StatusRetrying,
}

// CreateOrder inserts a new Order row. The order ID is a randomly generated
// UUID (string), and CreatedAt is set to UTC.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) (*domain.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder fetches a single order by its ID, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrderStatusCAS moves an order from one status to another with a
// compare-and-swap on the current status, updating the given extra columns in
// the same statement. If the order is missing or its status is no longer
// `from`, no row is touched and ErrNotFound is returned.
func UpdateOrderStatusCAS(ctx context.Context, db *gorm.DB, id string, from, to domain.OrderStatus, extra map[string]any) error {
	cols := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		cols[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListQueued returns all orders in status Queued whose NextAttemptAt is unset
// or due, oldest-created-first. The fairness interleaving across users is
// applied by the service on top of this FIFO base.
func ListQueued(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", domain.StatusQueued, now).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListDueRetries returns the orders parked in Retrying whose backoff delay
// has elapsed, oldest first.
func ListDueRetries(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", domain.StatusRetrying, now).
		Order("next_attempt_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountOpenOrders returns how many of the user's orders are still in a
// pre-terminal state (the concurrently-open quota basis).
func CountOpenOrders(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("user_id = ? AND status IN ?", userID, openStatuses).
		Count(&total).Error
	return total, err
}

// CountOrdersSince returns how many orders the user created at or after the
// given instant, regardless of status (the rolling-day quota basis).
func CountOrdersSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&total).Error
	return total, err
}

// FindDuplicate returns the most recent order with the same
// (user, product_url, size, color) created inside the dedup window and not in
// a terminal-failed state, or ErrNotFound when the submission is not a
// duplicate.
func FindDuplicate(ctx context.Context, db *gorm.DB, userID, productURL, size, color string, since time.Time) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Where("user_id = ? AND product_url = ? AND size = ? AND color = ?", userID, productURL, size, color).
		Where("created_at >= ? AND status NOT IN ?", since, dedupTerminal).
		Order("created_at DESC").
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrdersByUser returns a paginated slice of the user's orders, most
// recent first. Use CountOrdersByUser to obtain the total for pagination
// metadata.
func ListOrdersByUser(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountOrdersByUser returns the total number of orders owned by the user.
func CountOrdersByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}
