// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// by the recap aggregator and the /stats endpoint. Each function is
// context-aware and safe to call from services or handlers; the recap
// aggregator calls them on a transaction handle to get a point-in-time view.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/adiouf/go-cart-backend/internal/domain"
)

// OrderStatusCounts returns the number of orders per status.
func OrderStatusCounts(ctx context.Context, db *gorm.DB) ([]domain.StatusCount, error) {
	var out []domain.StatusCount
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Order("status ASC").
		Find(&out).Error
	return out, err
}

// CountUsers returns the total number of known (non-archived) users.
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("archived = ?", false).
		Count(&total).Error
	return total, err
}

// OrdersCreatedSince returns how many orders were created at or after the
// given instant, across all users.
func OrdersCreatedSince(ctx context.Context, db *gorm.DB, since time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("created_at >= ?", since).
		Count(&total).Error
	return total, err
}

// OrdersForRecap returns the orders feeding a recap snapshot, oldest first.
// When statuses is non-empty only those states are included; a zero since
// means no lower time bound. Monetary summing happens in the recap package
// with decimal arithmetic rather than in SQLite, which would coerce the
// decimal column to float.
func OrdersForRecap(ctx context.Context, db *gorm.DB, statuses []domain.OrderStatus, since time.Time) ([]domain.Order, error) {
	q := db.WithContext(ctx).Model(&domain.Order{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	var out []domain.Order
	err := q.Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}
