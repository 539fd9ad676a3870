// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// InboundReceipt model used to absorb at-least-once delivery from the chat
// transport: a redelivered provider message id is answered with the recorded
// reply instead of re-running the pipeline.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adiouf/go-cart-backend/internal/domain"
)

// ErrDuplicate indicates that a receipt already exists for the given
// provider message id.
var ErrDuplicate = errors.New("duplicate")

// GetReceipt returns a non-expired receipt for the provider message id, or
// ErrNotFound.
func GetReceipt(ctx context.Context, db *gorm.DB, providerMessageID string, now time.Time) (*domain.InboundReceipt, error) {
	if strings.TrimSpace(providerMessageID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.InboundReceipt
	err := db.WithContext(ctx).
		Where("provider_message_id = ? AND expires_at > ?", providerMessageID, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateReceipt inserts a receipt and returns ErrDuplicate on unique violation.
func CreateReceipt(ctx context.Context, db *gorm.DB, providerMessageID, userID, reply string, ttl time.Duration) (*domain.InboundReceipt, error) {
	now := time.Now().UTC()
	rec := &domain.InboundReceipt{
		ID:                uuid.NewString(),
		ProviderMessageID: providerMessageID,
		UserID:            userID,
		Reply:             reply,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredReceipts deletes receipts whose retention window has passed.
// Called periodically from the server's housekeeping loop.
func PurgeExpiredReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.InboundReceipt{})
	return res.RowsAffected, res.Error
}
