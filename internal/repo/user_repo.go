// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/adiouf/go-cart-backend/internal/domain"
)

// EnsureUser returns the user row for id, creating it on first contact.
// A non-empty displayName refreshes the stored name on subsequent messages.
func EnsureUser(ctx context.Context, db *gorm.DB, id, displayName string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	switch {
	case err == nil:
		if displayName != "" && displayName != u.DisplayName {
			u.DisplayName = displayName
			if uerr := db.WithContext(ctx).Model(&u).Update("display_name", displayName).Error; uerr != nil {
				return nil, uerr
			}
		}
		return &u, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		u = domain.User{
			ID:          id,
			DisplayName: displayName,
			CreatedAt:   time.Now().UTC(),
		}
		if cerr := db.WithContext(ctx).Create(&u).Error; cerr != nil {
			return nil, cerr
		}
		return &u, nil
	default:
		return nil, err
	}
}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsersByID fetches the users with the given ids. Missing ids are simply
// absent from the result; callers needing display names fall back to the id.
func ListUsersByID(ctx context.Context, db *gorm.DB, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.User
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// ArchiveUser marks a user as archived. Their order history is retained.
// Returns ErrNotFound if the user does not exist.
func ArchiveUser(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("archived", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
