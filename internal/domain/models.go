// Package domain defines the persistence models for users, orders, and
// inbound-message receipts. These types are mapped with GORM and form the
// core data layer of the group-order application.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User represents a shopper identified by the chat sender id (a phone number
// for WhatsApp transports). A user row is created on first contact and never
// deleted, only archived.
//
// Fields:
//   - ID: stable sender identifier, primary key.
//   - DisplayName: optional human-readable name from the transport profile.
//   - Archived: soft retirement flag; archived users keep their order history.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//
// Daily and concurrently-open order counts are not stored on the row: they
// are computed inside the order-submission transaction from the orders table,
// so there is no counter that can drift from the source of truth.
type User struct {
	ID          string    `json:"id"           gorm:"type:varchar(64);primaryKey"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255)"`
	Archived    bool      `json:"archived"     gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Order is the central entity of the pipeline: one requested article for one
// user, to be placed into the retail cart by the automation executor.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: owner of the order; indexed for per-user retrieval.
//   - ProductURL: retailer product page; validated against the product-URL
//     shape before the row is created.
//   - Size / Color: requested variant; empty string means "not specified".
//   - Quantity: requested count, always >= 1.
//   - EstimatedPrice: optional unit price captured during automation.
//   - Status: current state-machine position (see status.go); indexed so the
//     executor can drain the queue cheaply.
//   - AttemptCount: automation attempts consumed so far.
//   - NextAttemptAt: earliest time a retry may run; nil when not scheduled.
//   - LastError: last automation failure, for the administrator.
//   - ProviderMessageID: transport message that produced this order.
//   - RawText: original message text, kept for audit.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Order struct {
	ID                string           `json:"id"              gorm:"type:char(36);primaryKey"`
	UserID            string           `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_user_orders"`
	ProductURL        string           `json:"product_url"     gorm:"type:text;not null"`
	Size              string           `json:"size,omitempty"  gorm:"type:varchar(16)"`
	Color             string           `json:"color,omitempty" gorm:"type:varchar(64)"`
	Quantity          int              `json:"quantity"        gorm:"not null;check:quantity >= 1"`
	EstimatedPrice    *decimal.Decimal `json:"estimated_price,omitempty" gorm:"type:decimal(12,2)"`
	Status            OrderStatus      `json:"status"          gorm:"type:varchar(16);not null;index:idx_order_status"`
	AttemptCount      int              `json:"attempt_count"   gorm:"not null;default:0"`
	NextAttemptAt     *time.Time       `json:"next_attempt_at,omitempty"`
	LastError         string           `json:"last_error,omitempty" gorm:"type:text"`
	ProviderMessageID string           `json:"-"               gorm:"type:varchar(128);index"`
	RawText           string           `json:"-"               gorm:"type:text"`
	CreatedAt         time.Time        `json:"created_at"      gorm:"index:idx_order_status,priority:2"`
	UpdatedAt         time.Time        `json:"updated_at"`
	DeletedAt         gorm.DeletedAt   `json:"-"               gorm:"index"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// Variant renders the order's size/color pair as "size/color" for display
// and recap grouping. Orders with neither a size nor a color have no
// variant and render as the empty string.
func (o Order) Variant() string {
	if o.Size == "" && o.Color == "" {
		return ""
	}
	return o.Size + "/" + o.Color
}
