package domain

import "time"

// InboundReceipt records a transport message that has already been processed,
// keyed by the provider's message id. The chat transport delivers
// at-least-once, so a redelivered message must be answered with the original
// reply instead of re-running extraction and creating a second order.
type InboundReceipt struct {
	ID                string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ProviderMessageID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_provider_message"`
	UserID            string    `gorm:"type:TEXT NOT NULL;index"`
	Reply             string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt         time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt         time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (InboundReceipt) TableName() string { return "inbound_receipts" }
