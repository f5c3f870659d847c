package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReceiptStatusGenerated = "GENERATED"
	ReceiptStatusCanceled  = "CANCELED"
)

// DonationReceipt is the immutable proof-of-gift artifact for a completed
// donation. A canceled receipt keeps its number; numbers are never reused.
type DonationReceipt struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	DonationID    uint            `gorm:"not null;index" json:"donation_id"`
	ReceiptNumber string          `gorm:"type:varchar(32);not null;uniqueIndex" json:"receipt_number"`
	FiscalYear    int             `gorm:"not null;index" json:"fiscal_year"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	ArtifactPath  string          `gorm:"type:varchar(255);not null" json:"artifact_path"`
	Status        string          `gorm:"type:varchar(16);not null;default:'GENERATED';index" json:"status"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReceiptSequence is the per-scope monotonic counter backing receipt number
// allocation. Scope is "<prefix>-<fiscalYear>" for standard receipts and
// "<prefix>-<fiscalYear>-<donor>" for annual aggregate receipts. The counter
// is only ever advanced with an atomic in-place increment inside the
// allocation transaction.
type ReceiptSequence struct {
	Scope     string    `gorm:"type:varchar(64);primaryKey" json:"scope"`
	LastValue int64     `gorm:"not null;default:0" json:"last_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
