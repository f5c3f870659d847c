package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RecurrenceFrequencyMonthly   = "MONTHLY"
	RecurrenceFrequencyQuarterly = "QUARTERLY"
	RecurrenceFrequencyYearly    = "YEARLY"
)

const (
	RecurrenceStatusActive   = "ACTIVE"
	RecurrenceStatusPaused   = "PAUSED"
	RecurrenceStatusCanceled = "CANCELED"
	RecurrenceStatusExpired  = "EXPIRED"
)

// DonationRecurrence is a standing subscription that produces one Donation
// per billing cycle. PaymentCount only ever increases and CanceledAt is set
// exactly once, on the transition into CANCELED. Rows are never deleted.
type DonationRecurrence struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UUID      string `gorm:"type:varchar(36);not null;uniqueIndex" json:"uuid"`
	UserID    uint   `gorm:"not null;index" json:"user_id"`
	ProjectID *uint  `gorm:"index" json:"project_id,omitempty"`

	Amount    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Frequency string          `gorm:"type:varchar(16);not null;default:'MONTHLY'" json:"frequency"`
	Status    string          `gorm:"type:varchar(16);not null;default:'ACTIVE';index" json:"status"`

	GatewaySubscriptionID string `gorm:"type:varchar(191);not null;uniqueIndex" json:"gateway_subscription_id"`
	GatewayCustomerID     string `gorm:"type:varchar(191);default:'';index" json:"gateway_customer_id"`

	PaymentCount    int        `gorm:"not null;default:0" json:"payment_count"`
	LastPaymentDate *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_date,omitempty"`
	NextPaymentDate *time.Time `gorm:"type:timestamp;default:null" json:"next_payment_date,omitempty"`
	CanceledAt      *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// MonthsPerCycle returns how many months one billing cycle spans.
func MonthsPerCycle(frequency string) int {
	switch frequency {
	case RecurrenceFrequencyQuarterly:
		return 3
	case RecurrenceFrequencyYearly:
		return 12
	default:
		return 1
	}
}
