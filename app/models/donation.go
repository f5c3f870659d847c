package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DonationKindOneTime   = "ONE_TIME"
	DonationKindRecurring = "RECURRING"
)

const (
	DonationStatusPending   = "PENDING"
	DonationStatusCompleted = "COMPLETED"
	DonationStatusFailed    = "FAILED"
	DonationStatusRefunded  = "REFUNDED"
	DonationStatusCanceled  = "CANCELED"
)

// Donation is a single monetary gift, one-time or generated by a recurring
// billing cycle. Rows are a financial record and are never deleted; status
// only moves along PENDING -> {COMPLETED, FAILED, CANCELED} and
// COMPLETED -> REFUNDED, enforced by the ledger's guarded updates.
type Donation struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	UUID         string  `gorm:"type:varchar(36);not null;uniqueIndex" json:"uuid"`
	UserID       *uint   `gorm:"index" json:"user_id,omitempty"`
	ProjectID    *uint   `gorm:"index" json:"project_id,omitempty"`
	RecurrenceID *uint   `gorm:"index" json:"recurrence_id,omitempty"`

	// Inline donor snapshot for donors without an account.
	DonorEmail      string `gorm:"type:varchar(200);default:''" json:"donor_email,omitempty"`
	DonorFirstName  string `gorm:"type:varchar(100);default:''" json:"donor_first_name,omitempty"`
	DonorLastName   string `gorm:"type:varchar(100);default:''" json:"donor_last_name,omitempty"`
	DonorAddress    string `gorm:"type:varchar(255);default:''" json:"donor_address,omitempty"`
	DonorPostalCode string `gorm:"type:varchar(20);default:''" json:"donor_postal_code,omitempty"`
	DonorCity       string `gorm:"type:varchar(100);default:''" json:"donor_city,omitempty"`

	Amount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Kind   string          `gorm:"type:varchar(16);not null;default:'ONE_TIME';index" json:"kind"`
	Status string          `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`

	GatewayIntentID string `gorm:"type:varchar(191);default:'';index" json:"gateway_intent_id,omitempty"`
	GatewayChargeID string `gorm:"type:varchar(191);default:'';index" json:"gateway_charge_id,omitempty"`

	ReceiptRequested bool       `gorm:"default:true" json:"receipt_requested"`
	ReceiptNumber    string     `gorm:"type:varchar(32);default:''" json:"receipt_number,omitempty"`
	PaidAt           *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// DonorName returns the display name for the donor, preferring the linked
// account over the inline snapshot.
func (d *Donation) DonorName() string {
	if d.User != nil {
		return d.User.FullName()
	}
	name := d.DonorFirstName + " " + d.DonorLastName
	if name == " " {
		return ""
	}
	return name
}

// NotificationEmail returns the address donor notifications should go to,
// or "" when the donation carries no usable address.
func (d *Donation) NotificationEmail() string {
	if d.User != nil && d.User.Email != "" {
		return d.User.Email
	}
	return d.DonorEmail
}

// IsFinal reports whether the donation reached a terminal status.
func (d *Donation) IsFinal() bool {
	switch d.Status {
	case DonationStatusFailed, DonationStatusRefunded, DonationStatusCanceled:
		return true
	default:
		return false
	}
}
