package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProjectStatusDraft  = "DRAFT"
	ProjectStatusActive = "ACTIVE"
	ProjectStatusClosed = "CLOSED"
)

// Project is a fundraising target. The project CRUD surface lives outside
// this core; the donation ledger only validates the accepting state and the
// fund aggregator maintains CollectedAmount as a derived counter.
type Project struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Name            string          `gorm:"type:varchar(200);not null" json:"name"`
	Slug            string          `gorm:"type:varchar(200);not null;uniqueIndex" json:"slug"`
	Status          string          `gorm:"type:varchar(16);not null;default:'DRAFT';index" json:"status"`
	TargetAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"target_amount"`
	CollectedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"collected_amount"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsAcceptingFunds reports whether new donations may target this project.
func (p *Project) IsAcceptingFunds() bool {
	return p.Status == ProjectStatusActive
}
