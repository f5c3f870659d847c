package ledger

import (
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nsem-asso/backoffice/app/models"
	"github.com/nsem-asso/backoffice/internal/pkg/funds"
	"github.com/nsem-asso/backoffice/internal/pkg/receipt"
)

// MonthlyTotal is one month's completed-donation bucket.
type MonthlyTotal struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total"`
	Count int64           `json:"count"`
}

// Stats aggregates completed donations for the admin dashboard.
type Stats struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalCount  int64           `json:"total_count"`
	ByMonth     []MonthlyTotal  `json:"by_month"`
}

// Repository provides DB operations used by the donation ledger. The guarded
// transition methods return flipped=false when the expected source status no
// longer held, along with the row's current state.
type Repository interface {
	CreateDonation(d *models.Donation) error
	GetDonation(id uint) (*models.Donation, error)
	GetDonationByUUID(uuid string) (*models.Donation, error)
	GetDonationByIntentID(intentID string) (*models.Donation, error)
	GetDonationByChargeID(chargeID string) (*models.Donation, error)
	GetProject(id uint) (*models.Project, error)
	ListDonationsByUser(userID uint, offset, limit int) ([]models.Donation, int64, error)
	ListDonations(status string, offset, limit int) ([]models.Donation, int64, error)
	DonationStats() (*Stats, error)

	CreateCompletedDonation(d *models.Donation) error
	CompleteDonation(id uint, chargeID string, paidAt time.Time) (bool, *models.Donation, error)
	TransitionFromPending(id uint, toStatus string) (bool, *models.Donation, error)
	RefundDonation(id uint) (bool, *models.Donation, error)
	PromoteDonorRole(userID uint) error
}

type gormRepository struct {
	db         *gorm.DB
	aggregator funds.Aggregator
	receipts   *receipt.Allocator
}

// NewRepository creates a ledger repository backed by GORM. The fund
// aggregator and receipt allocator run inside the completion transaction.
func NewRepository(db *gorm.DB, aggregator funds.Aggregator, receipts *receipt.Allocator) Repository {
	return &gormRepository{db: db, aggregator: aggregator, receipts: receipts}
}

func (r *gormRepository) CreateDonation(d *models.Donation) error {
	return r.db.Create(d).Error
}

func (r *gormRepository) GetDonation(id uint) (*models.Donation, error) {
	var d models.Donation
	if err := r.db.Preload("User").Preload("Project").First(&d, id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *gormRepository) GetDonationByUUID(uuid string) (*models.Donation, error) {
	var d models.Donation
	err := r.db.Preload("User").Preload("Project").
		Where("uuid = ?", uuid).First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *gormRepository) GetDonationByIntentID(intentID string) (*models.Donation, error) {
	var d models.Donation
	err := r.db.Preload("User").Preload("Project").
		Where("gateway_intent_id = ?", intentID).First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *gormRepository) GetDonationByChargeID(chargeID string) (*models.Donation, error) {
	var d models.Donation
	err := r.db.Where("gateway_charge_id = ?", chargeID).First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *gormRepository) GetProject(id uint) (*models.Project, error) {
	var p models.Project
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListDonationsByUser(userID uint, offset, limit int) ([]models.Donation, int64, error) {
	var donations []models.Donation
	var total int64

	q := r.db.Model(&models.Donation{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Preload("Project").
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&donations).Error
	return donations, total, err
}

func (r *gormRepository) ListDonations(status string, offset, limit int) ([]models.Donation, int64, error) {
	var donations []models.Donation
	var total int64

	q := r.db.Model(&models.Donation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Preload("User").Preload("Project").
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&donations).Error
	return donations, total, err
}

func (r *gormRepository) DonationStats() (*Stats, error) {
	stats := &Stats{}

	if err := r.db.Model(&models.Donation{}).
		Where("status = ?", models.DonationStatusCompleted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&stats.TotalAmount).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&models.Donation{}).
		Where("status = ?", models.DonationStatusCompleted).
		Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}
	err := r.db.Raw(
		`SELECT DATE_FORMAT(paid_at, '%Y-%m') AS month, SUM(amount) AS total, COUNT(*) AS count
		 FROM donations
		 WHERE status = ? AND paid_at IS NOT NULL
		 GROUP BY DATE_FORMAT(paid_at, '%Y-%m')
		 ORDER BY month DESC LIMIT 12`,
		models.DonationStatusCompleted,
	).Scan(&stats.ByMonth).Error
	return stats, err
}

// CreateCompletedDonation inserts a billing-cycle donation that is born
// COMPLETED, together with its fund increment and receipt, in one
// transaction.
func (r *gormRepository) CreateCompletedDonation(d *models.Donation) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		if err := tx.Preload("User").Preload("Project").First(d, d.ID).Error; err != nil {
			return err
		}
		if err := r.aggregator.OnDonationCompleted(tx, d); err != nil {
			return err
		}
		if d.ReceiptRequested {
			if _, err := r.receipts.AllocateTx(tx, d); err != nil {
				log.Errorf("[Ledger] Receipt allocation failed for donation %d: %v", d.ID, err)
			}
		}
		return nil
	})
}

// CompleteDonation flips PENDING -> COMPLETED with a conditional update and,
// only when this call won the flip, runs the fund increment and receipt
// allocation on the same transaction. paidAt and the charge ref are written
// exactly once, by the winning caller.
func (r *gormRepository) CompleteDonation(id uint, chargeID string, paidAt time.Time) (bool, *models.Donation, error) {
	flipped := false
	var completed *models.Donation

	err := r.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":  models.DonationStatusCompleted,
			"paid_at": paidAt,
		}
		if chargeID != "" {
			updates["gateway_charge_id"] = chargeID
		}
		res := tx.Model(&models.Donation{}).
			Where("id = ? AND status = ?", id, models.DonationStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A racing caller settled this donation first.
			return nil
		}
		flipped = true

		var d models.Donation
		if err := tx.Preload("User").Preload("Project").First(&d, id).Error; err != nil {
			return err
		}
		if err := r.aggregator.OnDonationCompleted(tx, &d); err != nil {
			return err
		}
		if d.ReceiptRequested {
			if _, err := r.receipts.AllocateTx(tx, &d); err != nil {
				// A receipt problem must not void the payment record; the
				// receipt can be re-issued through the admin endpoint.
				log.Errorf("[Ledger] Receipt allocation failed for donation %d: %v", d.ID, err)
			}
		}
		completed = &d
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	if !flipped {
		d, err := r.GetDonation(id)
		return false, d, err
	}
	return true, completed, nil
}

func (r *gormRepository) TransitionFromPending(id uint, toStatus string) (bool, *models.Donation, error) {
	res := r.db.Model(&models.Donation{}).
		Where("id = ? AND status = ?", id, models.DonationStatusPending).
		Update("status", toStatus)
	if res.Error != nil {
		return false, nil, res.Error
	}
	d, err := r.GetDonation(id)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected > 0, d, nil
}

func (r *gormRepository) RefundDonation(id uint) (bool, *models.Donation, error) {
	flipped := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Donation{}).
			Where("id = ? AND status = ?", id, models.DonationStatusCompleted).
			Update("status", models.DonationStatusRefunded)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		flipped = true
		return r.receipts.CancelTx(tx, id)
	})
	if err != nil {
		return false, nil, err
	}
	d, err := r.GetDonation(id)
	return flipped, d, err
}

func (r *gormRepository) PromoteDonorRole(userID uint) error {
	return r.db.Model(&models.User{}).
		Where("id = ? AND role = ?", userID, models.RoleAnonymous).
		Update("role", models.RoleDonor).Error
}
