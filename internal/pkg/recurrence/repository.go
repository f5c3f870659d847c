package recurrence

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nsem-asso/backoffice/app/models"
)

// Stats aggregates active recurrences for the admin dashboard. Revenue is
// normalized to a monthly figure across frequencies.
type Stats struct {
	TotalActive    int64           `json:"total_active"`
	MonthlyRevenue decimal.Decimal `json:"monthly_revenue"`
	AverageAmount  decimal.Decimal `json:"average_amount"`
}

// Repository provides DB operations used by the recurrence manager.
type Repository interface {
	Create(rec *models.DonationRecurrence) error
	Get(id uint) (*models.DonationRecurrence, error)
	GetByUUID(uuid string) (*models.DonationRecurrence, error)
	GetBySubscriptionID(subscriptionID string) (*models.DonationRecurrence, error)
	GetUser(id uint) (*models.User, error)
	GetProject(id uint) (*models.Project, error)
	FindGatewayCustomerID(userID uint) (string, error)
	ListByUser(userID uint) ([]models.DonationRecurrence, error)
	List(offset, limit int) ([]models.DonationRecurrence, int64, error)

	// UpdateStatus moves the recurrence to a new status, optionally guarded
	// by a set of allowed source statuses. The transition into CANCELED
	// stamps canceled_at only if it was still unset.
	UpdateStatus(id uint, from []string, to string) (bool, *models.DonationRecurrence, error)
	// RecordBillingSuccess bumps the monotonic payment counter and the
	// payment dates in one in-place update.
	RecordBillingSuccess(id uint, paidAt, nextPaymentDate time.Time) error
	ActiveStats() (*Stats, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a recurrence repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(rec *models.DonationRecurrence) error {
	return r.db.Create(rec).Error
}

func (r *gormRepository) Get(id uint) (*models.DonationRecurrence, error) {
	var rec models.DonationRecurrence
	if err := r.db.Preload("User").Preload("Project").First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) GetByUUID(uuid string) (*models.DonationRecurrence, error) {
	var rec models.DonationRecurrence
	err := r.db.Preload("User").Preload("Project").
		Where("uuid = ?", uuid).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) GetBySubscriptionID(subscriptionID string) (*models.DonationRecurrence, error) {
	var rec models.DonationRecurrence
	err := r.db.Preload("User").Preload("Project").
		Where("gateway_subscription_id = ?", subscriptionID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetProject(id uint) (*models.Project, error) {
	var p models.Project
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// FindGatewayCustomerID reuses the customer ref from any earlier recurrence
// of the same donor, "" when the donor is new to the gateway.
func (r *gormRepository) FindGatewayCustomerID(userID uint) (string, error) {
	var rec models.DonationRecurrence
	err := r.db.Where("user_id = ? AND gateway_customer_id <> ''", userID).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return rec.GatewayCustomerID, nil
}

func (r *gormRepository) ListByUser(userID uint) ([]models.DonationRecurrence, error) {
	var recs []models.DonationRecurrence
	err := r.db.Preload("Project").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&recs).Error
	return recs, err
}

func (r *gormRepository) List(offset, limit int) ([]models.DonationRecurrence, int64, error) {
	var recs []models.DonationRecurrence
	var total int64

	if err := r.db.Model(&models.DonationRecurrence{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.Preload("User").Preload("Project").
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&recs).Error
	return recs, total, err
}

func (r *gormRepository) UpdateStatus(id uint, from []string, to string) (bool, *models.DonationRecurrence, error) {
	updates := map[string]interface{}{"status": to}
	if to == models.RecurrenceStatusCanceled {
		// COALESCE keeps the first cancellation timestamp.
		updates["canceled_at"] = gorm.Expr("COALESCE(canceled_at, ?)", time.Now())
	}

	q := r.db.Model(&models.DonationRecurrence{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, nil, res.Error
	}

	rec, err := r.Get(id)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected > 0, rec, nil
}

func (r *gormRepository) RecordBillingSuccess(id uint, paidAt, nextPaymentDate time.Time) error {
	return r.db.Model(&models.DonationRecurrence{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payment_count":     gorm.Expr("payment_count + 1"),
			"last_payment_date": paidAt,
			"next_payment_date": nextPaymentDate,
		}).Error
}

func (r *gormRepository) ActiveStats() (*Stats, error) {
	stats := &Stats{MonthlyRevenue: decimal.Zero, AverageAmount: decimal.Zero}

	if err := r.db.Model(&models.DonationRecurrence{}).
		Where("status = ?", models.RecurrenceStatusActive).
		Count(&stats.TotalActive).Error; err != nil {
		return nil, err
	}
	if stats.TotalActive == 0 {
		return stats, nil
	}

	var active []models.DonationRecurrence
	if err := r.db.Select("amount", "frequency").
		Where("status = ?", models.RecurrenceStatusActive).
		Find(&active).Error; err != nil {
		return nil, err
	}

	total := decimal.Zero
	monthly := decimal.Zero
	for _, rec := range active {
		total = total.Add(rec.Amount)
		months := decimal.NewFromInt(int64(models.MonthsPerCycle(rec.Frequency)))
		monthly = monthly.Add(rec.Amount.DivRound(months, 2))
	}
	stats.MonthlyRevenue = monthly.Round(2)
	stats.AverageAmount = total.DivRound(decimal.NewFromInt(stats.TotalActive), 2)
	return stats, nil
}
