package receipt

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nsem-asso/backoffice/app/models"
)

const (
	// Receipt number prefixes: RF for per-donation fiscal receipts, RFA for
	// annual aggregate receipts.
	NumberPrefix       = "RF"
	AnnualNumberPrefix = "RFA"
)

var (
	// ErrNotEligible means the donation is not COMPLETED with a receipt
	// request, so no fiscal receipt may be issued for it.
	ErrNotEligible = errors.New("donation is not eligible for a receipt")
	// ErrNoDonations means the donor has no completed donations in the
	// requested year, so there is nothing to aggregate.
	ErrNoDonations = errors.New("no completed donations for this year")
)

// RenderInput is the donation snapshot handed to the external artifact
// renderer together with the allocated number.
type RenderInput struct {
	ReceiptNumber string
	FiscalYear    int
	Amount        decimal.Decimal
	DonorName     string
	DonorEmail    string
	Annual        bool
	IssuedAt      time.Time
}

// Renderer produces the immutable receipt artifact (PDF rendering and
// storage live outside this core) and returns a stable artifact reference.
type Renderer interface {
	Render(in RenderInput) (string, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(in RenderInput) (string, error)

func (f RendererFunc) Render(in RenderInput) (string, error) {
	return f(in)
}

// StoragePathRenderer emits the canonical artifact storage key and leaves
// actual rendering to the external document collaborator, which consumes
// receipt rows asynchronously.
type StoragePathRenderer struct{}

func (StoragePathRenderer) Render(in RenderInput) (string, error) {
	if in.Annual {
		return fmt.Sprintf("receipts/annual/%d/%s.pdf", in.FiscalYear, in.ReceiptNumber), nil
	}
	return fmt.Sprintf("receipts/%d/%s.pdf", in.FiscalYear, in.ReceiptNumber), nil
}

// Allocator assigns sequential fiscal-year receipt numbers and records
// artifact references. Numbers are unique and monotonically increasing per
// scope; gaps are tolerated, reuse never happens.
type Allocator struct {
	renderer Renderer
}

func NewAllocator(renderer Renderer) *Allocator {
	if renderer == nil {
		renderer = StoragePathRenderer{}
	}
	return &Allocator{renderer: renderer}
}

// AllocateTx issues the fiscal receipt for a completed donation on the
// caller's transaction handle. The sequence reservation and the receipt row
// commit or roll back together with the caller's work.
func (a *Allocator) AllocateTx(tx *gorm.DB, d *models.Donation) (*models.DonationReceipt, error) {
	if d.Status != models.DonationStatusCompleted || !d.ReceiptRequested {
		return nil, ErrNotEligible
	}

	paidAt := time.Now()
	if d.PaidAt != nil {
		paidAt = *d.PaidAt
	}
	fiscalYear := paidAt.Year()

	scope := fmt.Sprintf("%s-%d", NumberPrefix, fiscalYear)
	seq, err := nextSequence(tx, scope)
	if err != nil {
		return nil, err
	}
	number := fmt.Sprintf("%s-%d-%05d", NumberPrefix, fiscalYear, seq)

	artifact, err := a.renderer.Render(RenderInput{
		ReceiptNumber: number,
		FiscalYear:    fiscalYear,
		Amount:        d.Amount,
		DonorName:     d.DonorName(),
		DonorEmail:    d.NotificationEmail(),
		IssuedAt:      time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("receipt artifact render failed: %w", err)
	}

	rcpt := &models.DonationReceipt{
		DonationID:    d.ID,
		ReceiptNumber: number,
		FiscalYear:    fiscalYear,
		Amount:        d.Amount,
		ArtifactPath:  artifact,
		Status:        models.ReceiptStatusGenerated,
	}
	if err := tx.Create(rcpt).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&models.Donation{}).
		Where("id = ?", d.ID).
		Update("receipt_number", number).Error; err != nil {
		return nil, err
	}
	d.ReceiptNumber = number
	return rcpt, nil
}

// Allocate issues a receipt in its own transaction; used when re-issuing for
// a donation whose completion-time allocation failed or that was created
// without a receipt request. Issuing through this path records the request.
func (a *Allocator) Allocate(db *gorm.DB, d *models.Donation) (*models.DonationReceipt, error) {
	var existing models.DonationReceipt
	err := db.Where("donation_id = ? AND status = ?", d.ID, models.ReceiptStatusGenerated).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var out *models.DonationReceipt
	txErr := db.Transaction(func(tx *gorm.DB) error {
		if !d.ReceiptRequested {
			if err := tx.Model(&models.Donation{}).
				Where("id = ?", d.ID).
				Update("receipt_requested", true).Error; err != nil {
				return err
			}
			d.ReceiptRequested = true
		}
		rcpt, err := a.AllocateTx(tx, d)
		if err != nil {
			return err
		}
		out = rcpt
		return nil
	})
	return out, txErr
}

// CancelTx marks the donation's active receipt CANCELED on the caller's
// transaction. The number stays burned.
func (a *Allocator) CancelTx(tx *gorm.DB, donationID uint) error {
	return tx.Model(&models.DonationReceipt{}).
		Where("donation_id = ? AND status = ?", donationID, models.ReceiptStatusGenerated).
		Update("status", models.ReceiptStatusCanceled).Error
}

// AllocateAnnual issues the aggregate receipt summarizing all of a donor's
// completed donations in a calendar year. The sequence is keyed by
// donor+year, following the same allocation discipline as per-donation
// numbers.
func (a *Allocator) AllocateAnnual(db *gorm.DB, user *models.User, year int) (*models.DonationReceipt, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	var donations []models.Donation
	if err := db.Where(
		"user_id = ? AND status = ? AND paid_at >= ? AND paid_at < ?",
		user.ID, models.DonationStatusCompleted, start, end,
	).Order("paid_at ASC").Find(&donations).Error; err != nil {
		return nil, err
	}
	if len(donations) == 0 {
		return nil, ErrNoDonations
	}

	total := decimal.Zero
	for _, d := range donations {
		total = total.Add(d.Amount)
	}

	var out *models.DonationReceipt
	txErr := db.Transaction(func(tx *gorm.DB) error {
		scope := fmt.Sprintf("%s-%d-%06d", AnnualNumberPrefix, year, user.ID)
		seq, err := nextSequence(tx, scope)
		if err != nil {
			return err
		}
		number := fmt.Sprintf("%s-%d-%06d-%02d", AnnualNumberPrefix, year, user.ID, seq)

		artifact, err := a.renderer.Render(RenderInput{
			ReceiptNumber: number,
			FiscalYear:    year,
			Amount:        total,
			DonorName:     user.FullName(),
			DonorEmail:    user.Email,
			Annual:        true,
			IssuedAt:      time.Now(),
		})
		if err != nil {
			return fmt.Errorf("annual receipt artifact render failed: %w", err)
		}

		rcpt := &models.DonationReceipt{
			// Annual receipts aggregate many donations; anchor on the first.
			DonationID:    donations[0].ID,
			ReceiptNumber: number,
			FiscalYear:    year,
			Amount:        total,
			ArtifactPath:  artifact,
			Status:        models.ReceiptStatusGenerated,
		}
		if err := tx.Create(rcpt).Error; err != nil {
			return err
		}
		out = rcpt
		return nil
	})
	return out, txErr
}

// FindByDonation returns the latest non-canceled receipt for a donation.
func (a *Allocator) FindByDonation(db *gorm.DB, donationID uint) (*models.DonationReceipt, error) {
	var rcpt models.DonationReceipt
	err := db.Where("donation_id = ? AND status <> ?", donationID, models.ReceiptStatusCanceled).
		Order("created_at DESC").
		First(&rcpt).Error
	if err != nil {
		return nil, err
	}
	return &rcpt, nil
}

// nextSequence reserves the next number for a scope. The sequence row is
// upserted once, then advanced with an in-place increment that holds the row
// lock for the rest of the transaction: concurrent allocators serialize here
// instead of racing a count. Never derive a number from counting rows.
func nextSequence(tx *gorm.DB, scope string) (int64, error) {
	seq := &models.ReceiptSequence{Scope: scope}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seq).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&models.ReceiptSequence{}).
		Where("scope = ?", scope).
		Update("last_value", gorm.Expr("last_value + 1")).Error; err != nil {
		return 0, err
	}
	var out models.ReceiptSequence
	if err := tx.Where("scope = ?", scope).First(&out).Error; err != nil {
		return 0, err
	}
	return out.LastValue, nil
}
