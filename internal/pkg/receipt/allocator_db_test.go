package receipt

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nsem-asso/backoffice/app/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "receipt_test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Donation{},
		&models.DonationReceipt{},
		&models.ReceiptSequence{},
	))
	return db
}

func completedDonation(t *testing.T, db *gorm.DB, n int, paidAt time.Time) *models.Donation {
	t.Helper()
	d := &models.Donation{
		UUID:             fmt.Sprintf("d-%d", n),
		Amount:           decimal.NewFromInt(int64(10 * n)),
		Kind:             models.DonationKindOneTime,
		Status:           models.DonationStatusCompleted,
		ReceiptRequested: true,
		DonorEmail:       fmt.Sprintf("donor%d@example.org", n),
		PaidAt:           &paidAt,
	}
	require.NoError(t, db.Create(d).Error)
	return d
}

func TestAllocateTxNumbersAreUniqueAndIncreasing(t *testing.T) {
	db := newTestDB(t)
	a := NewAllocator(nil)
	paidAt := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	seen := make(map[string]bool)
	for n := 1; n <= 8; n++ {
		d := completedDonation(t, db, n, paidAt)

		var rcpt *models.DonationReceipt
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			var err error
			rcpt, err = a.AllocateTx(tx, d)
			return err
		}))

		want := fmt.Sprintf("RF-2026-%05d", n)
		assert.Equal(t, want, rcpt.ReceiptNumber)
		assert.False(t, seen[rcpt.ReceiptNumber], "number %s allocated twice", rcpt.ReceiptNumber)
		seen[rcpt.ReceiptNumber] = true
		assert.Equal(t, 2026, rcpt.FiscalYear)
		assert.Equal(t, models.ReceiptStatusGenerated, rcpt.Status)
		assert.Equal(t, fmt.Sprintf("receipts/2026/%s.pdf", want), rcpt.ArtifactPath)

		// The number is written back onto the donation row.
		var fresh models.Donation
		require.NoError(t, db.First(&fresh, d.ID).Error)
		assert.Equal(t, want, fresh.ReceiptNumber)
	}

	var seq models.ReceiptSequence
	require.NoError(t, db.Where("scope = ?", "RF-2026").First(&seq).Error)
	assert.Equal(t, int64(8), seq.LastValue)
}

func TestAllocateTxScopesSequencePerFiscalYear(t *testing.T) {
	db := newTestDB(t)
	a := NewAllocator(nil)

	d2025 := completedDonation(t, db, 1, time.Date(2025, time.December, 30, 0, 0, 0, 0, time.UTC))
	d2026 := completedDonation(t, db, 2, time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC))

	for _, tc := range []struct {
		d    *models.Donation
		want string
	}{
		{d2025, "RF-2025-00001"},
		{d2026, "RF-2026-00001"},
	} {
		var rcpt *models.DonationReceipt
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			var err error
			rcpt, err = a.AllocateTx(tx, tc.d)
			return err
		}))
		assert.Equal(t, tc.want, rcpt.ReceiptNumber)
	}
}

func TestAllocateReturnsExistingReceipt(t *testing.T) {
	db := newTestDB(t)
	a := NewAllocator(nil)
	d := completedDonation(t, db, 1, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC))

	first, err := a.Allocate(db, d)
	require.NoError(t, err)

	second, err := a.Allocate(db, d)
	require.NoError(t, err)
	assert.Equal(t, first.ReceiptNumber, second.ReceiptNumber)

	var count int64
	require.NoError(t, db.Model(&models.DonationReceipt{}).
		Where("donation_id = ?", d.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAllocateRecordsReceiptRequest(t *testing.T) {
	db := newTestDB(t)
	a := NewAllocator(nil)
	paidAt := time.Date(2026, time.May, 5, 0, 0, 0, 0, time.UTC)

	d := &models.Donation{
		UUID:             "d-1",
		Amount:           decimal.NewFromInt(30),
		Kind:             models.DonationKindOneTime,
		Status:           models.DonationStatusCompleted,
		ReceiptRequested: false,
		PaidAt:           &paidAt,
	}
	require.NoError(t, db.Create(d).Error)
	// The column defaults to true; flip it off to model an opted-out gift.
	require.NoError(t, db.Model(d).Update("receipt_requested", false).Error)

	// Issuing through the admin path for a donation created without a
	// receipt request succeeds and records the request.
	rcpt, err := a.Allocate(db, d)
	require.NoError(t, err)
	assert.Equal(t, "RF-2026-00001", rcpt.ReceiptNumber)

	var fresh models.Donation
	require.NoError(t, db.First(&fresh, d.ID).Error)
	assert.True(t, fresh.ReceiptRequested)
	assert.Equal(t, "RF-2026-00001", fresh.ReceiptNumber)
}

func TestCancelTxBurnsTheNumber(t *testing.T) {
	db := newTestDB(t)
	a := NewAllocator(nil)
	paidAt := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	d := completedDonation(t, db, 1, paidAt)
	_, err := a.Allocate(db, d)
	require.NoError(t, err)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return a.CancelTx(tx, d.ID)
	}))

	var rcpt models.DonationReceipt
	require.NoError(t, db.Where("donation_id = ?", d.ID).First(&rcpt).Error)
	assert.Equal(t, models.ReceiptStatusCanceled, rcpt.Status)

	// The canceled number is never reused: the next allocation advances.
	d2 := completedDonation(t, db, 2, paidAt)
	rcpt2, err := a.Allocate(db, d2)
	require.NoError(t, err)
	assert.Equal(t, "RF-2026-00002", rcpt2.ReceiptNumber)
}

func TestAllocateAnnualAggregatesYear(t *testing.T) {
	db := newTestDB(t)
	a := NewAllocator(nil)

	user := &models.User{Email: "jean@example.org", FirstName: "Jean", LastName: "Dupont", Role: models.RoleDonor}
	require.NoError(t, db.Create(user).Error)

	for n, amount := range []int64{20, 30} {
		paidAt := time.Date(2026, time.Month(n+2), 15, 0, 0, 0, 0, time.UTC)
		d := &models.Donation{
			UUID:   fmt.Sprintf("d-%d", n+1),
			UserID: &user.ID,
			Amount: decimal.NewFromInt(amount),
			Kind:   models.DonationKindOneTime,
			Status: models.DonationStatusCompleted,
			PaidAt: &paidAt,
		}
		require.NoError(t, db.Create(d).Error)
	}

	rcpt, err := a.AllocateAnnual(db, user, 2026)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("RFA-2026-%06d-01", user.ID), rcpt.ReceiptNumber)
	assert.True(t, rcpt.Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 2026, rcpt.FiscalYear)

	_, err = a.AllocateAnnual(db, user, 2024)
	assert.ErrorIs(t, err, ErrNoDonations)
}
