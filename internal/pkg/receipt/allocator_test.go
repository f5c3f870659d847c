package receipt

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsem-asso/backoffice/app/models"
)

func TestAllocateTxRejectsIneligibleDonations(t *testing.T) {
	a := NewAllocator(nil)

	// Eligibility is checked before any DB work.
	_, err := a.AllocateTx(nil, &models.Donation{
		Status:           models.DonationStatusPending,
		ReceiptRequested: true,
	})
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = a.AllocateTx(nil, &models.Donation{
		Status:           models.DonationStatusCompleted,
		ReceiptRequested: false,
	})
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = a.AllocateTx(nil, &models.Donation{
		Status:           models.DonationStatusRefunded,
		ReceiptRequested: true,
	})
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestStoragePathRenderer(t *testing.T) {
	r := StoragePathRenderer{}

	path, err := r.Render(RenderInput{
		ReceiptNumber: "RF-2026-00042",
		FiscalYear:    2026,
	})
	require.NoError(t, err)
	assert.Equal(t, "receipts/2026/RF-2026-00042.pdf", path)

	path, err = r.Render(RenderInput{
		ReceiptNumber: "RFA-2025-000007-01",
		FiscalYear:    2025,
		Annual:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "receipts/annual/2025/RFA-2025-000007-01.pdf", path)
}

func TestRendererFuncAdapter(t *testing.T) {
	var got RenderInput
	r := RendererFunc(func(in RenderInput) (string, error) {
		got = in
		return "custom/path.pdf", nil
	})

	path, err := r.Render(RenderInput{
		ReceiptNumber: "RF-2026-00001",
		Amount:        decimal.NewFromInt(50),
		DonorName:     "Jean Dupont",
		IssuedAt:      time.Now(),
	})

	require.NoError(t, err)
	assert.Equal(t, "custom/path.pdf", path)
	assert.Equal(t, "RF-2026-00001", got.ReceiptNumber)
	assert.Equal(t, "Jean Dupont", got.DonorName)
}

func TestNewAllocatorDefaultsToStoragePathRenderer(t *testing.T) {
	a := NewAllocator(nil)
	require.NotNil(t, a.renderer)

	path, err := a.renderer.Render(RenderInput{ReceiptNumber: "RF-2026-00001", FiscalYear: 2026})
	require.NoError(t, err)
	assert.Equal(t, "receipts/2026/RF-2026-00001.pdf", path)
}
