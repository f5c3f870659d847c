package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nsem-asso/backoffice/app/models"
	"github.com/nsem-asso/backoffice/internal/pkg/gateway"
)

type fakeRepo struct {
	donations map[uint]*models.Donation
	byIntent  map[string]*models.Donation
	byCharge  map[string]*models.Donation
	projects  map[uint]*models.Project

	nextID        uint
	created       []*models.Donation
	promotedUsers []uint
	refundCalls   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		donations: map[uint]*models.Donation{},
		byIntent:  map[string]*models.Donation{},
		byCharge:  map[string]*models.Donation{},
		projects:  map[uint]*models.Project{},
		nextID:    1,
	}
}

func (f *fakeRepo) add(d *models.Donation) *models.Donation {
	if d.ID == 0 {
		d.ID = f.nextID
		f.nextID++
	}
	f.donations[d.ID] = d
	if d.GatewayIntentID != "" {
		f.byIntent[d.GatewayIntentID] = d
	}
	if d.GatewayChargeID != "" {
		f.byCharge[d.GatewayChargeID] = d
	}
	return d
}

func (f *fakeRepo) CreateDonation(d *models.Donation) error {
	f.created = append(f.created, d)
	f.add(d)
	return nil
}

func (f *fakeRepo) GetDonation(id uint) (*models.Donation, error) {
	d, ok := f.donations[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return d, nil
}

func (f *fakeRepo) GetDonationByUUID(uuid string) (*models.Donation, error) {
	for _, d := range f.donations {
		if d.UUID == uuid {
			return d, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetDonationByIntentID(intentID string) (*models.Donation, error) {
	d, ok := f.byIntent[intentID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return d, nil
}

func (f *fakeRepo) GetDonationByChargeID(chargeID string) (*models.Donation, error) {
	d, ok := f.byCharge[chargeID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return d, nil
}

func (f *fakeRepo) GetProject(id uint) (*models.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListDonationsByUser(userID uint, offset, limit int) ([]models.Donation, int64, error) {
	var out []models.Donation
	for _, d := range f.donations {
		if d.UserID != nil && *d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeRepo) ListDonations(status string, offset, limit int) ([]models.Donation, int64, error) {
	var out []models.Donation
	for _, d := range f.donations {
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeRepo) DonationStats() (*Stats, error) {
	return &Stats{}, nil
}

func (f *fakeRepo) CreateCompletedDonation(d *models.Donation) error {
	f.created = append(f.created, d)
	f.add(d)
	return nil
}

func (f *fakeRepo) CompleteDonation(id uint, chargeID string, paidAt time.Time) (bool, *models.Donation, error) {
	d, ok := f.donations[id]
	if !ok {
		return false, nil, gorm.ErrRecordNotFound
	}
	if d.Status != models.DonationStatusPending {
		return false, d, nil
	}
	d.Status = models.DonationStatusCompleted
	d.PaidAt = &paidAt
	if chargeID != "" {
		d.GatewayChargeID = chargeID
		f.byCharge[chargeID] = d
	}
	return true, d, nil
}

func (f *fakeRepo) TransitionFromPending(id uint, toStatus string) (bool, *models.Donation, error) {
	d, ok := f.donations[id]
	if !ok {
		return false, nil, gorm.ErrRecordNotFound
	}
	if d.Status != models.DonationStatusPending {
		return false, d, nil
	}
	d.Status = toStatus
	return true, d, nil
}

func (f *fakeRepo) RefundDonation(id uint) (bool, *models.Donation, error) {
	f.refundCalls++
	d, ok := f.donations[id]
	if !ok {
		return false, nil, gorm.ErrRecordNotFound
	}
	if d.Status != models.DonationStatusCompleted {
		return false, d, nil
	}
	d.Status = models.DonationStatusRefunded
	return true, d, nil
}

func (f *fakeRepo) PromoteDonorRole(userID uint) error {
	f.promotedUsers = append(f.promotedUsers, userID)
	return nil
}

type recordingNotifier struct {
	completed []uint
	failed    []uint
}

func (n *recordingNotifier) DonationCompleted(d *models.Donation) {
	n.completed = append(n.completed, d.ID)
}

func (n *recordingNotifier) DonationFailed(d *models.Donation) {
	n.failed = append(n.failed, d.ID)
}

type fakeGateway struct {
	intent    *gateway.PaymentIntent
	intentErr error
	intents   []gateway.PaymentIntentInput
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, in gateway.PaymentIntentInput) (*gateway.PaymentIntent, error) {
	g.intents = append(g.intents, in)
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	return g.intent, nil
}

func (g *fakeGateway) EnsureCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	return "cus_test", nil
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, in gateway.SubscriptionInput) (*gateway.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error { return nil }
func (g *fakeGateway) PauseSubscription(ctx context.Context, subscriptionID string) error  { return nil }
func (g *fakeGateway) ResumeSubscription(ctx context.Context, subscriptionID string) error { return nil }

func (g *fakeGateway) VerifyEvent(payload []byte, signatureHeader string) (*gateway.Event, error) {
	return nil, errors.New("not implemented")
}

func TestOpenRejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeGateway{}, nil)

	_, err := svc.Open(context.Background(), OpenInput{Amount: decimal.Zero})
	assert.Error(t, err)

	_, err = svc.Open(context.Background(), OpenInput{Amount: decimal.NewFromInt(-5)})
	assert.Error(t, err)
}

func TestOpenRejectsProjectNotAcceptingFunds(t *testing.T) {
	repo := newFakeRepo()
	repo.projects[7] = &models.Project{ID: 7, Status: models.ProjectStatusDraft}
	svc := NewService(repo, &fakeGateway{}, nil)

	projectID := uint(7)
	_, err := svc.Open(context.Background(), OpenInput{
		Amount:    decimal.NewFromInt(50),
		ProjectID: &projectID,
	})

	assert.ErrorIs(t, err, ErrInvalidProject)
	assert.Empty(t, repo.created)
}

func TestOpenCreatesPendingDonation(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{}, nil)

	d, err := svc.Open(context.Background(), OpenInput{
		Amount:           decimal.NewFromFloat(25.50),
		DonorEmail:       "  jean@example.org ",
		ReceiptRequested: true,
	})

	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusPending, d.Status)
	assert.Equal(t, models.DonationKindOneTime, d.Kind)
	assert.Equal(t, "jean@example.org", d.DonorEmail)
	assert.NotEmpty(t, d.UUID)
	require.Len(t, repo.created, 1)
}

func TestOpenIntentGatewayFailureCreatesNothing(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{intentErr: errors.New("stripe is down")}
	svc := NewService(repo, gw, nil)

	_, err := svc.OpenIntent(context.Background(), OpenInput{
		Amount:     decimal.NewFromInt(10),
		DonorEmail: "jean@example.org",
	})

	assert.Error(t, err)
	assert.Empty(t, repo.created)
}

func TestOpenIntentRecordsGatewayReference(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{intent: &gateway.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}}
	svc := NewService(repo, gw, nil)

	res, err := svc.OpenIntent(context.Background(), OpenInput{
		Amount:     decimal.NewFromFloat(12.34),
		DonorEmail: "jean@example.org",
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.Donation.GatewayIntentID)
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	require.Len(t, gw.intents, 1)
	assert.Equal(t, int64(1234), gw.intents[0].AmountCents)
}

func TestCompleteFlipsPendingAndNotifies(t *testing.T) {
	repo := newFakeRepo()
	userID := uint(3)
	d := repo.add(&models.Donation{Status: models.DonationStatusPending, UserID: &userID})
	notifier := &recordingNotifier{}
	svc := NewService(repo, &fakeGateway{}, notifier)

	out, err := svc.Complete(context.Background(), d.ID, "ch_1", time.Now())

	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusCompleted, out.Status)
	assert.Equal(t, "ch_1", out.GatewayChargeID)
	assert.NotNil(t, out.PaidAt)
	assert.Equal(t, []uint{d.ID}, notifier.completed)
	assert.Equal(t, []uint{userID}, repo.promotedUsers)
}

func TestCompleteIsNoOpWhenAlreadySettled(t *testing.T) {
	repo := newFakeRepo()
	d := repo.add(&models.Donation{Status: models.DonationStatusFailed})
	notifier := &recordingNotifier{}
	svc := NewService(repo, &fakeGateway{}, notifier)

	out, err := svc.Complete(context.Background(), d.ID, "ch_1", time.Now())

	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusFailed, out.Status)
	assert.Empty(t, notifier.completed)
	assert.Empty(t, repo.promotedUsers)
}

func TestCompleteByIntentResolvesReference(t *testing.T) {
	repo := newFakeRepo()
	d := repo.add(&models.Donation{Status: models.DonationStatusPending, GatewayIntentID: "pi_9"})
	svc := NewService(repo, &fakeGateway{}, nil)

	out, err := svc.CompleteByIntent(context.Background(), "pi_9", "ch_9", time.Now())

	require.NoError(t, err)
	assert.Equal(t, d.ID, out.ID)
	assert.Equal(t, models.DonationStatusCompleted, out.Status)
}

func TestCompleteByIntentUnknownReference(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeGateway{}, nil)

	_, err := svc.CompleteByIntent(context.Background(), "pi_missing", "", time.Now())

	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestFailNotifiesOnlyOnFlip(t *testing.T) {
	repo := newFakeRepo()
	pending := repo.add(&models.Donation{Status: models.DonationStatusPending})
	settled := repo.add(&models.Donation{Status: models.DonationStatusCompleted})
	notifier := &recordingNotifier{}
	svc := NewService(repo, &fakeGateway{}, notifier)

	out, err := svc.Fail(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusFailed, out.Status)

	out, err = svc.Fail(context.Background(), settled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusCompleted, out.Status)

	assert.Equal(t, []uint{pending.ID}, notifier.failed)
}

func TestCancelLeavesSettledDonationUntouched(t *testing.T) {
	repo := newFakeRepo()
	d := repo.add(&models.Donation{Status: models.DonationStatusCompleted})
	svc := NewService(repo, &fakeGateway{}, nil)

	out, err := svc.Cancel(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusCompleted, out.Status)
}

func TestRefundRequiresCompleted(t *testing.T) {
	repo := newFakeRepo()
	d := repo.add(&models.Donation{Status: models.DonationStatusPending})
	svc := NewService(repo, &fakeGateway{}, nil)

	_, err := svc.Refund(context.Background(), d.ID)

	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, models.DonationStatusPending, d.Status)
}

func TestRefundFlipsCompleted(t *testing.T) {
	repo := newFakeRepo()
	d := repo.add(&models.Donation{Status: models.DonationStatusCompleted})
	svc := NewService(repo, &fakeGateway{}, nil)

	out, err := svc.Refund(context.Background(), d.ID)

	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusRefunded, out.Status)
}

func TestRefundByChargeAlreadyRefundedIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&models.Donation{Status: models.DonationStatusRefunded, GatewayChargeID: "ch_r"})
	svc := NewService(repo, &fakeGateway{}, nil)

	out, err := svc.RefundByCharge(context.Background(), "ch_r")

	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusRefunded, out.Status)
	assert.Zero(t, repo.refundCalls)
}

func TestRecordRecurringGift(t *testing.T) {
	repo := newFakeRepo()
	notifier := &recordingNotifier{}
	svc := NewService(repo, &fakeGateway{}, notifier)

	userID := uint(5)
	recurrenceID := uint(11)
	paidAt := time.Now()
	d, err := svc.RecordRecurringGift(context.Background(), OpenInput{
		UserID:           &userID,
		RecurrenceID:     &recurrenceID,
		Amount:           decimal.NewFromInt(20),
		ReceiptRequested: true,
		GatewayIntentID:  "in_1",
	}, paidAt)

	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusCompleted, d.Status)
	assert.Equal(t, models.DonationKindRecurring, d.Kind)
	assert.Equal(t, &recurrenceID, d.RecurrenceID)
	require.NotNil(t, d.PaidAt)
	assert.Equal(t, paidAt, *d.PaidAt)
	assert.Equal(t, []uint{d.ID}, notifier.completed)
}
