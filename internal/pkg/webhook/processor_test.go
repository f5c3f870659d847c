package webhook

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
	"github.com/nsem-asso/backoffice/internal/pkg/ledger"
	"github.com/nsem-asso/backoffice/internal/pkg/recurrence"
)

type fakeEventRepo struct {
	seen       map[string]bool
	stored     []*models.WebhookEvent
	marked     []uint
	markedErrs []string
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{seen: map[string]bool{}}
}

func (f *fakeEventRepo) CreateEventIfNotExists(ev *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := ev.Provider + ":" + ev.ProviderEventID
	if f.seen[key] {
		return false, f.stored[0], nil
	}
	f.seen[key] = true
	ev.ID = uint(len(f.stored) + 1)
	f.stored = append(f.stored, ev)
	return true, ev, nil
}

func (f *fakeEventRepo) MarkProcessed(id uint, processingError string) error {
	f.marked = append(f.marked, id)
	f.markedErrs = append(f.markedErrs, processingError)
	return nil
}

type fakeGateway struct {
	event     *gateway.Event
	verifyErr error
}

func (g *fakeGateway) VerifyEvent(payload []byte, signatureHeader string) (*gateway.Event, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.event, nil
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, in gateway.PaymentIntentInput) (*gateway.PaymentIntent, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) EnsureCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	return "", errors.New("not implemented")
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, in gateway.SubscriptionInput) (*gateway.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error { return nil }
func (g *fakeGateway) PauseSubscription(ctx context.Context, subscriptionID string) error  { return nil }
func (g *fakeGateway) ResumeSubscription(ctx context.Context, subscriptionID string) error { return nil }

type fakeLedgerRepo struct {
	donations map[string]*models.Donation
	intentErr error
}

func (f *fakeLedgerRepo) CreateDonation(d *models.Donation) error { return nil }
func (f *fakeLedgerRepo) GetDonation(id uint) (*models.Donation, error) {
	for _, d := range f.donations {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeLedgerRepo) GetDonationByUUID(uuid string) (*models.Donation, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeLedgerRepo) GetDonationByIntentID(intentID string) (*models.Donation, error) {
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	d, ok := f.donations[intentID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return d, nil
}
func (f *fakeLedgerRepo) GetDonationByChargeID(chargeID string) (*models.Donation, error) {
	for _, d := range f.donations {
		if d.GatewayChargeID == chargeID {
			return d, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeLedgerRepo) GetProject(id uint) (*models.Project, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeLedgerRepo) ListDonationsByUser(userID uint, offset, limit int) ([]models.Donation, int64, error) {
	return nil, 0, nil
}
func (f *fakeLedgerRepo) ListDonations(status string, offset, limit int) ([]models.Donation, int64, error) {
	return nil, 0, nil
}
func (f *fakeLedgerRepo) DonationStats() (*ledger.Stats, error) { return &ledger.Stats{}, nil }
func (f *fakeLedgerRepo) CreateCompletedDonation(d *models.Donation) error {
	d.ID = 100
	return nil
}
func (f *fakeLedgerRepo) CompleteDonation(id uint, chargeID string, paidAt time.Time) (bool, *models.Donation, error) {
	d, err := f.GetDonation(id)
	if err != nil {
		return false, nil, err
	}
	if d.Status != models.DonationStatusPending {
		return false, d, nil
	}
	d.Status = models.DonationStatusCompleted
	d.GatewayChargeID = chargeID
	d.PaidAt = &paidAt
	return true, d, nil
}
func (f *fakeLedgerRepo) TransitionFromPending(id uint, toStatus string) (bool, *models.Donation, error) {
	d, err := f.GetDonation(id)
	if err != nil {
		return false, nil, err
	}
	if d.Status != models.DonationStatusPending {
		return false, d, nil
	}
	d.Status = toStatus
	return true, d, nil
}
func (f *fakeLedgerRepo) RefundDonation(id uint) (bool, *models.Donation, error) {
	d, err := f.GetDonation(id)
	if err != nil {
		return false, nil, err
	}
	if d.Status != models.DonationStatusCompleted {
		return false, d, nil
	}
	d.Status = models.DonationStatusRefunded
	return true, d, nil
}
func (f *fakeLedgerRepo) PromoteDonorRole(userID uint) error { return nil }

type fakeRecurrenceRepo struct {
	recurrences map[string]*models.DonationRecurrence
}

func (f *fakeRecurrenceRepo) Create(rec *models.DonationRecurrence) error { return nil }
func (f *fakeRecurrenceRepo) Get(id uint) (*models.DonationRecurrence, error) {
	for _, rec := range f.recurrences {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRecurrenceRepo) GetByUUID(uuid string) (*models.DonationRecurrence, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRecurrenceRepo) GetBySubscriptionID(subscriptionID string) (*models.DonationRecurrence, error) {
	rec, ok := f.recurrences[subscriptionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return rec, nil
}
func (f *fakeRecurrenceRepo) GetUser(id uint) (*models.User, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRecurrenceRepo) GetProject(id uint) (*models.Project, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeRecurrenceRepo) FindGatewayCustomerID(userID uint) (string, error) { return "", nil }
func (f *fakeRecurrenceRepo) ListByUser(userID uint) ([]models.DonationRecurrence, error) {
	return nil, nil
}
func (f *fakeRecurrenceRepo) List(offset, limit int) ([]models.DonationRecurrence, int64, error) {
	return nil, 0, nil
}
func (f *fakeRecurrenceRepo) UpdateStatus(id uint, from []string, to string) (bool, *models.DonationRecurrence, error) {
	rec, err := f.Get(id)
	if err != nil {
		return false, nil, err
	}
	rec.Status = to
	if to == models.RecurrenceStatusCanceled && rec.CanceledAt == nil {
		now := time.Now()
		rec.CanceledAt = &now
	}
	return true, rec, nil
}
func (f *fakeRecurrenceRepo) RecordBillingSuccess(id uint, paidAt, nextPaymentDate time.Time) error {
	rec, err := f.Get(id)
	if err != nil {
		return err
	}
	rec.PaymentCount++
	return nil
}
func (f *fakeRecurrenceRepo) ActiveStats() (*recurrence.Stats, error) {
	return &recurrence.Stats{}, nil
}

type processorFixture struct {
	processor   *Processor
	events      *fakeEventRepo
	gateway     *fakeGateway
	ledger      *fakeLedgerRepo
	recurrences *fakeRecurrenceRepo
}

func newFixture(ev *gateway.Event) *processorFixture {
	events := newFakeEventRepo()
	gw := &fakeGateway{event: ev}
	ledgerRepo := &fakeLedgerRepo{donations: map[string]*models.Donation{}}
	recurrenceRepo := &fakeRecurrenceRepo{recurrences: map[string]*models.DonationRecurrence{}}

	ledgerSvc := ledger.NewService(ledgerRepo, gw, nil)
	recurrenceSvc := recurrence.NewService(recurrenceRepo, ledgerSvc, gw, nil)

	return &processorFixture{
		processor:   NewProcessor(events, gw, ledgerSvc, recurrenceSvc),
		events:      events,
		gateway:     gw,
		ledger:      ledgerRepo,
		recurrences: recurrenceRepo,
	}
}

func TestProcessRejectsInvalidSignature(t *testing.T) {
	fx := newFixture(nil)
	fx.gateway.verifyErr = gateway.ErrInvalidSignature

	_, err := fx.processor.Process(context.Background(), []byte(`{}`), "bad-sig")

	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	assert.Empty(t, fx.events.stored)
}

func TestProcessCompletesDonationOnPaymentSucceeded(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_1", Type: "payment_intent.succeeded", Kind: gateway.EventPaymentSucceeded,
		IntentID: "pi_1", ChargeID: "ch_1",
	})
	d := &models.Donation{ID: 1, Status: models.DonationStatusPending, GatewayIntentID: "pi_1", Amount: decimal.NewFromInt(10)}
	fx.ledger.donations["pi_1"] = d

	res, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.False(t, res.Ignored)
	assert.Equal(t, models.DonationStatusCompleted, d.Status)
	assert.Equal(t, "ch_1", d.GatewayChargeID)
	require.Len(t, fx.events.stored, 1)
	assert.Equal(t, "evt_1", fx.events.stored[0].ProviderEventID)
	assert.True(t, fx.events.stored[0].SignatureValid)
	assert.Equal(t, []string{""}, fx.events.markedErrs)
}

func TestProcessDuplicateEventIsNoOp(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_1", Type: "payment_intent.succeeded", Kind: gateway.EventPaymentSucceeded,
		IntentID: "pi_1",
	})
	d := &models.Donation{ID: 1, Status: models.DonationStatusPending, GatewayIntentID: "pi_1"}
	fx.ledger.donations["pi_1"] = d

	_, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusCompleted, d.Status)

	// Reset and redeliver the same event id.
	d.Status = models.DonationStatusPending
	res, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, models.DonationStatusPending, d.Status)
	assert.Len(t, fx.events.stored, 1)
	assert.Len(t, fx.events.marked, 1)
}

func TestProcessUnknownReferenceIsIgnored(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_2", Type: "payment_intent.succeeded", Kind: gateway.EventPaymentSucceeded,
		IntentID: "pi_unknown",
	})

	res, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, []string{""}, fx.events.markedErrs)
}

func TestProcessUnknownEventTypeIsIgnored(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_3", Type: "account.updated", Kind: gateway.EventUnknown,
	})

	res, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Len(t, fx.events.stored, 1)
}

func TestProcessRecordsHandlerFailure(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_4", Type: "payment_intent.succeeded", Kind: gateway.EventPaymentSucceeded,
		IntentID: "pi_1",
	})
	fx.ledger.intentErr = errors.New("database is down")

	_, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	assert.Error(t, err)
	require.Len(t, fx.events.markedErrs, 1)
	assert.Contains(t, fx.events.markedErrs[0], "database is down")
}

func TestProcessFailsDonationOnPaymentFailed(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_5", Type: "payment_intent.payment_failed", Kind: gateway.EventPaymentFailed,
		IntentID: "pi_1",
	})
	d := &models.Donation{ID: 1, Status: models.DonationStatusPending, GatewayIntentID: "pi_1"}
	fx.ledger.donations["pi_1"] = d

	_, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusFailed, d.Status)
}

func TestProcessRefundsDonationOnChargeRefunded(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_6", Type: "charge.refunded", Kind: gateway.EventChargeRefunded,
		ChargeID: "ch_1",
	})
	d := &models.Donation{ID: 1, Status: models.DonationStatusCompleted, GatewayIntentID: "pi_1", GatewayChargeID: "ch_1"}
	fx.ledger.donations["pi_1"] = d

	_, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.Equal(t, models.DonationStatusRefunded, d.Status)
}

func TestProcessCancelsRecurrenceOnSubscriptionDeleted(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_7", Type: "customer.subscription.deleted", Kind: gateway.EventSubscriptionDeleted,
		SubscriptionID: "sub_1",
	})
	rec := &models.DonationRecurrence{ID: 1, Status: models.RecurrenceStatusActive, GatewaySubscriptionID: "sub_1"}
	fx.recurrences.recurrences["sub_1"] = rec

	_, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.Equal(t, models.RecurrenceStatusCanceled, rec.Status)
	assert.NotNil(t, rec.CanceledAt)
}

func TestProcessBillingCycleBumpsPaymentCount(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_8", Type: "invoice.payment_succeeded", Kind: gateway.EventInvoicePaymentSucceeded,
		SubscriptionID: "sub_1", InvoiceID: "in_1",
	})
	rec := &models.DonationRecurrence{
		ID: 1, UserID: 2, Status: models.RecurrenceStatusActive,
		GatewaySubscriptionID: "sub_1", Amount: decimal.NewFromInt(15),
		Frequency: models.RecurrenceFrequencyMonthly,
	}
	fx.recurrences.recurrences["sub_1"] = rec

	_, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.Equal(t, 1, rec.PaymentCount)
}

func TestProcessInvoiceWithoutSubscriptionIsIgnored(t *testing.T) {
	fx := newFixture(&gateway.Event{
		ID: "evt_9", Type: "invoice.payment_succeeded", Kind: gateway.EventInvoicePaymentSucceeded,
		InvoiceID: "in_1",
	})

	res, err := fx.processor.Process(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.True(t, res.Ignored)
}
