package recurrence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nsem-asso/backoffice/app/models"
	"github.com/nsem-asso/backoffice/internal/pkg/gateway"
	"github.com/nsem-asso/backoffice/internal/pkg/ledger"
)

var (
	// ErrForbidden means the requester does not own the recurrence.
	ErrForbidden = errors.New("requester does not own this recurrence")
	// ErrIllegalTransition means the requested state change is not allowed
	// from the recurrence's current status.
	ErrIllegalTransition = errors.New("illegal recurrence status transition")
	// ErrInvalidProject mirrors the ledger's project-accepting check.
	ErrInvalidProject = ledger.ErrInvalidProject
)

// Notifier receives fire-and-forget donor notifications for recurrence
// lifecycle events; the production implementation enqueues background jobs.
type Notifier interface {
	BillingCycleFailed(rec *models.DonationRecurrence)
	RecurrenceCanceled(rec *models.DonationRecurrence)
}

// Service owns DonationRecurrence subscriptions. Gateway actions always run
// before local persistence, so a provider failure never leaves a misleading
// local status behind.
type Service struct {
	repo     Repository
	ledger   *ledger.Service
	gateway  gateway.Client
	notifier Notifier
}

func NewService(repo Repository, ledgerSvc *ledger.Service, gw gateway.Client, notifier Notifier) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, gateway: gw, notifier: notifier}
}

// SubscribeInput describes a new standing subscription.
type SubscribeInput struct {
	Amount    decimal.Decimal
	Frequency string
	ProjectID *uint
}

// SubscribeResult carries the persisted recurrence plus the gateway's
// client confirmation token for the donor-facing flow.
type SubscribeResult struct {
	Recurrence   *models.DonationRecurrence
	ClientSecret string
}

// Subscribe validates the target project, sets the subscription up at the
// gateway, and only then persists the local recurrence with paymentCount=0.
// The first charge confirmation arrives later as an invoice event.
func (s *Service) Subscribe(ctx context.Context, userID uint, in SubscribeInput) (*SubscribeResult, error) {
	if !in.Amount.IsPositive() {
		return nil, errors.New("recurrence amount must be positive")
	}
	switch in.Frequency {
	case models.RecurrenceFrequencyMonthly, models.RecurrenceFrequencyQuarterly, models.RecurrenceFrequencyYearly:
	default:
		return nil, fmt.Errorf("unsupported frequency %q", in.Frequency)
	}
	if in.ProjectID != nil {
		p, err := s.repo.GetProject(*in.ProjectID)
		if err != nil || !p.IsAcceptingFunds() {
			return nil, ErrInvalidProject
		}
	}

	user, err := s.repo.GetUser(userID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.repo.FindGatewayCustomerID(userID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		customerID, err = s.gateway.EnsureCustomer(ctx, user.Email, user.FullName(), map[string]string{
			"user_id": strconv.FormatUint(uint64(userID), 10),
		})
		if err != nil {
			return nil, fmt.Errorf("gateway customer create failed: %w", err)
		}
	}

	sub, err := s.gateway.CreateSubscription(ctx, gateway.SubscriptionInput{
		CustomerID:  customerID,
		AmountCents: in.Amount.Shift(2).IntPart(),
		Currency:    "eur",
		Frequency:   in.Frequency,
		Metadata: map[string]string{
			"user_id":   strconv.FormatUint(uint64(userID), 10),
			"frequency": in.Frequency,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gateway subscription create failed: %w", err)
	}

	next := time.Now().AddDate(0, models.MonthsPerCycle(in.Frequency), 0)
	rec := &models.DonationRecurrence{
		UUID:                  uuid.New().String(),
		UserID:                userID,
		ProjectID:             in.ProjectID,
		Amount:                in.Amount,
		Frequency:             in.Frequency,
		Status:                models.RecurrenceStatusActive,
		GatewaySubscriptionID: sub.ID,
		GatewayCustomerID:     customerID,
		PaymentCount:          0,
		NextPaymentDate:       &next,
	}
	if err := s.repo.Create(rec); err != nil {
		return nil, err
	}

	log.Infof("[Recurrence] Recurrence %s created for user %d, subscription %s", rec.UUID, userID, sub.ID)
	return &SubscribeResult{Recurrence: rec, ClientSecret: sub.ClientSecret}, nil
}

// OnBillingCycleSucceeded records one paid cycle: a COMPLETED RECURRING
// donation through the ledger, then the monotonic paymentCount bump. An
// unknown subscription ref is logged and ignored; the subscription may have
// been created out-of-band.
func (s *Service) OnBillingCycleSucceeded(ctx context.Context, subscriptionRef string, invoiceRef string) error {
	rec, err := s.repo.GetBySubscriptionID(subscriptionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Recurrence] No recurrence for subscription %s (invoice succeeded), ignoring", subscriptionRef)
			return nil
		}
		return err
	}

	// The invoice ref identifies the billing cycle; a redelivery under a
	// fresh event id must not mint a second gift.
	if invoiceRef != "" {
		existing, err := s.ledger.GetByIntent(ctx, invoiceRef)
		if err == nil {
			log.Infof("[Recurrence] Invoice %s already recorded as donation %d, skipping", invoiceRef, existing.ID)
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	now := time.Now()
	_, err = s.ledger.RecordRecurringGift(ctx, ledger.OpenInput{
		UserID:           &rec.UserID,
		ProjectID:        rec.ProjectID,
		RecurrenceID:     &rec.ID,
		Amount:           rec.Amount,
		ReceiptRequested: true,
		GatewayIntentID:  invoiceRef,
	}, now)
	if err != nil {
		return fmt.Errorf("recording billing cycle for recurrence %d: %w", rec.ID, err)
	}

	next := now.AddDate(0, models.MonthsPerCycle(rec.Frequency), 0)
	if err := s.repo.RecordBillingSuccess(rec.ID, now, next); err != nil {
		return err
	}
	log.Infof("[Recurrence] Billing cycle recorded for recurrence %d, payment #%d", rec.ID, rec.PaymentCount+1)
	return nil
}

// OnBillingCycleFailed notifies the donor; no donation row is created.
func (s *Service) OnBillingCycleFailed(ctx context.Context, subscriptionRef string) error {
	_ = ctx
	rec, err := s.repo.GetBySubscriptionID(subscriptionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Recurrence] No recurrence for subscription %s (invoice failed), ignoring", subscriptionRef)
			return nil
		}
		return err
	}
	log.Warnf("[Recurrence] Billing cycle failed for recurrence %d", rec.ID)
	if s.notifier != nil {
		s.notifier.BillingCycleFailed(rec)
	}
	return nil
}

// Pause suspends an ACTIVE recurrence. The gateway is updated first; a
// gateway failure leaves the local status untouched.
func (s *Service) Pause(ctx context.Context, recurrenceUUID string, requesterID uint) (*models.DonationRecurrence, error) {
	rec, err := s.ownedRecurrence(recurrenceUUID, requesterID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.RecurrenceStatusActive {
		return nil, fmt.Errorf("%w: pause requires ACTIVE, recurrence is %s", ErrIllegalTransition, rec.Status)
	}

	if err := s.gateway.PauseSubscription(ctx, rec.GatewaySubscriptionID); err != nil {
		return nil, err
	}
	_, rec, err = s.repo.UpdateStatus(rec.ID,
		[]string{models.RecurrenceStatusActive}, models.RecurrenceStatusPaused)
	if err != nil {
		return nil, err
	}
	log.Infof("[Recurrence] Recurrence %d paused by user %d", rec.ID, requesterID)
	return rec, nil
}

// Resume reactivates a PAUSED recurrence, gateway first.
func (s *Service) Resume(ctx context.Context, recurrenceUUID string, requesterID uint) (*models.DonationRecurrence, error) {
	rec, err := s.ownedRecurrence(recurrenceUUID, requesterID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.RecurrenceStatusPaused {
		return nil, fmt.Errorf("%w: resume requires PAUSED, recurrence is %s", ErrIllegalTransition, rec.Status)
	}

	if err := s.gateway.ResumeSubscription(ctx, rec.GatewaySubscriptionID); err != nil {
		return nil, err
	}
	_, rec, err = s.repo.UpdateStatus(rec.ID,
		[]string{models.RecurrenceStatusPaused}, models.RecurrenceStatusActive)
	if err != nil {
		return nil, err
	}
	log.Infof("[Recurrence] Recurrence %d resumed by user %d", rec.ID, requesterID)
	return rec, nil
}

// Cancel terminates a recurrence for good. Forbidden when already CANCELED;
// canceledAt is written at most once by the guarded update.
func (s *Service) Cancel(ctx context.Context, recurrenceUUID string, requesterID uint) (*models.DonationRecurrence, error) {
	rec, err := s.ownedRecurrence(recurrenceUUID, requesterID)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.RecurrenceStatusCanceled {
		return nil, fmt.Errorf("%w: recurrence is already CANCELED", ErrIllegalTransition)
	}

	if err := s.gateway.CancelSubscription(ctx, rec.GatewaySubscriptionID); err != nil {
		return nil, err
	}
	_, rec, err = s.repo.UpdateStatus(rec.ID, nil, models.RecurrenceStatusCanceled)
	if err != nil {
		return nil, err
	}
	log.Infof("[Recurrence] Recurrence %d canceled by user %d", rec.ID, requesterID)
	if s.notifier != nil {
		s.notifier.RecurrenceCanceled(rec)
	}
	return rec, nil
}

// ApplyGatewayStatus folds a provider-reported subscription status into the
// local state machine. Re-applying the current state is a no-op; unknown
// provider statuses leave the recurrence untouched.
func (s *Service) ApplyGatewayStatus(ctx context.Context, subscriptionRef, providerStatus string) error {
	_ = ctx
	rec, err := s.repo.GetBySubscriptionID(subscriptionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Recurrence] No recurrence for subscription %s (status %s), ignoring", subscriptionRef, providerStatus)
			return nil
		}
		return err
	}

	target, ok := mapProviderStatus(providerStatus)
	if !ok {
		log.Infof("[Recurrence] Provider status %q for recurrence %d has no local mapping, keeping %s",
			providerStatus, rec.ID, rec.Status)
		return nil
	}
	if target == rec.Status {
		return nil
	}

	_, _, err = s.repo.UpdateStatus(rec.ID, nil, target)
	if err != nil {
		return err
	}
	log.Infof("[Recurrence] Recurrence %d moved to %s (provider status %s)", rec.ID, target, providerStatus)
	return nil
}

// OnSubscriptionDeleted handles the gateway's terminal deletion notice.
func (s *Service) OnSubscriptionDeleted(ctx context.Context, subscriptionRef string) error {
	_ = ctx
	rec, err := s.repo.GetBySubscriptionID(subscriptionRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Recurrence] No recurrence for subscription %s (deleted), ignoring", subscriptionRef)
			return nil
		}
		return err
	}
	if rec.Status == models.RecurrenceStatusCanceled {
		return nil
	}

	_, rec, err = s.repo.UpdateStatus(rec.ID, nil, models.RecurrenceStatusCanceled)
	if err != nil {
		return err
	}
	log.Infof("[Recurrence] Subscription %s deleted, recurrence %d canceled", subscriptionRef, rec.ID)
	if s.notifier != nil {
		s.notifier.RecurrenceCanceled(rec)
	}
	return nil
}

// Get returns one recurrence by public identifier.
func (s *Service) Get(ctx context.Context, recurrenceUUID string) (*models.DonationRecurrence, error) {
	_ = ctx
	return s.repo.GetByUUID(recurrenceUUID)
}

// ListMine returns a donor's recurrences, newest first.
func (s *Service) ListMine(ctx context.Context, userID uint) ([]models.DonationRecurrence, error) {
	_ = ctx
	return s.repo.ListByUser(userID)
}

// List returns all recurrences, paginated.
func (s *Service) List(ctx context.Context, offset, limit int) ([]models.DonationRecurrence, int64, error) {
	_ = ctx
	return s.repo.List(offset, limit)
}

// GetStats returns active-recurrence aggregates.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	_ = ctx
	return s.repo.ActiveStats()
}

func (s *Service) ownedRecurrence(recurrenceUUID string, requesterID uint) (*models.DonationRecurrence, error) {
	rec, err := s.repo.GetByUUID(recurrenceUUID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != requesterID {
		return nil, ErrForbidden
	}
	return rec, nil
}

// mapProviderStatus translates gateway subscription statuses into the local
// state machine. past_due and unpaid stay ACTIVE: the gateway keeps
// retrying the charge and reports the outcome through invoice events.
func mapProviderStatus(providerStatus string) (string, bool) {
	switch providerStatus {
	case "active", "trialing", "past_due", "unpaid", "incomplete":
		return models.RecurrenceStatusActive, true
	case "paused":
		return models.RecurrenceStatusPaused, true
	case "canceled":
		return models.RecurrenceStatusCanceled, true
	case "incomplete_expired":
		return models.RecurrenceStatusExpired, true
	default:
		return "", false
	}
}
