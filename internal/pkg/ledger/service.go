package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nsem-asso/backoffice/app/models"
	"github.com/nsem-asso/backoffice/internal/pkg/gateway"
)

var (
	// ErrInvalidProject means the targeted project is missing or not in an
	// accepting state.
	ErrInvalidProject = errors.New("project is not accepting funds")
	// ErrIllegalTransition means the caller tried to force a status change
	// outside the allowed transition graph.
	ErrIllegalTransition = errors.New("illegal donation status transition")
)

// Notifier receives fire-and-forget side effects after a successful
// transition. Implementations must not block the ledger path; the production
// implementation enqueues background jobs.
type Notifier interface {
	DonationCompleted(d *models.Donation)
	DonationFailed(d *models.Donation)
}

// Service owns Donation records and their guarded status transitions. Both
// the webhook path and the admin manual path go through the same operations,
// so duplicate triggers collapse into no-ops.
type Service struct {
	repo     Repository
	gateway  gateway.Client
	notifier Notifier
}

// NewService creates a donation ledger from its collaborators. notifier may
// be nil when no async side effects are wanted (tests, migrations).
func NewService(repo Repository, gw gateway.Client, notifier Notifier) *Service {
	return &Service{repo: repo, gateway: gw, notifier: notifier}
}

// OpenInput describes a donation to open. Either UserID or the donor
// snapshot fields identify the giver.
type OpenInput struct {
	UserID           *uint
	DonorEmail       string
	DonorFirstName   string
	DonorLastName    string
	DonorAddress     string
	DonorPostalCode  string
	DonorCity        string
	Amount           decimal.Decimal
	Kind             string
	ProjectID        *uint
	RecurrenceID     *uint
	ReceiptRequested bool
	GatewayIntentID  string
}

// Open creates a PENDING donation after validating the target project.
func (s *Service) Open(ctx context.Context, in OpenInput) (*models.Donation, error) {
	_ = ctx
	if !in.Amount.IsPositive() {
		return nil, errors.New("donation amount must be positive")
	}
	if err := s.checkProject(in.ProjectID); err != nil {
		return nil, err
	}

	kind := strings.TrimSpace(in.Kind)
	if kind == "" {
		kind = models.DonationKindOneTime
	}

	d := &models.Donation{
		UUID:             uuid.New().String(),
		UserID:           in.UserID,
		ProjectID:        in.ProjectID,
		RecurrenceID:     in.RecurrenceID,
		DonorEmail:       strings.TrimSpace(in.DonorEmail),
		DonorFirstName:   strings.TrimSpace(in.DonorFirstName),
		DonorLastName:    strings.TrimSpace(in.DonorLastName),
		DonorAddress:     strings.TrimSpace(in.DonorAddress),
		DonorPostalCode:  strings.TrimSpace(in.DonorPostalCode),
		DonorCity:        strings.TrimSpace(in.DonorCity),
		Amount:           in.Amount,
		Kind:             kind,
		Status:           models.DonationStatusPending,
		GatewayIntentID:  strings.TrimSpace(in.GatewayIntentID),
		ReceiptRequested: in.ReceiptRequested,
	}
	if err := s.repo.CreateDonation(d); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenIntent is the donor-facing entry: it opens a payment intent at the
// gateway, then records the matching PENDING donation. The returned client
// secret goes back to the caller for payment confirmation.
type OpenIntentResult struct {
	Donation     *models.Donation
	ClientSecret string
}

func (s *Service) OpenIntent(ctx context.Context, in OpenInput) (*OpenIntentResult, error) {
	if !in.Amount.IsPositive() {
		return nil, errors.New("donation amount must be positive")
	}
	if err := s.checkProject(in.ProjectID); err != nil {
		return nil, err
	}

	meta := map[string]string{
		"donor_email":      in.DonorEmail,
		"donor_first_name": in.DonorFirstName,
		"donor_last_name":  in.DonorLastName,
	}
	intent, err := s.gateway.CreatePaymentIntent(ctx, gateway.PaymentIntentInput{
		AmountCents:  in.Amount.Shift(2).IntPart(),
		Currency:     "eur",
		ReceiptEmail: in.DonorEmail,
		Metadata:     meta,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway intent create failed: %w", err)
	}

	in.GatewayIntentID = intent.ID
	in.Kind = models.DonationKindOneTime
	d, err := s.Open(ctx, in)
	if err != nil {
		return nil, err
	}
	return &OpenIntentResult{Donation: d, ClientSecret: intent.ClientSecret}, nil
}

// Complete moves a PENDING donation to COMPLETED and runs the fund increment
// and receipt allocation in the same transaction. When the donation is no
// longer PENDING the call is a no-op that returns the current state, which
// makes it safe to invoke redundantly from the webhook and admin paths.
func (s *Service) Complete(ctx context.Context, donationID uint, chargeID string, paidAt time.Time) (*models.Donation, error) {
	_ = ctx
	flipped, d, err := s.repo.CompleteDonation(donationID, chargeID, paidAt)
	if err != nil {
		return nil, err
	}
	if !flipped {
		log.Infof("[Ledger] Donation %d already %s, complete is a no-op", donationID, d.Status)
		return d, nil
	}

	if d.UserID != nil {
		if err := s.repo.PromoteDonorRole(*d.UserID); err != nil {
			log.Errorf("[Ledger] Donor role promotion failed for user %d: %v", *d.UserID, err)
		}
	}
	if s.notifier != nil {
		s.notifier.DonationCompleted(d)
	}
	return d, nil
}

// CompleteByIntent resolves the gateway intent reference before completing;
// used by the reconciliation processor.
func (s *Service) CompleteByIntent(ctx context.Context, intentID, chargeID string, paidAt time.Time) (*models.Donation, error) {
	d, err := s.repo.GetDonationByIntentID(intentID)
	if err != nil {
		return nil, err
	}
	return s.Complete(ctx, d.ID, chargeID, paidAt)
}

// RecordRecurringGift creates an already-completed donation for one billing
// cycle of a recurrence. The creation, fund increment and receipt allocation
// share one transaction; there is no PENDING phase because the gateway has
// already collected the money.
func (s *Service) RecordRecurringGift(ctx context.Context, in OpenInput, paidAt time.Time) (*models.Donation, error) {
	_ = ctx
	if !in.Amount.IsPositive() {
		return nil, errors.New("donation amount must be positive")
	}

	d := &models.Donation{
		UUID:             uuid.New().String(),
		UserID:           in.UserID,
		ProjectID:        in.ProjectID,
		RecurrenceID:     in.RecurrenceID,
		Amount:           in.Amount,
		Kind:             models.DonationKindRecurring,
		Status:           models.DonationStatusCompleted,
		GatewayIntentID:  strings.TrimSpace(in.GatewayIntentID),
		ReceiptRequested: in.ReceiptRequested,
		PaidAt:           &paidAt,
	}
	if err := s.repo.CreateCompletedDonation(d); err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.DonationCompleted(d)
	}
	return d, nil
}

// Fail moves a PENDING donation to FAILED; a no-op when already settled.
func (s *Service) Fail(ctx context.Context, donationID uint) (*models.Donation, error) {
	_ = ctx
	flipped, d, err := s.repo.TransitionFromPending(donationID, models.DonationStatusFailed)
	if err != nil {
		return nil, err
	}
	if flipped && s.notifier != nil {
		s.notifier.DonationFailed(d)
	}
	return d, nil
}

// FailByIntent resolves the gateway intent reference before failing.
func (s *Service) FailByIntent(ctx context.Context, intentID string) (*models.Donation, error) {
	d, err := s.repo.GetDonationByIntentID(intentID)
	if err != nil {
		return nil, err
	}
	return s.Fail(ctx, d.ID)
}

// Cancel moves a PENDING donation to CANCELED (admin rejection or donor
// abandon); a no-op when already settled.
func (s *Service) Cancel(ctx context.Context, donationID uint) (*models.Donation, error) {
	_ = ctx
	_, d, err := s.repo.TransitionFromPending(donationID, models.DonationStatusCanceled)
	return d, err
}

// Refund moves a COMPLETED donation to REFUNDED and cancels its receipt.
// The project fund counter is deliberately not decremented: collected
// amounts report gross raised funds.
func (s *Service) Refund(ctx context.Context, donationID uint) (*models.Donation, error) {
	_ = ctx
	flipped, d, err := s.repo.RefundDonation(donationID)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, fmt.Errorf("%w: cannot refund donation in status %s", ErrIllegalTransition, d.Status)
	}
	return d, nil
}

// RefundByCharge resolves the gateway charge reference before refunding.
// A refund notification for an already refunded donation is a no-op.
func (s *Service) RefundByCharge(ctx context.Context, chargeID string) (*models.Donation, error) {
	d, err := s.repo.GetDonationByChargeID(chargeID)
	if err != nil {
		return nil, err
	}
	if d.Status == models.DonationStatusRefunded {
		return d, nil
	}
	return s.Refund(ctx, d.ID)
}

// Get returns one donation by its public identifier.
func (s *Service) Get(ctx context.Context, donationUUID string) (*models.Donation, error) {
	_ = ctx
	return s.repo.GetDonationByUUID(donationUUID)
}

// GetByIntent returns one donation by its gateway intent reference.
func (s *Service) GetByIntent(ctx context.Context, intentID string) (*models.Donation, error) {
	_ = ctx
	return s.repo.GetDonationByIntentID(intentID)
}

// ListMine returns a donor's donations, newest first.
func (s *Service) ListMine(ctx context.Context, userID uint, offset, limit int) ([]models.Donation, int64, error) {
	_ = ctx
	return s.repo.ListDonationsByUser(userID, offset, limit)
}

// List returns all donations, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, offset, limit int) ([]models.Donation, int64, error) {
	_ = ctx
	return s.repo.ListDonations(status, offset, limit)
}

// GetStats returns completed-donation totals and monthly buckets.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	_ = ctx
	return s.repo.DonationStats()
}

func (s *Service) checkProject(projectID *uint) error {
	if projectID == nil {
		return nil
	}
	p, err := s.repo.GetProject(*projectID)
	if err != nil {
		return ErrInvalidProject
	}
	if !p.IsAcceptingFunds() {
		return ErrInvalidProject
	}
	return nil
}
