package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/nsem-asso/backoffice/app/models"
	"github.com/nsem-asso/backoffice/internal/pkg/gateway"
	"github.com/nsem-asso/backoffice/internal/pkg/ledger"
	"github.com/nsem-asso/backoffice/internal/pkg/recurrence"
)

// Repository persists the idempotency guard rows for inbound events.
type Repository interface {
	CreateEventIfNotExists(ev *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Processor is the single reconciliation path for gateway notifications.
// Events may arrive duplicated and out of order; every dispatch target is
// individually idempotent, and the unique event-id insert guarantees
// at-most-once processing per delivery id.
type Processor struct {
	repo        Repository
	gateway     gateway.Client
	ledger      *ledger.Service
	recurrences *recurrence.Service
}

func NewProcessor(repo Repository, gw gateway.Client, ledgerSvc *ledger.Service, recurrenceSvc *recurrence.Service) *Processor {
	return &Processor{repo: repo, gateway: gw, ledger: ledgerSvc, recurrences: recurrenceSvc}
}

// Result tells the transport layer how the event was handled.
type Result struct {
	Duplicate bool
	Ignored   bool
}

// Process verifies, records and dispatches one raw gateway delivery.
// Signature failures return gateway.ErrInvalidSignature before anything is
// persisted. A duplicate event id returns success without reprocessing.
// A handler failure is recorded on the event row and returned so the
// transport can answer non-2xx and let the gateway retry.
func (p *Processor) Process(ctx context.Context, payload []byte, signatureHeader string) (*Result, error) {
	ev, err := p.gateway.VerifyEvent(payload, signatureHeader)
	if err != nil {
		return nil, err
	}

	created, stored, err := p.repo.CreateEventIfNotExists(&models.WebhookEvent{
		Provider:        models.GatewayProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		log.Infof("[Webhook] Duplicate event %s, skipping", ev.ID)
		return &Result{Duplicate: true}, nil
	}

	result, dispatchErr := p.dispatch(ctx, ev)

	errMsg := ""
	if dispatchErr != nil {
		errMsg = dispatchErr.Error()
	}
	if err := p.repo.MarkProcessed(stored.ID, errMsg); err != nil {
		log.Errorf("[Webhook] Failed to mark event %s processed: %v", ev.ID, err)
	}
	if dispatchErr != nil {
		log.Errorf("[Webhook] Event %s (%s) failed: %v", ev.ID, ev.Type, dispatchErr)
		return nil, dispatchErr
	}
	return result, nil
}

func (p *Processor) dispatch(ctx context.Context, ev *gateway.Event) (*Result, error) {
	switch ev.Kind {
	case gateway.EventPaymentSucceeded:
		return p.tolerateUnknownRef(ev, func() error {
			_, err := p.ledger.CompleteByIntent(ctx, ev.IntentID, ev.ChargeID, time.Now())
			return err
		})

	case gateway.EventPaymentFailed:
		return p.tolerateUnknownRef(ev, func() error {
			_, err := p.ledger.FailByIntent(ctx, ev.IntentID)
			return err
		})

	case gateway.EventChargeRefunded:
		return p.tolerateUnknownRef(ev, func() error {
			_, err := p.ledger.RefundByCharge(ctx, ev.ChargeID)
			return err
		})

	case gateway.EventSubscriptionCreated, gateway.EventSubscriptionUpdated:
		return &Result{}, p.recurrences.ApplyGatewayStatus(ctx, ev.SubscriptionID, ev.SubscriptionStatus)

	case gateway.EventSubscriptionDeleted:
		return &Result{}, p.recurrences.OnSubscriptionDeleted(ctx, ev.SubscriptionID)

	case gateway.EventInvoicePaymentSucceeded:
		if ev.SubscriptionID == "" {
			// One-off invoices have no subscription and no local meaning.
			return &Result{Ignored: true}, nil
		}
		return &Result{}, p.recurrences.OnBillingCycleSucceeded(ctx, ev.SubscriptionID, ev.InvoiceID)

	case gateway.EventInvoicePaymentFailed:
		if ev.SubscriptionID == "" {
			return &Result{Ignored: true}, nil
		}
		return &Result{}, p.recurrences.OnBillingCycleFailed(ctx, ev.SubscriptionID)

	default:
		// Forward compatibility: new gateway event types must never fail
		// the receiver.
		log.Infof("[Webhook] Unhandled event type %s, ignoring", ev.Type)
		return &Result{Ignored: true}, nil
	}
}

// tolerateUnknownRef runs a payment handler and downgrades "no local row for
// this gateway ref" to a logged no-op. The gateway can notify about objects
// this system never opened (dashboard tests, out-of-band charges).
func (p *Processor) tolerateUnknownRef(ev *gateway.Event, fn func() error) (*Result, error) {
	if err := fn(); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Webhook] No local record for event %s (%s), ignoring", ev.ID, ev.Type)
			return &Result{Ignored: true}, nil
		}
		return nil, err
	}
	return &Result{}, nil
}
