package gateway

import (
	"context"
	"errors"
)

// ErrInvalidSignature is returned by VerifyEvent when the inbound payload is
// not authenticated by the provider's signature scheme.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// EventKind is the closed set of gateway notification kinds this system
// reacts to. Anything else classifies as EventUnknown and is ignored by the
// reconciliation processor.
type EventKind string

const (
	EventPaymentSucceeded        EventKind = "payment_succeeded"
	EventPaymentFailed           EventKind = "payment_failed"
	EventChargeRefunded          EventKind = "charge_refunded"
	EventSubscriptionCreated     EventKind = "subscription_created"
	EventSubscriptionUpdated     EventKind = "subscription_updated"
	EventSubscriptionDeleted     EventKind = "subscription_deleted"
	EventInvoicePaymentSucceeded EventKind = "invoice_payment_succeeded"
	EventInvoicePaymentFailed    EventKind = "invoice_payment_failed"
	EventUnknown                 EventKind = "unknown"
)

// Event is a verified, classified gateway notification. Only the fields
// relevant to the event's kind are populated.
type Event struct {
	ID   string
	Type string
	Kind EventKind

	IntentID           string
	ChargeID           string
	SubscriptionID     string
	SubscriptionStatus string
	InvoiceID          string

	Payload []byte
}

// PaymentIntentInput describes a one-time charge to open at the provider.
// Amounts are minor units (cents).
type PaymentIntentInput struct {
	AmountCents  int64
	Currency     string
	ReceiptEmail string
	Metadata     map[string]string
}

// PaymentIntent is the provider handle for an opened charge. ClientSecret is
// handed to the donor-facing client for confirmation.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// SubscriptionInput describes a recurring charge to set up at the provider.
type SubscriptionInput struct {
	CustomerID  string
	AmountCents int64
	Currency    string
	Frequency   string
	Metadata    map[string]string
}

// Subscription is the provider handle for a created subscription.
type Subscription struct {
	ID           string
	ClientSecret string
}

// Client is the thin adapter to the external payment provider. All local
// persistence decisions stay with the callers; a Client only talks to the
// provider and classifies its notifications.
type Client interface {
	CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*PaymentIntent, error)
	EnsureCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	CreateSubscription(ctx context.Context, in SubscriptionInput) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	PauseSubscription(ctx context.Context, subscriptionID string) error
	ResumeSubscription(ctx context.Context, subscriptionID string) error
	VerifyEvent(payload []byte, signatureHeader string) (*Event, error)
}
