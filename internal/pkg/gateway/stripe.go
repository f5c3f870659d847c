package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/nsem-asso/backoffice/internal/pkg/env"
)

// StripeClient implements Client against the Stripe API.
type StripeClient struct {
	api           *client.API
	webhookSecret string
}

// NewStripeClientFromEnv builds a Stripe client from STRIPE_SECRET_KEY and
// STRIPE_WEBHOOK_SECRET.
func NewStripeClientFromEnv() (*StripeClient, error) {
	key := strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	if key == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	api := &client.API{}
	api.Init(key, nil)
	return &StripeClient{
		api:           api,
		webhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
	}, nil
}

func (c *StripeClient) CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(in.AmountCents),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if in.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(in.ReceiptEmail)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe payment intent create failed: %w", err)
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (c *StripeClient) EnsureCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
		Name:   stripe.String(name),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	cust, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe customer create failed: %w", err)
	}
	return cust.ID, nil
}

func (c *StripeClient) CreateSubscription(ctx context.Context, in SubscriptionInput) (*Subscription, error) {
	interval, intervalCount := stripeInterval(in.Frequency)

	price, err := c.api.Prices.New(&stripe.PriceParams{
		Params:     stripe.Params{Context: ctx},
		UnitAmount: stripe.Int64(in.AmountCents),
		Currency:   stripe.String(in.Currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(interval),
			IntervalCount: stripe.Int64(intervalCount),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(fmt.Sprintf("Don recurrent %.2f EUR", float64(in.AmountCents)/100)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("stripe price create failed: %w", err)
	}

	params := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(price.ID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.AddExpand("latest_invoice.payment_intent")
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe subscription create failed: %w", err)
	}

	clientSecret := ""
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		clientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return &Subscription{ID: sub.ID, ClientSecret: clientSecret}, nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_, err := c.api.Subscriptions.Cancel(subscriptionID, &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return fmt.Errorf("stripe subscription cancel failed: %w", err)
	}
	return nil
}

// PauseSubscription stops further billing by flagging the subscription to
// cancel at period end; Stripe has no first-class pause for this flow.
func (c *StripeClient) PauseSubscription(ctx context.Context, subscriptionID string) error {
	return c.setCancelAtPeriodEnd(ctx, subscriptionID, true)
}

func (c *StripeClient) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	return c.setCancelAtPeriodEnd(ctx, subscriptionID, false)
}

func (c *StripeClient) setCancelAtPeriodEnd(ctx context.Context, subscriptionID string, v bool) error {
	_, err := c.api.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(v),
	})
	if err != nil {
		return fmt.Errorf("stripe subscription update failed: %w", err)
	}
	return nil
}

// VerifyEvent authenticates an inbound webhook payload against the signing
// secret and classifies it into the closed Event union.
func (c *StripeClient) VerifyEvent(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEvent(payload, signatureHeader, c.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return classifyStripeEvent(ev.ID, string(ev.Type), ev.Data.Raw), nil
}

func stripeInterval(frequency string) (string, int64) {
	switch frequency {
	case "QUARTERLY":
		// Stripe only knows month/year intervals, so quarterly = 3 months.
		return "month", 3
	case "YEARLY":
		return "year", 1
	default:
		return "month", 1
	}
}

func classifyStripeEvent(id, eventType string, raw json.RawMessage) *Event {
	out := &Event{ID: id, Type: eventType, Kind: EventUnknown, Payload: raw}

	switch eventType {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return out
		}
		out.IntentID = pi.ID
		if pi.LatestCharge != nil {
			out.ChargeID = pi.LatestCharge.ID
		}
		if eventType == "payment_intent.succeeded" {
			out.Kind = EventPaymentSucceeded
		} else {
			out.Kind = EventPaymentFailed
		}

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return out
		}
		out.Kind = EventChargeRefunded
		out.ChargeID = ch.ID
		if ch.PaymentIntent != nil {
			out.IntentID = ch.PaymentIntent.ID
		}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return out
		}
		out.SubscriptionID = sub.ID
		out.SubscriptionStatus = string(sub.Status)
		switch eventType {
		case "customer.subscription.created":
			out.Kind = EventSubscriptionCreated
		case "customer.subscription.updated":
			out.Kind = EventSubscriptionUpdated
		default:
			out.Kind = EventSubscriptionDeleted
		}

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return out
		}
		out.InvoiceID = inv.ID
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
		if eventType == "invoice.payment_succeeded" {
			out.Kind = EventInvoicePaymentSucceeded
		} else {
			out.Kind = EventInvoicePaymentFailed
		}
	}

	return out
}
