package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"taskboard/internal/domain"
)

// Stripe implements Provider with hosted Checkout and the billing portal.
type Stripe struct {
	api           *client.API
	webhookSecret string
	priceID       string
}

func NewStripe(secretKey, webhookSecret, priceID string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Stripe{api: api, webhookSecret: webhookSecret, priceID: priceID}
}

func (s *Stripe) CheckoutURL(ctx context.Context, req CheckoutRequest) (string, error) {
	if s.priceID == "" {
		return "", fmt.Errorf("%w: price id missing", ErrNotConfigured)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.priceID), Quantity: stripe.Int64(1)},
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *Stripe) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

func (s *Stripe) ParseEvent(payload []byte, signature string) (Event, error) {
	if s.webhookSecret == "" {
		return Event{}, fmt.Errorf("%w: webhook secret missing", ErrNotConfigured)
	}
	raw, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return translate(raw)
}

func translate(raw stripe.Event) (Event, error) {
	ev := Event{ID: raw.ID, Type: string(raw.Type)}
	switch raw.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &sess); err != nil {
			return ev, fmt.Errorf("decode checkout session: %w", err)
		}
		if sess.Mode != stripe.CheckoutSessionModeSubscription {
			return ev, nil
		}
		ev.UserID = sess.ClientReferenceID
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		ev.Plan = domain.PlanPro
	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
			return ev, fmt.Errorf("decode subscription: %w", err)
		}
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		ev.Plan = domain.PlanFree
		if raw.Type == "customer.subscription.updated" &&
			(sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing) {
			ev.Plan = domain.PlanPro
		}
	}
	return ev, nil
}
