package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"taskboard/internal/domain"
	"taskboard/internal/metrics"
	"taskboard/internal/repo"
)

var (
	// ErrNotConfigured means no payment provider credentials were supplied.
	ErrNotConfigured = errors.New("billing not configured")
	// ErrBadSignature rejects webhook payloads that fail verification.
	ErrBadSignature = errors.New("invalid webhook signature")
)

type CheckoutRequest struct {
	UserID     string
	Email      string
	CustomerID string
	SuccessURL string
	CancelURL  string
}

// Event is a verified provider notification reduced to what changes a
// user's plan. Ignored events have an empty Plan.
type Event struct {
	ID         string
	Type       string
	UserID     string
	CustomerID string
	Plan       domain.Plan
}

// Provider is the payment provider port.
type Provider interface {
	CheckoutURL(ctx context.Context, req CheckoutRequest) (string, error)
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
	ParseEvent(payload []byte, signature string) (Event, error)
}

// Service links users to the provider and applies plan changes.
type Service struct {
	Provider Provider
	Repo     repo.Repo
	SiteURL  string
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func (s Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Service) url(path string) string {
	return strings.TrimRight(s.SiteURL, "/") + path
}

// Checkout returns a hosted checkout URL for upgrading userID.
func (s Service) Checkout(ctx context.Context, userID string) (string, error) {
	if s.Provider == nil {
		return "", ErrNotConfigured
	}
	user, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.Plan == domain.PlanPro {
		return "", domain.ValidationError{Field: "plan", Reason: "already on the pro plan"}
	}
	return s.Provider.CheckoutURL(ctx, CheckoutRequest{
		UserID:     user.ID,
		Email:      user.Email,
		CustomerID: user.BillingCustomerID,
		SuccessURL: s.url("/billing?checkout=success"),
		CancelURL:  s.url("/billing?checkout=cancel"),
	})
}

// Portal returns a billing portal URL for a user with a provider account.
func (s Service) Portal(ctx context.Context, userID string) (string, error) {
	if s.Provider == nil {
		return "", ErrNotConfigured
	}
	user, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.BillingCustomerID == "" {
		return "", domain.ValidationError{Field: "billing", Reason: "no billing account; start a checkout first"}
	}
	return s.Provider.PortalURL(ctx, user.BillingCustomerID, s.url("/billing"))
}

// HandleWebhook verifies payload and applies the plan change it carries.
// Events for unknown customers are acknowledged and logged.
func (s Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.Provider == nil {
		return ErrNotConfigured
	}
	ev, err := s.Provider.ParseEvent(payload, signature)
	if err != nil {
		return err
	}
	s.Metrics.BillingEvent(ev.Type)
	if ev.Plan == "" {
		return nil
	}
	userID := ev.UserID
	if userID == "" {
		if ev.CustomerID == "" {
			return nil
		}
		user, err := s.Repo.GetUserByBillingCustomer(ctx, ev.CustomerID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				s.logger().Warn("billing event for unknown customer", "event", ev.ID, "customer", ev.CustomerID)
				return nil
			}
			return err
		}
		userID = user.ID
	}
	if err := s.Repo.SetPlan(ctx, userID, ev.Plan, ev.CustomerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger().Warn("billing event for unknown user", "event", ev.ID, "user", userID)
			return nil
		}
		return fmt.Errorf("apply plan: %w", err)
	}
	s.logger().Info("plan changed", "user", userID, "plan", ev.Plan, "event", ev.Type)
	return nil
}
