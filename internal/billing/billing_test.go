package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	if err := r.InsertUser(context.Background(), domain.User{ID: "u1", Email: "u1@example.com", PasswordHash: "x", CreatedAt: "2024-01-01T00:00:00.000000Z"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return r
}

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeParseEventVerifiesSignature(t *testing.T) {
	s := NewStripe("sk_test_x", "whsec_test", "price_1")
	payload := []byte(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"checkout.session.completed",
"data":{"object":{"id":"cs_1","object":"checkout.session","mode":"subscription","client_reference_id":"u1","customer":"cus_9"}}}`)

	ev, err := s.ParseEvent(payload, sign(payload, "whsec_test", time.Now()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Plan != domain.PlanPro || ev.UserID != "u1" || ev.CustomerID != "cus_9" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if _, err := s.ParseEvent(payload, sign(payload, "whsec_other", time.Now())); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected bad signature, got %v", err)
	}
	if _, err := s.ParseEvent(payload, sign(payload, "whsec_test", time.Now().Add(-time.Hour))); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected stale signature to be rejected, got %v", err)
	}
}

func TestStripeSubscriptionEvents(t *testing.T) {
	s := NewStripe("sk_test_x", "whsec_test", "price_1")
	cases := []struct {
		typ, status string
		plan        domain.Plan
	}{
		{"customer.subscription.updated", "active", domain.PlanPro},
		{"customer.subscription.updated", "past_due", domain.PlanFree},
		{"customer.subscription.deleted", "canceled", domain.PlanFree},
		{"invoice.paid", "", ""},
	}
	for _, tc := range cases {
		payload := []byte(fmt.Sprintf(`{"id":"evt_2","object":"event","type":%q,"data":{"object":{"id":"sub_1","object":"subscription","status":%q,"customer":"cus_9"}}}`, tc.typ, tc.status))
		ev, err := s.ParseEvent(payload, sign(payload, "whsec_test", time.Now()))
		if err != nil {
			t.Fatalf("%s: %v", tc.typ, err)
		}
		if ev.Plan != tc.plan {
			t.Fatalf("%s/%s: plan %q, want %q", tc.typ, tc.status, ev.Plan, tc.plan)
		}
	}
}

func TestHandleWebhookAppliesPlan(t *testing.T) {
	r := newRepo(t)
	fake := &Fake{Secret: "sig"}
	svc := Service{Provider: fake, Repo: r, SiteURL: "https://tasks.example.com"}
	ctx := context.Background()

	if err := svc.HandleWebhook(ctx, []byte(`{"Type":"checkout.session.completed","UserID":"u1","CustomerID":"cus_1","Plan":"pro"}`), "nope"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected bad signature, got %v", err)
	}
	if err := svc.HandleWebhook(ctx, []byte(`{"Type":"checkout.session.completed","UserID":"u1","CustomerID":"cus_1","Plan":"pro"}`), "sig"); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	u, _ := r.GetUser(ctx, "u1")
	if u.Plan != domain.PlanPro || u.BillingCustomerID != "cus_1" {
		t.Fatalf("plan not applied: %+v", u)
	}
	if err := svc.HandleWebhook(ctx, []byte(`{"Type":"customer.subscription.deleted","CustomerID":"cus_1","Plan":"free"}`), "sig"); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	u, _ = r.GetUser(ctx, "u1")
	if u.Plan != domain.PlanFree {
		t.Fatalf("downgrade not applied: %+v", u)
	}
	if err := svc.HandleWebhook(ctx, []byte(`{"Type":"customer.subscription.deleted","CustomerID":"cus_unknown","Plan":"free"}`), "sig"); err != nil {
		t.Fatalf("unknown customer should be acknowledged: %v", err)
	}
}

func TestCheckoutAndPortal(t *testing.T) {
	r := newRepo(t)
	fake := &Fake{}
	svc := Service{Provider: fake, Repo: r, SiteURL: "https://tasks.example.com/"}
	ctx := context.Background()

	var verr domain.ValidationError
	if _, err := svc.Portal(ctx, "u1"); !errors.As(err, &verr) {
		t.Fatalf("portal without customer: expected validation error, got %v", err)
	}
	url, err := svc.Checkout(ctx, "u1")
	if err != nil || url == "" {
		t.Fatalf("checkout: %q %v", url, err)
	}
	if got := fake.Checkouts[0]; got.Email != "u1@example.com" || got.SuccessURL != "https://tasks.example.com/billing?checkout=success" {
		t.Fatalf("unexpected checkout request %+v", got)
	}
	if err := r.SetPlan(ctx, "u1", domain.PlanPro, "cus_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Checkout(ctx, "u1"); !errors.As(err, &verr) {
		t.Fatalf("pro user checkout: expected validation error, got %v", err)
	}
	if url, err := svc.Portal(ctx, "u1"); err != nil || url != "https://pay.example.com/portal/cus_1" {
		t.Fatalf("portal: %q %v", url, err)
	}
	if _, err := (Service{Repo: r}).Checkout(ctx, "u1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}
