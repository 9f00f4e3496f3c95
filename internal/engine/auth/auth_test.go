package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

type fixture struct {
	repo    repo.Repo
	store   *auth.CredentialStore
	authn   auth.Authenticator
	session auth.Sessions
}

func newFixture(t *testing.T, users ...string) fixture {
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
	for _, id := range users {
		u := domain.User{ID: id, Email: id + "@example.com", PasswordHash: "x", CreatedAt: domain.FormatTime(time.Now())}
		if err := r.InsertUser(context.Background(), u); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	store := auth.NewCredentialStore(r, config.Default(), nil)
	t.Cleanup(store.Wait)
	sessions := auth.Sessions{Secret: []byte("test-secret")}
	return fixture{
		repo:    r,
		store:   store,
		session: sessions,
		authn:   auth.Authenticator{Credentials: store, Sessions: sessions, Users: r},
	}
}

func TestCreateStoresOnlyHash(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	key, plaintext, err := f.store.Create(ctx, "u1", "ci agent", domain.Permissions{Write: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(plaintext, auth.KeyPrefix+key.ID+"_") {
		t.Fatalf("unexpected key shape %q", plaintext)
	}
	if key.KeyHash == plaintext || strings.Contains(key.KeyHash, key.ID) {
		t.Fatalf("plaintext leaked into hash")
	}
	if !key.Permissions.Read {
		t.Fatalf("write should imply read")
	}
	stored, err := f.repo.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.KeyHash != repo.HashAPIKey(plaintext) {
		t.Fatalf("stored hash mismatch")
	}
}

func TestCreateValidates(t *testing.T) {
	f := newFixture(t, "u1")
	var verr domain.ValidationError
	if _, _, err := f.store.Create(context.Background(), "u1", "  ", domain.Permissions{Read: true}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, _, err := f.store.Create(context.Background(), "u1", "k", domain.Permissions{}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for empty permissions, got %v", err)
	}
}

func TestCreateEnforcesPlanLimit(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, _, err := f.store.Create(ctx, "u1", "k", domain.Permissions{Read: true}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	_, _, err := f.store.Create(ctx, "u1", "k3", domain.Permissions{Read: true})
	var ferr auth.ForbiddenError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden on free plan limit, got %v", err)
	}
	if err := f.repo.SetPlan(ctx, "u1", domain.PlanPro, ""); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if _, _, err := f.store.Create(ctx, "u1", "k3", domain.Permissions{Read: true}); err != nil {
		t.Fatalf("pro plan create: %v", err)
	}
}

func TestLookupRejectsWrongSecret(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	key, plaintext, err := f.store.Create(ctx, "u1", "k", domain.Permissions{Read: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tampered := plaintext[:len(plaintext)-1] + "a"
	if tampered == plaintext {
		tampered = plaintext[:len(plaintext)-1] + "b"
	}
	for _, presented := range []string{tampered, "tb_" + key.ID, "nope", "", "tb_unknownid00_secret"} {
		if _, err := f.store.Lookup(ctx, presented); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("lookup %q: expected not found, got %v", presented, err)
		}
	}
	got, err := f.store.Lookup(ctx, plaintext)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != key.ID {
		t.Fatalf("resolved wrong key %s", got.ID)
	}
}

func TestLookupTouchesLastUsed(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.store.Now = func() time.Time { return fixed }
	_, plaintext, err := f.store.Create(ctx, "u1", "k", domain.Permissions{Read: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.store.Lookup(ctx, plaintext); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	f.store.Wait()
	keys, err := f.store.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0].LastUsedAt == nil || *keys[0].LastUsedAt != domain.FormatTime(fixed) {
		t.Fatalf("last_used_at not recorded: %+v", keys)
	}
}

func TestRevokeIsOwnerScopedAndImmediate(t *testing.T) {
	f := newFixture(t, "u1", "u2")
	ctx := context.Background()
	key, plaintext, err := f.store.Create(ctx, "u1", "k", domain.Permissions{Write: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.store.Revoke(ctx, "u2", key.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign revoke: expected not found, got %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	if _, err := f.authn.Authenticate(req); err != nil {
		t.Fatalf("authenticate before revoke: %v", err)
	}
	if err := f.store.Revoke(ctx, "u1", key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := f.authn.Authenticate(req); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected unauthorized after revoke, got %v", err)
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	f := newFixture(t, "u1")
	key, plaintext, err := f.store.Create(context.Background(), "u1", "builder", domain.Permissions{Read: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set(auth.HeaderAPIKey, plaintext)
	id, err := f.authn.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != "u1" || id.Actor != "builder" || id.Source != auth.SourceAPIKey || id.KeyID != key.ID {
		t.Fatalf("unexpected identity %+v", id)
	}
	if err := auth.RequireCapability(id, auth.CapRead); err != nil {
		t.Fatalf("read should be allowed: %v", err)
	}
	var ferr auth.ForbiddenError
	if err := auth.RequireCapability(id, auth.CapWrite); !errors.As(err, &ferr) {
		t.Fatalf("read-only key should not write, got %v", err)
	}
	if err := auth.RequireSession(id); !errors.As(err, &ferr) {
		t.Fatalf("api key should not manage, got %v", err)
	}

	req.Header.Set(auth.HeaderAgentID, "worker-7")
	id, err = f.authn.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.Actor != "worker-7" {
		t.Fatalf("agent header ignored: %q", id.Actor)
	}
}

func TestAuthenticateSession(t *testing.T) {
	f := newFixture(t, "u1")
	token, _, err := f.session.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/keys", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	id, err := f.authn.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.Source != auth.SourceSession || id.Actor != "u1@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if err := auth.RequireSession(id); err != nil {
		t.Fatalf("session should manage: %v", err)
	}

	bearer := httptest.NewRequest(http.MethodGet, "/api/keys", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)
	if _, err := f.authn.Authenticate(bearer); err != nil {
		t.Fatalf("bearer session: %v", err)
	}
}

func TestAuthenticateRejectsMissingAndBadCredentials(t *testing.T) {
	f := newFixture(t, "u1")
	cases := map[string]func(r *http.Request){
		"none":       func(r *http.Request) {},
		"bad key":    func(r *http.Request) { r.Header.Set("Authorization", "Bearer tb_abc_def") },
		"bad cookie": func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "junk"}) },
		"basic":      func(r *http.Request) { r.Header.Set("Authorization", "Basic dTE6cHc=") },
	}
	for name, setup := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		setup(req)
		if _, err := f.authn.Authenticate(req); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
	}
	other := auth.Sessions{Secret: []byte("other")}
	token, _, err := other.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	if _, err := f.authn.Authenticate(req); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("foreign signature: expected unauthorized, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := auth.Sessions{Secret: []byte("k"), TTL: time.Hour, Now: func() time.Time { return now }}
	token, expires, err := s.Issue("u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expires.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", expires)
	}
	if sub, err := s.Parse(token); err != nil || sub != "u1" {
		t.Fatalf("parse: %q %v", sub, err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := s.Parse(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRequireCapabilityNeedsIdentity(t *testing.T) {
	if err := auth.RequireCapability(auth.Identity{}, auth.CapRead); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
