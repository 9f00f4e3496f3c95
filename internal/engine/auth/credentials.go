package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// KeyPrefix starts every plaintext API key: tb_<key id>_<secret>.
const KeyPrefix = "tb_"

const (
	secretBytes   = 32
	maxKeyName    = 100
	touchDeadline = 5 * time.Second
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// zeroHash is compared against when the key id is unknown so the miss path
// does the same hashing work as the hit path.
var zeroHash = strings.Repeat("0", 64)

// CredentialStore issues, revokes and resolves agent API keys. Only the
// SHA-256 of a key is persisted.
type CredentialStore struct {
	Repo   repo.Repo
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time

	touches sync.WaitGroup
}

func NewCredentialStore(r repo.Repo, cfg *config.Config, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{Repo: r, Config: cfg, Logger: logger, Now: time.Now}
}

func (s *CredentialStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create generates a key for userID and returns the stored record together
// with the plaintext, which is not recoverable afterwards.
func (s *CredentialStore) Create(ctx context.Context, userID, name string, perms domain.Permissions) (domain.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.APIKey{}, "", domain.ValidationError{Field: "name", Reason: "name is required"}
	}
	if len(name) > maxKeyName {
		return domain.APIKey{}, "", domain.ValidationError{Field: "name", Reason: fmt.Sprintf("name must be at most %d characters", maxKeyName)}
	}
	if perms.Write {
		perms.Read = true
	}
	if !perms.Read {
		return domain.APIKey{}, "", domain.ValidationError{Field: "permissions", Reason: "at least read permission is required"}
	}
	if err := s.checkPlanLimit(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	id := domain.NewShortID()
	plaintext := KeyPrefix + id + "_" + strings.ToLower(secretEncoding.EncodeToString(raw))
	key := domain.APIKey{
		ID:          id,
		UserID:      userID,
		Name:        name,
		Permissions: perms,
		KeyHash:     repo.HashAPIKey(plaintext),
		CreatedAt:   domain.FormatTime(s.now()),
	}
	if err := s.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

func (s *CredentialStore) checkPlanLimit(ctx context.Context, userID string) error {
	if s.Config == nil {
		return nil
	}
	user, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	limit := s.Config.Limit(user.Plan).MaxAPIKeys
	if limit <= 0 {
		return nil
	}
	n, err := s.Repo.CountAPIKeys(ctx, userID)
	if err != nil {
		return err
	}
	if n >= limit {
		return ForbiddenError{Capability: CapManage, Reason: fmt.Sprintf("plan %s allows at most %d api keys", user.Plan, limit)}
	}
	return nil
}

// Revoke deletes keyID if userID owns it. The key stops resolving
// immediately since Lookup always reads the row.
func (s *CredentialStore) Revoke(ctx context.Context, userID, keyID string) error {
	return s.Repo.DeleteAPIKey(ctx, userID, keyID)
}

func (s *CredentialStore) List(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return s.Repo.ListAPIKeys(ctx, userID)
}

// Lookup resolves a presented plaintext key. The hash comparison is constant
// time; malformed, unknown and mismatching keys all return repo.ErrNotFound.
// A hit schedules a best-effort last_used_at update.
func (s *CredentialStore) Lookup(ctx context.Context, presented string) (domain.APIKey, error) {
	presented = strings.TrimSpace(presented)
	id, ok := parseKeyID(presented)
	if !ok {
		return domain.APIKey{}, repo.ErrNotFound
	}
	key, err := s.Repo.GetAPIKey(ctx, id)
	stored := key.KeyHash
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.APIKey{}, err
		}
		stored = zeroHash
	}
	match := subtle.ConstantTimeCompare([]byte(repo.HashAPIKey(presented)), []byte(stored)) == 1
	if err != nil || !match {
		return domain.APIKey{}, repo.ErrNotFound
	}
	s.touch(key.ID)
	return key, nil
}

func (s *CredentialStore) touch(id string) {
	ts := domain.FormatTime(s.now())
	s.touches.Add(1)
	go func() {
		defer s.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), touchDeadline)
		defer cancel()
		if err := s.Repo.TouchAPIKey(ctx, id, ts); err != nil {
			s.Logger.Warn("update api key last_used_at failed", "key_id", id, "err", err)
		}
	}()
}

// Wait blocks until pending last_used_at updates finish.
func (s *CredentialStore) Wait() {
	s.touches.Wait()
}

func parseKeyID(presented string) (string, bool) {
	if !strings.HasPrefix(presented, KeyPrefix) {
		return "", false
	}
	rest := presented[len(KeyPrefix):]
	id, secret, ok := strings.Cut(rest, "_")
	if !ok || id == "" || secret == "" {
		return "", false
	}
	return id, true
}

// LooksLikeAPIKey reports whether token has the API key shape.
func LooksLikeAPIKey(token string) bool {
	_, ok := parseKeyID(strings.TrimSpace(token))
	return ok
}
