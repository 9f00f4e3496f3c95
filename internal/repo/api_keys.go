package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

const apiKeyColumns = `id, user_id, name, permissions_json, key_hash, last_used_at, created_at`

func scanAPIKey(row rowScanner) (domain.APIKey, error) {
	var key domain.APIKey
	var perms string
	var lastUsed sql.NullString
	err := row.Scan(&key.ID, &key.UserID, &key.Name, &perms, &key.KeyHash, &lastUsed, &key.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, err
	}
	if err := json.Unmarshal([]byte(perms), &key.Permissions); err != nil {
		return domain.APIKey{}, fmt.Errorf("api key %s permissions: %w", key.ID, err)
	}
	key.LastUsedAt = nullStringPtr(lastUsed)
	return key, nil
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.UserID == "" {
		return errors.New("user_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	perms, err := json.Marshal(key.Permissions)
	if err != nil {
		return err
	}
	_, err = r.DB.Conn().ExecContext(ctx, `INSERT INTO api_keys(id, user_id, name, permissions_json, key_hash, created_at) VALUES (?,?,?,?,?,?)`,
		key.ID, key.UserID, key.Name, string(perms), key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKey returns a key by its public id regardless of owner. Only the
// credential lookup path uses it; it never leaves the auth package.
func (r Repo) GetAPIKey(ctx context.Context, id string) (domain.APIKey, error) {
	return scanAPIKey(r.DB.Conn().QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id=?`, id))
}

// ListAPIKeys returns a user's API keys, newest first.
func (r Repo) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnscoped
	}
	rows, err := r.DB.Conn().QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// CountAPIKeys returns how many keys a user holds.
func (r Repo) CountAPIKeys(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE user_id=?`, userID).Scan(&n)
	return n, err
}

// DeleteAPIKey deletes a key owned by userID.
func (r Repo) DeleteAPIKey(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	if strings.TrimSpace(userID) == "" {
		return ErrUnscoped
	}
	res, err := r.DB.Conn().ExecContext(ctx, `DELETE FROM api_keys WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKey records a successful use.
func (r Repo) TouchAPIKey(ctx context.Context, id, ts string) error {
	_, err := r.DB.Conn().ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, ts, id)
	return err
}
