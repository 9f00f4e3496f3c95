package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie names the browser session cookie.
const SessionCookie = "tb_session"

const defaultSessionTTL = 7 * 24 * time.Hour

// Sessions signs and verifies browser session tokens (HS256 JWTs).
type Sessions struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (s Sessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue returns a signed token for userID and its expiry.
func (s Sessions) Issue(userID string) (string, time.Time, error) {
	if len(s.Secret) == 0 {
		return "", time.Time{}, errors.New("session secret not configured")
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	now := s.now()
	expires := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse verifies token and returns the user id it was issued for.
func (s Sessions) Parse(token string) (string, error) {
	if len(s.Secret) == 0 {
		return "", errors.New("session secret not configured")
	}
	if strings.TrimSpace(token) == "" {
		return "", errors.New("session token required")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}
