package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

const (
	minPassword = 8
	maxPassword = 72
)

// Accounts registers and verifies browser users.
type Accounts struct {
	Repo repo.Repo
	Now  func() time.Time
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

func (a Accounts) Signup(ctx context.Context, email, password string) (domain.User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return domain.User{}, domain.ValidationError{Field: "email", Reason: "a valid e-mail address is required"}
	}
	if len(password) < minPassword || len(password) > maxPassword {
		return domain.User{}, domain.ValidationError{Field: "password", Reason: "password must be 8 to 72 bytes"}
	}
	cost := a.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return domain.User{}, err
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(addr.Address),
		PasswordHash: string(hash),
		Plan:         domain.PlanFree,
		CreatedAt:    domain.FormatTime(now()),
	}
	if err := a.Repo.InsertUser(ctx, u); err != nil {
		if errors.Is(err, repo.ErrEmailTaken) {
			return domain.User{}, domain.ValidationError{Field: "email", Reason: "e-mail already registered"}
		}
		return domain.User{}, err
	}
	return u, nil
}

// Login verifies credentials. Unknown e-mails and wrong passwords both
// return ErrUnauthorized.
func (a Accounts) Login(ctx context.Context, email, password string) (domain.User, error) {
	u, err := a.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrUnauthorized
	}
	return u, nil
}
