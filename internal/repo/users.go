package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskboard/internal/domain"
)

// ErrEmailTaken reports a duplicate signup.
var ErrEmailTaken = errors.New("email already registered")

const userColumns = `id, email, password_hash, plan, billing_customer_id, created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var customer sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Plan, &customer, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.BillingCustomerID = customer.String
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	if _, err := r.GetUserByEmail(ctx, u.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if u.Plan == "" {
		u.Plan = domain.PlanFree
	}
	_, err := r.DB.Conn().ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?)`,
		u.ID, normalizeEmail(u.Email), u.PasswordHash, string(u.Plan), nullable(u.BillingCustomerID), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.Conn().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.Conn().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, normalizeEmail(email)))
}

func (r Repo) GetUserByBillingCustomer(ctx context.Context, customerID string) (domain.User, error) {
	return scanUser(r.DB.Conn().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE billing_customer_id=?`, customerID))
}

// SetPlan updates the user's plan; a non-empty customerID is recorded too.
func (r Repo) SetPlan(ctx context.Context, userID string, plan domain.Plan, customerID string) error {
	var (
		res sql.Result
		err error
	)
	if customerID != "" {
		res, err = r.DB.Conn().ExecContext(ctx, `UPDATE users SET plan=?, billing_customer_id=? WHERE id=?`, string(plan), customerID, userID)
	} else {
		res, err = r.DB.Conn().ExecContext(ctx, `UPDATE users SET plan=? WHERE id=?`, string(plan), userID)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
