package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailboard/internal/model"
)

const accountColumns = "id, name, provider, email, color, config, created_at, updated_at"

// CreateAccount inserts a new account.
func (s *SQLiteStore) CreateAccount(ctx context.Context, acc model.Account) error {
	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	if acc.UpdatedAt.IsZero() {
		acc.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.Name, string(acc.Provider), acc.Email, acc.Color, acc.Config,
		acc.CreatedAt.UTC(), acc.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating account %s: %w", acc.ID, err)
	}
	return nil
}

// GetAccount retrieves a single account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var acc model.Account
	err := s.db.GetContext(ctx, &acc, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return &acc, nil
}

// ListAccounts returns every account ordered by creation time.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.db.SelectContext(ctx, &accounts, "SELECT "+accountColumns+" FROM accounts ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	return accounts, nil
}

// ModifyAccount reads an account, passes it to fn and writes back its
// name, email, color and config in one transaction. An error from fn
// aborts the write and is returned as is.
func (s *SQLiteStore) ModifyAccount(ctx context.Context, id string, fn func(acc *model.Account) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var acc model.Account
	err = tx.GetContext(ctx, &acc, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("modifying account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("modifying account %s: %w", id, err)
	}

	if err := fn(&acc); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, email = ?, color = ?, config = ?, updated_at = ?
		WHERE id = ?`,
		acc.Name, acc.Email, acc.Color, acc.Config, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", id, err)
	}
	if err := expectRow(res, "updating account "+id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteAccount removes an account. Items and sync markers cascade.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	return expectRow(res, "deleting account "+id)
}

func expectRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
