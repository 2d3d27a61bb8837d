package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailboard/internal/model"
)

// ReplaceItems clears the account's items of kind and writes the new batch
// in one transaction.
func (s *SQLiteStore) ReplaceItems(
	ctx context.Context,
	accountID string,
	kind model.ItemKind,
	items []model.Item,
	syncedAt time.Time,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM items WHERE account_id = ? AND kind = ?", accountID, string(kind),
	); err != nil {
		return fmt.Errorf("clearing %s items for account %s: %w", kind, accountID, err)
	}

	const query = `
		INSERT OR REPLACE INTO items (
			account_id, kind, item_id, position,
			title, sender, date, link, flagged, provider,
			data, synced_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	stamp := syncedAt.UTC().UnixMilli()
	for i, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshaling item %s: %w", it.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			accountID, string(kind), it.ID, i,
			it.Title, it.Sender, it.Date, it.Link, boolToInt(it.Flagged), string(it.Provider),
			string(data), stamp,
		)
		if err != nil {
			return fmt.Errorf("inserting item %s: %w", it.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_markers (account_id, kind, synced_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id, kind) DO UPDATE SET synced_at = excluded.synced_at`,
		accountID, string(kind), stamp,
	); err != nil {
		return fmt.Errorf("recording sync marker for account %s: %w", accountID, err)
	}

	return tx.Commit()
}

// GetItems returns the cached items of kind for an account.
func (s *SQLiteStore) GetItems(ctx context.Context, accountID string, kind model.ItemKind) ([]model.Item, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT data FROM items WHERE account_id = ? AND kind = ? ORDER BY position",
		accountID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("querying items for account %s: %w", accountID, err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetItem retrieves one cached item.
func (s *SQLiteStore) GetItem(ctx context.Context, accountID string, kind model.ItemKind, itemID string) (*model.Item, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT data FROM items WHERE account_id = ? AND kind = ? AND item_id = ?",
		accountID, string(kind), itemID,
	)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting item %s: %w", itemID, err)
	}
	return &it, nil
}

// UpdateItem rewrites a cached item in place, keeping its position and
// sync time.
func (s *SQLiteStore) UpdateItem(ctx context.Context, it model.Item) error {
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("marshaling item %s: %w", it.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET title = ?, sender = ?, date = ?, link = ?, flagged = ?, data = ?
		WHERE account_id = ? AND kind = ? AND item_id = ?`,
		it.Title, it.Sender, it.Date, it.Link, boolToInt(it.Flagged), string(data),
		it.AccountID, string(it.Kind), it.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item %s: %w", it.ID, err)
	}
	return expectRow(res, "updating item "+it.ID)
}

// DeleteItem removes one cached item. Deleting an absent item is not an
// error: the remote action already succeeded.
func (s *SQLiteStore) DeleteItem(ctx context.Context, accountID string, kind model.ItemKind, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM items WHERE account_id = ? AND kind = ? AND item_id = ?",
		accountID, string(kind), itemID,
	)
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", itemID, err)
	}
	return nil
}

// LastSync returns the sync marker for account+kind.
func (s *SQLiteStore) LastSync(ctx context.Context, accountID string, kind model.ItemKind) (time.Time, bool, error) {
	var stamp int64
	err := s.db.GetContext(ctx, &stamp,
		"SELECT synced_at FROM sync_markers WHERE account_id = ? AND kind = ?",
		accountID, string(kind),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading sync marker for account %s: %w", accountID, err)
	}
	return time.UnixMilli(stamp).UTC(), true, nil
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var (
	_ rowScanner = (*sqlx.Row)(nil)
	_ rowScanner = (*sqlx.Rows)(nil)
)

func scanItem(r rowScanner) (model.Item, error) {
	var data string
	var it model.Item
	if err := r.Scan(&data); err != nil {
		return it, err
	}
	if err := json.Unmarshal([]byte(data), &it); err != nil {
		return it, fmt.Errorf("decoding cached item: %w", err)
	}
	return it, nil
}
