package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailbundle/internal/apperr"
)

// Tx is a write transaction handed out by SQLiteStore.Update. It records
// which tables each account touched so subscribers can be notified after
// commit.
type Tx struct {
	tx      *sqlx.Tx
	changes []Change
}

// touch records a change for accountID.
func (t *Tx) touch(accountID string, tables ...Table) {
	for i := range t.changes {
		if t.changes[i].AccountID != accountID {
			continue
		}
		for _, tbl := range tables {
			if !containsTable(t.changes[i].Tables, tbl) {
				t.changes[i].Tables = append(t.changes[i].Tables, tbl)
			}
		}
		return
	}
	t.changes = append(t.changes, Change{AccountID: accountID, Tables: tables})
}

func containsTable(tables []Table, t Table) bool {
	for _, v := range tables {
		if v == t {
			return true
		}
	}
	return false
}

// execOne runs a statement that must affect exactly one row.
func (t *Tx) execOne(ctx context.Context, what string, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return nil
}

// notFound maps sql.ErrNoRows onto apperr.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	return err
}
