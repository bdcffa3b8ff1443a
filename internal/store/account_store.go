package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
)

func getAccount(
	ctx context.Context,
	q sqlx.QueryerContext,
	where string,
	arg any,
) (*model.Account, error) {
	var a model.Account
	err := sqlx.GetContext(ctx, q, &a, "SELECT * FROM accounts WHERE "+where, arg)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// AccountByAddress retrieves an account by its address (case-insensitive).
func (s *SQLiteStore) AccountByAddress(
	ctx context.Context,
	address string,
) (*model.Account, error) {
	a, err := getAccount(ctx, s.db, "address = ?", strings.TrimSpace(address))
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", address, err)
	}
	return a, nil
}

// AccountByID retrieves an account by its local id.
func (s *SQLiteStore) AccountByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := getAccount(ctx, s.db, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return a, nil
}

// Accounts lists every account ordered by address.
func (s *SQLiteStore) Accounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.db.SelectContext(ctx, &accounts, "SELECT * FROM accounts ORDER BY address")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	return accounts, nil
}

// AccountByAddress retrieves an account inside the transaction.
func (t *Tx) AccountByAddress(
	ctx context.Context,
	address string,
) (*model.Account, error) {
	a, err := getAccount(ctx, t.tx, "address = ?", strings.TrimSpace(address))
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", address, err)
	}
	return a, nil
}

// EnsureAccount returns the account for address, creating it together
// with its reserved inbox bundle when it does not exist yet.
func (t *Tx) EnsureAccount(
	ctx context.Context,
	address string,
	provider model.ProviderType,
) (*model.Account, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("account address must not be empty")
	}

	existing, err := getAccount(ctx, t.tx, "address = ?", address)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("getting account %s: %w", address, err)
	}

	now := time.Now().UTC()
	a := &model.Account{
		ID:        uuid.New().String(),
		Provider:  provider,
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO accounts (
			id, provider, address, token_expiry, last_synced_at, created_at, updated_at
		) VALUES (
			:id, :provider, :address, :token_expiry, :last_synced_at, :created_at, :updated_at
		)`, a)
	if err != nil {
		return nil, fmt.Errorf("creating account %s: %w", address, err)
	}

	if _, err := t.CreateBundle(ctx, model.EmailBundle{
		AccountID: a.ID,
		Name:      model.InboxBundle,
	}); err != nil {
		return nil, err
	}

	t.touch(a.ID, TableAccounts)
	return a, nil
}

// SetAccountSynced records the completion time of a successful sync.
func (t *Tx) SetAccountSynced(ctx context.Context, accountID string, at time.Time) error {
	err := t.execOne(ctx, "marking account synced",
		"UPDATE accounts SET last_synced_at = ?, updated_at = ? WHERE id = ?",
		at.UTC(), time.Now().UTC(), accountID,
	)
	if err != nil {
		return err
	}
	t.touch(accountID, TableAccounts)
	return nil
}

// SetTokenExpiry records the expiry of the account's refreshed credential.
func (t *Tx) SetTokenExpiry(ctx context.Context, accountID string, expiry time.Time) error {
	err := t.execOne(ctx, "updating token expiry",
		"UPDATE accounts SET token_expiry = ?, updated_at = ? WHERE id = ?",
		expiry.UTC(), time.Now().UTC(), accountID,
	)
	if err != nil {
		return err
	}
	t.touch(accountID, TableAccounts)
	return nil
}
