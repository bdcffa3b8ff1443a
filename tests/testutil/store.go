package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedAccount creates an account (and its inbox bundle).
func SeedAccount(t *testing.T, s store.Store, address string) *model.Account {
	t.Helper()

	var a *model.Account
	err := s.Update(context.Background(), func(tx *store.Tx) error {
		var err error
		a, err = tx.EnsureAccount(context.Background(), address, model.ProviderLabels)
		return err
	})
	if err != nil {
		t.Fatalf("seeding account %s: %v", address, err)
	}
	return a
}

// SeedBundle creates a bundle backed by labelID.
func SeedBundle(t *testing.T, s store.Store, accountID, name, labelID string) *model.EmailBundle {
	t.Helper()

	var b *model.EmailBundle
	err := s.Update(context.Background(), func(tx *store.Tx) error {
		var err error
		b, err = tx.CreateBundle(context.Background(), model.EmailBundle{
			AccountID: accountID,
			Name:      name,
			LabelID:   labelID,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seeding bundle %s: %v", name, err)
	}
	return b
}

// SeedThread stores emails and files their thread into bundleID (nil for
// none). It returns the thread.
func SeedThread(
	t *testing.T,
	s store.Store,
	bundleID *string,
	emails ...model.Email,
) *model.EmailThread {
	t.Helper()
	if len(emails) == 0 {
		t.Fatalf("seeding thread: no emails")
	}

	var th *model.EmailThread
	err := s.Update(context.Background(), func(tx *store.Tx) error {
		ctx := context.Background()
		if _, err := tx.InsertEmails(ctx, emails); err != nil {
			return err
		}
		for _, e := range emails {
			var err error
			th, err = tx.UpsertThread(ctx, e.AccountID, e.ThreadID, e.Subject, e.ReceivedAt)
			if err != nil {
				return err
			}
		}
		return tx.SetThreadBundle(ctx, th, bundleID)
	})
	if err != nil {
		t.Fatalf("seeding thread: %v", err)
	}
	return th
}

// Email builds a minimal email for tests.
func Email(accountID string, uid uint32, threadID, from string, at time.Time) model.Email {
	return model.Email{
		AccountID:   accountID,
		Mailbox:     model.DefaultMailbox,
		UID:         uid,
		ThreadID:    threadID,
		MessageID:   fmt.Sprintf("<%d.%s@test>", uid, threadID),
		Subject:     "subject " + threadID,
		FromAddress: from,
		SentAt:      at,
		ReceivedAt:  at,
	}
}
