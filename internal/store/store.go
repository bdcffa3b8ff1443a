package store

import (
	"context"
	"time"

	"github.com/nhle/mailbundle/internal/model"
)

// Store defines the local mail store consumed by the engines. Reads may be
// issued from any goroutine; writes go through Update.
type Store interface {
	// Update runs fn in a write transaction on the single write path.
	Update(ctx context.Context, fn func(tx *Tx) error) error

	// Subscribe signals after each committed write touching tables.
	Subscribe(ctx context.Context, accountID string, tables ...Table) <-chan struct{}

	// === Accounts ===

	AccountByAddress(ctx context.Context, address string) (*model.Account, error)
	AccountByID(ctx context.Context, id string) (*model.Account, error)
	Accounts(ctx context.Context) ([]model.Account, error)

	// === Emails ===

	MaxUID(ctx context.Context, accountID, mailbox string) (uint32, error)
	EmailCount(ctx context.Context, accountID string) (int, error)
	Email(ctx context.Context, id string) (*model.Email, error)
	EmailByUID(ctx context.Context, accountID, mailbox string, uid uint32) (*model.Email, error)
	ThreadEmails(ctx context.Context, accountID, threadID string) ([]model.Email, error)

	// === Threads ===

	Thread(ctx context.Context, accountID, threadID string) (*model.EmailThread, error)
	ThreadSummary(ctx context.Context, accountID, threadID string) (*model.ThreadSummary, error)
	ThreadsInBundle(ctx context.Context, accountID, bundleID string) ([]model.ThreadSummary, error)
	WatchThreads(ctx context.Context, accountID, bundleID string) (*Live[[]model.ThreadSummary], error)
	WatchThread(ctx context.Context, accountID, threadID string) (*Live[*model.ThreadSummary], error)

	// === Bundles ===

	BundleByName(ctx context.Context, accountID, name string) (*model.EmailBundle, error)
	BundleByID(ctx context.Context, id string) (*model.EmailBundle, error)
	Bundles(ctx context.Context, accountID string) ([]model.EmailBundle, error)
	BundleSummaries(ctx context.Context, accountID string) ([]model.BundleSummary, error)
	UnseenCount(ctx context.Context, bundleID string) (int, error)
	WatchBundles(ctx context.Context, accountID string) (*Live[[]model.BundleSummary], error)
	WatchUnseenCount(ctx context.Context, accountID, bundleID string) (*Live[int], error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)

// MarkBundleSeen records that the user viewed a bundle at the given time.
func MarkBundleSeen(ctx context.Context, s Store, bundleID string, at time.Time) error {
	return s.Update(ctx, func(tx *Tx) error {
		b, err := tx.BundleByID(ctx, bundleID)
		if err != nil {
			return err
		}
		return tx.MarkBundleSeen(ctx, b, at)
	})
}

// ReorderBundle sets a bundle's explicit sort order.
func ReorderBundle(ctx context.Context, s Store, bundleID string, sortOrder int) error {
	return s.Update(ctx, func(tx *Tx) error {
		b, err := tx.BundleByID(ctx, bundleID)
		if err != nil {
			return err
		}
		return tx.ReorderBundle(ctx, b, sortOrder)
	})
}

// SetThreadTrashed trashes or restores a thread.
func SetThreadTrashed(ctx context.Context, s Store, accountID, threadID string, trashed bool) error {
	return s.Update(ctx, func(tx *Tx) error {
		th, err := tx.Thread(ctx, accountID, threadID)
		if err != nil {
			return err
		}
		return tx.SetThreadTrashed(ctx, th, trashed)
	})
}
