package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
)

func getBundle(
	ctx context.Context,
	q sqlx.QueryerContext,
	where string,
	args ...any,
) (*model.EmailBundle, error) {
	var b model.EmailBundle
	err := sqlx.GetContext(ctx, q, &b, "SELECT * FROM bundles WHERE "+where, args...)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func selectBundles(
	ctx context.Context,
	q sqlx.QueryerContext,
	accountID string,
) ([]model.EmailBundle, error) {
	var bundles []model.EmailBundle
	err := sqlx.SelectContext(ctx, q, &bundles,
		"SELECT * FROM bundles WHERE account_id = ? ORDER BY sort_order, name",
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying bundles: %w", err)
	}
	sortBundles(bundles)
	return bundles, nil
}

// sortBundles keeps the inbox first, then explicit sort order, then name.
func sortBundles(bundles []model.EmailBundle) {
	sort.SliceStable(bundles, func(i, j int) bool {
		if bundles[i].IsInbox() != bundles[j].IsInbox() {
			return bundles[i].IsInbox()
		}
		if bundles[i].SortOrder != bundles[j].SortOrder {
			return bundles[i].SortOrder < bundles[j].SortOrder
		}
		return bundles[i].Name < bundles[j].Name
	})
}

// BundleByName retrieves an account's bundle by name.
func (s *SQLiteStore) BundleByName(
	ctx context.Context,
	accountID, name string,
) (*model.EmailBundle, error) {
	b, err := getBundle(ctx, s.db, "account_id = ? AND name = ?", accountID, name)
	if err != nil {
		return nil, fmt.Errorf("getting bundle %q: %w", name, err)
	}
	return b, nil
}

// BundleByID retrieves a bundle by id.
func (s *SQLiteStore) BundleByID(ctx context.Context, id string) (*model.EmailBundle, error) {
	b, err := getBundle(ctx, s.db, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting bundle %s: %w", id, err)
	}
	return b, nil
}

// Bundles lists an account's bundles, inbox first.
func (s *SQLiteStore) Bundles(ctx context.Context, accountID string) ([]model.EmailBundle, error) {
	return selectBundles(ctx, s.db, accountID)
}

// BundleSummaries lists an account's bundles with their thread count and
// unseen-since-last-seen count. Trashed threads are not counted.
func (s *SQLiteStore) BundleSummaries(
	ctx context.Context,
	accountID string,
) ([]model.BundleSummary, error) {
	bundles, err := selectBundles(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}

	threads, err := s.threadSummaries(ctx, accountID, "t.bundle_id IS NOT NULL AND t.trashed = 0")
	if err != nil {
		return nil, err
	}

	summaries := make([]model.BundleSummary, len(bundles))
	index := make(map[string]int, len(bundles))
	for i, b := range bundles {
		summaries[i] = model.BundleSummary{EmailBundle: b}
		index[b.ID] = i
	}

	for _, t := range threads {
		i, ok := index[*t.BundleID]
		if !ok {
			continue
		}
		summaries[i].ThreadCount++
		if unseenSince(t, summaries[i].LastSeenAt) {
			summaries[i].UnseenCount++
		}
	}

	return summaries, nil
}

// UnseenCount returns the number of unseen threads in a bundle that
// arrived after the bundle was last viewed.
func (s *SQLiteStore) UnseenCount(ctx context.Context, bundleID string) (int, error) {
	b, err := s.BundleByID(ctx, bundleID)
	if err != nil {
		return 0, err
	}
	threads, err := s.threadSummaries(ctx, b.AccountID, "t.bundle_id = ? AND t.trashed = 0", bundleID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range threads {
		if unseenSince(t, b.LastSeenAt) {
			count++
		}
	}
	return count, nil
}

func unseenSince(t model.ThreadSummary, lastSeen *time.Time) bool {
	if t.Seen {
		return false
	}
	return lastSeen == nil || t.LastMessageAt.After(*lastSeen)
}

// WatchBundles is a live query over an account's bundle summaries.
func (s *SQLiteStore) WatchBundles(
	ctx context.Context,
	accountID string,
) (*Live[[]model.BundleSummary], error) {
	return watch(ctx, s, accountID,
		[]Table{TableBundles, TableThreads, TableEmails},
		func(ctx context.Context) ([]model.BundleSummary, error) {
			return s.BundleSummaries(ctx, accountID)
		},
	)
}

// WatchUnseenCount is a live query over one bundle's unseen count.
func (s *SQLiteStore) WatchUnseenCount(
	ctx context.Context,
	accountID, bundleID string,
) (*Live[int], error) {
	return watch(ctx, s, accountID,
		[]Table{TableBundles, TableThreads, TableEmails},
		func(ctx context.Context) (int, error) {
			return s.UnseenCount(ctx, bundleID)
		},
	)
}

// BundleByName retrieves an account's bundle by name inside the transaction.
func (t *Tx) BundleByName(
	ctx context.Context,
	accountID, name string,
) (*model.EmailBundle, error) {
	b, err := getBundle(ctx, t.tx, "account_id = ? AND name = ?", accountID, name)
	if err != nil {
		return nil, fmt.Errorf("getting bundle %q: %w", name, err)
	}
	return b, nil
}

// BundleByID retrieves a bundle by id inside the transaction.
func (t *Tx) BundleByID(ctx context.Context, id string) (*model.EmailBundle, error) {
	b, err := getBundle(ctx, t.tx, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting bundle %s: %w", id, err)
	}
	return b, nil
}

// Bundles lists an account's bundles inside the transaction.
func (t *Tx) Bundles(ctx context.Context, accountID string) ([]model.EmailBundle, error) {
	return selectBundles(ctx, t.tx, accountID)
}

// CreateBundle inserts a bundle. The name must be unique within the
// account. Sort order defaults to after the last bundle.
func (t *Tx) CreateBundle(
	ctx context.Context,
	b model.EmailBundle,
) (*model.EmailBundle, error) {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return nil, fmt.Errorf("bundle name must not be empty")
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = time.Now().UTC()

	if b.SortOrder == 0 && !b.IsInbox() {
		var maxOrder int
		err := t.tx.GetContext(ctx, &maxOrder,
			"SELECT COALESCE(MAX(sort_order), 0) FROM bundles WHERE account_id = ?",
			b.AccountID,
		)
		if err != nil {
			return nil, fmt.Errorf("getting max sort_order: %w", err)
		}
		b.SortOrder = maxOrder + 1
	}

	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO bundles (
			id, account_id, name, label_id, icon, sort_order, last_seen_at, created_at
		) VALUES (
			:id, :account_id, :name, :label_id, :icon, :sort_order, :last_seen_at, :created_at
		)`, &b)
	if err != nil {
		return nil, fmt.Errorf("creating bundle %q: %w", b.Name, err)
	}

	t.touch(b.AccountID, TableBundles)
	return &b, nil
}

// SetBundleLabel stores the remote label id backing a bundle.
func (t *Tx) SetBundleLabel(ctx context.Context, b *model.EmailBundle, labelID string) error {
	err := t.execOne(ctx, "updating bundle label",
		"UPDATE bundles SET label_id = ? WHERE id = ?", labelID, b.ID,
	)
	if err != nil {
		return err
	}
	b.LabelID = labelID
	t.touch(b.AccountID, TableBundles)
	return nil
}

// MarkBundleSeen records when the user last viewed a bundle, resetting its
// unseen count.
func (t *Tx) MarkBundleSeen(ctx context.Context, b *model.EmailBundle, at time.Time) error {
	at = at.UTC()
	err := t.execOne(ctx, "marking bundle seen",
		"UPDATE bundles SET last_seen_at = ? WHERE id = ?", at, b.ID,
	)
	if err != nil {
		return err
	}
	b.LastSeenAt = &at
	t.touch(b.AccountID, TableBundles)
	return nil
}

// ReorderBundle sets a bundle's explicit sort order.
func (t *Tx) ReorderBundle(ctx context.Context, b *model.EmailBundle, sortOrder int) error {
	err := t.execOne(ctx, "reordering bundle",
		"UPDATE bundles SET sort_order = ? WHERE id = ?", sortOrder, b.ID,
	)
	if err != nil {
		return err
	}
	b.SortOrder = sortOrder
	t.touch(b.AccountID, TableBundles)
	return nil
}

// RequireBundle resolves a bundle by name and reports a consistency error
// when it does not exist.
func (t *Tx) RequireBundle(
	ctx context.Context,
	accountID, name string,
) (*model.EmailBundle, error) {
	b, err := t.BundleByName(ctx, accountID, name)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Consistency("resolve bundle",
			fmt.Errorf("%w: %q", apperr.ErrBundleNotFound, name))
	}
	return b, err
}
