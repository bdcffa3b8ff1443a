package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
)

func getThread(
	ctx context.Context,
	q sqlx.QueryerContext,
	accountID, threadID string,
) (*model.EmailThread, error) {
	var t model.EmailThread
	err := sqlx.GetContext(ctx, q, &t,
		"SELECT * FROM threads WHERE account_id = ? AND id = ?", accountID, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting thread %s: %w", threadID, notFound(err))
	}
	return &t, nil
}

// Thread retrieves one thread.
func (s *SQLiteStore) Thread(ctx context.Context, accountID, threadID string) (*model.EmailThread, error) {
	return getThread(ctx, s.db, accountID, threadID)
}

// ThreadSummary retrieves one thread with its derived state.
func (s *SQLiteStore) ThreadSummary(
	ctx context.Context,
	accountID, threadID string,
) (*model.ThreadSummary, error) {
	summaries, err := s.threadSummaries(ctx, accountID, "t.id = ?", threadID)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		_, err := getThread(ctx, s.db, accountID, threadID)
		return nil, err
	}
	return &summaries[0], nil
}

// ThreadsInBundle lists the non-trashed threads of a bundle, newest first.
func (s *SQLiteStore) ThreadsInBundle(
	ctx context.Context,
	accountID, bundleID string,
) ([]model.ThreadSummary, error) {
	return s.threadSummaries(ctx, accountID, "t.bundle_id = ? AND t.trashed = 0", bundleID)
}

// threadSummaries loads the account's threads matching where (over alias t)
// and derives each one's state from its emails.
func (s *SQLiteStore) threadSummaries(
	ctx context.Context,
	accountID, where string,
	args ...any,
) ([]model.ThreadSummary, error) {
	var threads []model.EmailThread
	query := "SELECT t.* FROM threads t WHERE t.account_id = ? AND " + where
	if err := s.db.SelectContext(ctx, &threads, query, append([]any{accountID}, args...)...); err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	if len(threads) == 0 {
		return nil, nil
	}

	var own string
	err := s.db.GetContext(ctx, &own, "SELECT address FROM accounts WHERE id = ?", accountID)
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", accountID, notFound(err))
	}

	ids := make([]string, len(threads))
	for i, t := range threads {
		ids[i] = t.ID
	}

	byThread := make(map[string][]model.Email, len(threads))
	for start := 0; start < len(ids); start += uidChunk {
		end := min(start+uidChunk, len(ids))
		q, qargs, err := sqlx.In(
			"SELECT * FROM emails WHERE account_id = ? AND thread_id IN (?)",
			accountID, ids[start:end],
		)
		if err != nil {
			return nil, fmt.Errorf("building thread email query: %w", err)
		}
		var emails []model.Email
		if err := s.db.SelectContext(ctx, &emails, s.db.Rebind(q), qargs...); err != nil {
			return nil, fmt.Errorf("querying thread emails: %w", err)
		}
		for _, e := range emails {
			byThread[e.ThreadID] = append(byThread[e.ThreadID], e)
		}
	}

	summaries := make([]model.ThreadSummary, len(threads))
	for i, t := range threads {
		summaries[i] = model.Summarize(t, own, byThread[t.ID])
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})
	return summaries, nil
}

// WatchThreads is a live query over the threads of one bundle.
func (s *SQLiteStore) WatchThreads(
	ctx context.Context,
	accountID, bundleID string,
) (*Live[[]model.ThreadSummary], error) {
	return watch(ctx, s, accountID,
		[]Table{TableThreads, TableEmails},
		func(ctx context.Context) ([]model.ThreadSummary, error) {
			return s.ThreadsInBundle(ctx, accountID, bundleID)
		},
	)
}

// WatchThread is a live query over a single thread.
func (s *SQLiteStore) WatchThread(
	ctx context.Context,
	accountID, threadID string,
) (*Live[*model.ThreadSummary], error) {
	return watch(ctx, s, accountID,
		[]Table{TableThreads, TableEmails},
		func(ctx context.Context) (*model.ThreadSummary, error) {
			return s.ThreadSummary(ctx, accountID, threadID)
		},
	)
}

// Thread retrieves one thread inside the transaction.
func (t *Tx) Thread(ctx context.Context, accountID, threadID string) (*model.EmailThread, error) {
	return getThread(ctx, t.tx, accountID, threadID)
}

// UpsertThread creates the thread or advances its last-message time and
// subject to the newest member. It returns the stored thread.
func (t *Tx) UpsertThread(
	ctx context.Context,
	accountID, threadID, subject string,
	messageAt time.Time,
) (*model.EmailThread, error) {
	messageAt = messageAt.UTC()

	existing, err := getThread(ctx, t.tx, accountID, threadID)
	if err == nil {
		if !messageAt.After(existing.LastMessageAt) {
			return existing, nil
		}
		_, err := t.tx.ExecContext(ctx,
			"UPDATE threads SET last_message_at = ?, subject = ? WHERE account_id = ? AND id = ?",
			messageAt, subject, accountID, threadID,
		)
		if err != nil {
			return nil, fmt.Errorf("updating thread %s: %w", threadID, err)
		}
		existing.LastMessageAt = messageAt
		existing.Subject = subject
		t.touch(accountID, TableThreads)
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	th := &model.EmailThread{
		ID:            threadID,
		AccountID:     accountID,
		Subject:       subject,
		LastMessageAt: messageAt,
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO threads (id, account_id, subject, last_message_at, trashed, bundle_id)
		VALUES (:id, :account_id, :subject, :last_message_at, :trashed, :bundle_id)`, th)
	if err != nil {
		return nil, fmt.Errorf("creating thread %s: %w", threadID, err)
	}
	t.touch(accountID, TableThreads)
	return th, nil
}

// SetThreadBundle moves a thread into bundleID; nil detaches it.
func (t *Tx) SetThreadBundle(ctx context.Context, th *model.EmailThread, bundleID *string) error {
	err := t.execOne(ctx, "setting thread bundle",
		"UPDATE threads SET bundle_id = ? WHERE account_id = ? AND id = ?",
		bundleID, th.AccountID, th.ID,
	)
	if err != nil {
		return err
	}
	th.BundleID = bundleID
	t.touch(th.AccountID, TableThreads, TableBundles)
	return nil
}

// SetThreadTrashed marks a thread trashed or restores it.
func (t *Tx) SetThreadTrashed(ctx context.Context, th *model.EmailThread, trashed bool) error {
	err := t.execOne(ctx, "setting thread trashed",
		"UPDATE threads SET trashed = ? WHERE account_id = ? AND id = ?",
		boolToInt(trashed), th.AccountID, th.ID,
	)
	if err != nil {
		return err
	}
	th.Trashed = trashed
	t.touch(th.AccountID, TableThreads, TableBundles)
	return nil
}
