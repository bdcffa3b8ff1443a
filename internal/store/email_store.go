package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
)

// uidChunk bounds the number of bound parameters in one IN clause.
const uidChunk = 500

const insertEmailSQL = `
	INSERT INTO emails (
		id, account_id, mailbox, uid, mod_seq, size,
		flags, labels, thread_id, message_id,
		subject, from_name, from_address, sender_address,
		sent_at, received_at, body
	) VALUES (
		:id, :account_id, :mailbox, :uid, :mod_seq, :size,
		:flags, :labels, :thread_id, :message_id,
		:subject, :from_name, :from_address, :sender_address,
		:sent_at, :received_at, :body
	)
	ON CONFLICT(account_id, mailbox, uid) DO NOTHING`

// MaxUID returns the highest UID persisted for the account's mailbox, or
// 0 when none is persisted. It is the sync watermark.
func (s *SQLiteStore) MaxUID(ctx context.Context, accountID, mailbox string) (uint32, error) {
	var max int64
	err := s.db.GetContext(ctx, &max,
		"SELECT COALESCE(MAX(uid), 0) FROM emails WHERE account_id = ? AND mailbox = ?",
		accountID, mailbox,
	)
	if err != nil {
		return 0, fmt.Errorf("reading watermark: %w", err)
	}
	return uint32(max), nil
}

// EmailCount returns the number of emails persisted for an account.
func (s *SQLiteStore) EmailCount(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM emails WHERE account_id = ?", accountID)
	if err != nil {
		return 0, fmt.Errorf("counting emails: %w", err)
	}
	return n, nil
}

// Email retrieves one email by local id.
func (s *SQLiteStore) Email(ctx context.Context, id string) (*model.Email, error) {
	var e model.Email
	if err := s.db.GetContext(ctx, &e, "SELECT * FROM emails WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("getting email %s: %w", id, notFound(err))
	}
	return &e, nil
}

// EmailByUID retrieves one email by its natural key.
func (s *SQLiteStore) EmailByUID(
	ctx context.Context,
	accountID, mailbox string,
	uid uint32,
) (*model.Email, error) {
	var e model.Email
	err := s.db.GetContext(ctx, &e,
		"SELECT * FROM emails WHERE account_id = ? AND mailbox = ? AND uid = ?",
		accountID, mailbox, uid,
	)
	if err != nil {
		return nil, fmt.Errorf("getting email uid %d: %w", uid, notFound(err))
	}
	return &e, nil
}

func selectThreadEmails(
	ctx context.Context,
	q sqlx.QueryerContext,
	accountID, threadID string,
) ([]model.Email, error) {
	var emails []model.Email
	err := sqlx.SelectContext(ctx, q, &emails,
		"SELECT * FROM emails WHERE account_id = ? AND thread_id = ? ORDER BY received_at, uid",
		accountID, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying thread emails: %w", err)
	}
	return emails, nil
}

// ThreadEmails lists the emails of a thread in receive order.
func (s *SQLiteStore) ThreadEmails(
	ctx context.Context,
	accountID, threadID string,
) ([]model.Email, error) {
	return selectThreadEmails(ctx, s.db, accountID, threadID)
}

// ThreadEmails lists the emails of a thread inside the transaction.
func (t *Tx) ThreadEmails(
	ctx context.Context,
	accountID, threadID string,
) ([]model.Email, error) {
	return selectThreadEmails(ctx, t.tx, accountID, threadID)
}

// existingUIDs returns which of uids are already stored for the mailbox.
func (t *Tx) existingUIDs(
	ctx context.Context,
	accountID, mailbox string,
	uids []uint32,
) (map[uint32]bool, error) {
	existing := make(map[uint32]bool)
	for start := 0; start < len(uids); start += uidChunk {
		end := min(start+uidChunk, len(uids))

		query, args, err := sqlx.In(
			"SELECT uid FROM emails WHERE account_id = ? AND mailbox = ? AND uid IN (?)",
			accountID, mailbox, uids[start:end],
		)
		if err != nil {
			return nil, fmt.Errorf("building uid query: %w", err)
		}

		var found []int64
		if err := t.tx.SelectContext(ctx, &found, t.tx.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("querying existing uids: %w", err)
		}
		for _, uid := range found {
			existing[uint32(uid)] = true
		}
	}
	return existing, nil
}

type mailboxKey struct {
	accountID string
	mailbox   string
}

// InsertEmails persists a batch of fetched emails, treating
// (account, mailbox, UID) as a natural key: rows already stored, and
// repeats within the batch, are skipped. Every remaining row is assigned a
// local id and must be created; a shortfall is a consistency error and the
// caller's transaction must roll back. It returns the newly created emails.
func (t *Tx) InsertEmails(ctx context.Context, emails []model.Email) ([]model.Email, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	byMailbox := make(map[mailboxKey][]uint32)
	for _, e := range emails {
		k := mailboxKey{e.AccountID, e.Mailbox}
		byMailbox[k] = append(byMailbox[k], e.UID)
	}

	existing := make(map[mailboxKey]map[uint32]bool, len(byMailbox))
	for k, uids := range byMailbox {
		found, err := t.existingUIDs(ctx, k.accountID, k.mailbox, uids)
		if err != nil {
			return nil, err
		}
		existing[k] = found
	}

	fresh := make([]model.Email, 0, len(emails))
	for _, e := range emails {
		k := mailboxKey{e.AccountID, e.Mailbox}
		if existing[k][e.UID] {
			continue
		}
		existing[k][e.UID] = true

		e.ID = uuid.New().String()
		e.SentAt = e.SentAt.UTC()
		e.ReceivedAt = e.ReceivedAt.UTC()
		fresh = append(fresh, e)
	}

	var created int64
	for i := range fresh {
		res, err := t.tx.NamedExecContext(ctx, insertEmailSQL, &fresh[i])
		if err != nil {
			return nil, fmt.Errorf("inserting email uid %d: %w", fresh[i].UID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("inserting email uid %d: %w", fresh[i].UID, err)
		}
		created += n
	}

	if created != int64(len(fresh)) {
		return nil, apperr.Consistency("insert emails",
			fmt.Errorf("%w: created %d of %d", apperr.ErrBatchMismatch, created, len(fresh)))
	}

	for k := range byMailbox {
		t.touch(k.accountID, TableEmails)
	}
	return fresh, nil
}

// SetEmailFlags replaces an email's flag set.
func (t *Tx) SetEmailFlags(ctx context.Context, e *model.Email, flags model.StringList) error {
	err := t.execOne(ctx, "updating email flags",
		"UPDATE emails SET flags = ? WHERE id = ?", flags, e.ID,
	)
	if err != nil {
		return err
	}
	e.Flags = flags
	t.touch(e.AccountID, TableEmails)
	return nil
}

// SetEmailLabels replaces an email's label set.
func (t *Tx) SetEmailLabels(ctx context.Context, e *model.Email, labels model.StringList) error {
	err := t.execOne(ctx, "updating email labels",
		"UPDATE emails SET labels = ? WHERE id = ?", labels, e.ID,
	)
	if err != nil {
		return err
	}
	e.Labels = labels
	t.touch(e.AccountID, TableEmails)
	return nil
}

// SetEmailBody stores a lazily fetched body.
func (t *Tx) SetEmailBody(ctx context.Context, e *model.Email, body string) error {
	err := t.execOne(ctx, "storing email body",
		"UPDATE emails SET body = ? WHERE id = ?", body, e.ID,
	)
	if err != nil {
		return err
	}
	e.Body = &body
	t.touch(e.AccountID, TableEmails)
	return nil
}
