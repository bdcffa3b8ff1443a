package sync

import (
	"context"
	"fmt"

	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/store"
	"github.com/nhle/mailbundle/internal/task"
)

// FetchBody returns an email's body, fetching and storing it on first use.
func (e *Engine) FetchBody(ctx context.Context, emailID string) (string, error) {
	m, err := e.store.Email(ctx, emailID)
	if err != nil {
		return "", err
	}
	if m.Body != nil {
		return *m.Body, nil
	}

	account, err := e.store.AccountByID(ctx, m.AccountID)
	if err != nil {
		return "", err
	}

	body, err := e.session.FetchBody(ctx, account, m.Mailbox, m.UID)
	if err != nil {
		return "", fmt.Errorf("fetching body of uid %d: %w", m.UID, err)
	}

	err = e.store.Update(ctx, func(tx *store.Tx) error {
		return tx.SetEmailBody(ctx, m, body)
	})
	if err != nil {
		return "", err
	}
	return body, nil
}

// SetThreadSeen marks every message of a thread seen or unseen.
func (e *Engine) SetThreadSeen(
	ctx context.Context,
	account *model.Account,
	threadID string,
	seen bool,
) error {
	return e.setThreadFlag(ctx, account, threadID, model.FlagSeen, seen)
}

// SetThreadFlagged flags or unflags every message of a thread.
func (e *Engine) SetThreadFlagged(
	ctx context.Context,
	account *model.Account,
	threadID string,
	flagged bool,
) error {
	return e.setThreadFlag(ctx, account, threadID, model.FlagFlagged, flagged)
}

// setThreadFlag applies the flag locally first, then remotely, as one
// runner invocation; a remote failure restores the previous local flags.
func (e *Engine) setThreadFlag(
	ctx context.Context,
	account *model.Account,
	threadID, flag string,
	set bool,
) error {
	emails, err := e.store.ThreadEmails(ctx, account.ID, threadID)
	if err != nil {
		return err
	}

	var changed []model.Email
	uids := make(map[string][]uint32)
	for _, m := range emails {
		if m.Flags.Contains(flag) == set {
			continue
		}
		changed = append(changed, m)
		uids[m.Mailbox] = append(uids[m.Mailbox], m.UID)
	}
	if len(changed) == 0 {
		return nil
	}

	apply := func(ctx context.Context, flags func(model.Email) model.StringList) error {
		return e.store.Update(ctx, func(tx *store.Tx) error {
			for _, m := range changed {
				if err := tx.SetEmailFlags(ctx, &m, flags(m)); err != nil {
					return err
				}
			}
			return nil
		})
	}

	local := task.Operation{
		Name: "update local flags",
		Do: func(ctx context.Context) error {
			return apply(ctx, func(m model.Email) model.StringList {
				return model.WithFlag(m.Flags, flag, set)
			})
		},
		Undo: func(ctx context.Context) error {
			return apply(ctx, func(m model.Email) model.StringList { return m.Flags })
		},
	}

	var remote []task.Operation
	for mailbox, list := range uids {
		remote = append(remote, task.Operation{
			Name: "update remote flags in " + mailbox,
			Do: func(ctx context.Context) error {
				return e.session.UpdateFlags(ctx, account, mailbox, list, set, []string{flag})
			},
			Undo: func(ctx context.Context) error {
				return e.session.UpdateFlags(ctx, account, mailbox, list, !set, []string{flag})
			},
		})
	}

	if err := e.runner.RunOrdered(ctx, []task.Operation{local}, remote); err != nil {
		return fmt.Errorf("updating %s on thread %s: %w", flag, threadID, err)
	}
	return nil
}
