package bundle

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
	"github.com/nhle/mailbundle/internal/store"
	"github.com/nhle/mailbundle/internal/task"
)

// MoveResult reports the filter side effects of a completed move. The
// move itself has already committed when FilterErr is set.
type MoveResult struct {
	FilterCreated  *source.Filter
	FiltersDeleted []string
	FilterErr      error
}

// MoveThread moves a thread from one bundle to another, locally and on the
// remote labels, as a single runner invocation: when any remote step fails
// the local move and every completed label change are undone. With
// alwaysFilter, future mail from the thread's sender is routed to the
// destination by a remote filter once the move has succeeded.
func (e *Engine) MoveThread(
	ctx context.Context,
	account *model.Account,
	threadID string,
	from, to *model.EmailBundle,
	alwaysFilter bool,
) (MoveResult, error) {
	if from.ID == to.ID {
		return MoveResult{}, nil
	}

	release, err := e.lockThread(account.ID, threadID)
	if err != nil {
		return MoveResult{}, err
	}
	defer release()

	emails, err := e.store.ThreadEmails(ctx, account.ID, threadID)
	if err != nil {
		return MoveResult{}, err
	}

	changes, err := e.planLabels(emails, from, to)
	if err != nil {
		return MoveResult{}, fmt.Errorf("moving thread %s to %s: %w", threadID, to.Name, err)
	}

	local := task.Operation{
		Name: "move thread locally",
		Do: func(ctx context.Context) error {
			return e.store.Update(ctx, func(tx *store.Tx) error {
				th, err := tx.Thread(ctx, account.ID, threadID)
				if err != nil {
					return err
				}
				if !th.InBundle(from.ID) {
					return apperr.Consistency("move thread",
						fmt.Errorf("thread %s: %w %q", threadID, apperr.ErrThreadNotInBundle, from.Name))
				}
				if err := tx.SetThreadBundle(ctx, th, &to.ID); err != nil {
					return err
				}
				for _, m := range emails {
					if err := tx.SetEmailLabels(ctx, &m, applyLabels(m.Labels, changes)); err != nil {
						return err
					}
				}
				return nil
			})
		},
		Undo: func(ctx context.Context) error {
			return e.store.Update(ctx, func(tx *store.Tx) error {
				th, err := tx.Thread(ctx, account.ID, threadID)
				if err != nil {
					return err
				}
				if err := tx.SetThreadBundle(ctx, th, &from.ID); err != nil {
					return err
				}
				for _, m := range emails {
					if err := tx.SetEmailLabels(ctx, &m, m.Labels); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	remote := e.labelOps(account, changes)

	e.log.Debug().
		Str("account", account.Address).
		Str("thread", threadID).
		Str("from", from.Name).
		Str("to", to.Name).
		Msg("moving thread")

	if err := e.runner.RunOrdered(ctx, []task.Operation{local}, remote); err != nil {
		return MoveResult{}, fmt.Errorf("moving thread %s to %s: %w", threadID, to.Name, err)
	}

	var res MoveResult
	sender, ok := threadSender(emails, account.Address)
	switch {
	case !ok:
		e.log.Debug().Str("thread", threadID).Msg("no incoming sender, skipping filters")
	case to.IsInbox():
		res.FiltersDeleted, res.FilterErr = e.dropFilters(ctx, account, sender, from)
	case alwaysFilter:
		res.FilterCreated, res.FiltersDeleted, res.FilterErr = e.routeSender(ctx, account, sender, to)
	}
	if res.FilterErr != nil {
		e.log.Warn().Err(res.FilterErr).Str("thread", threadID).Msg("filter update failed after move")
	}
	return res, nil
}

// labelChange adds or removes one remote label on the messages whose
// stored labels say the change applies.
type labelChange struct {
	display string
	name    string
	id      string
	add     bool
	targets []string
}

// planLabels works out the remote half of a move from the labels each
// message carries, so undoing a change restores exactly what it altered.
// Every affected message must be addressable by Message-ID.
func (e *Engine) planLabels(
	emails []model.Email,
	from, to *model.EmailBundle,
) ([]labelChange, error) {
	inbox := labelChange{display: model.InboxBundle, name: e.cfg.InboxLabel, id: e.cfg.InboxLabel}

	var planned []labelChange
	if to.IsInbox() {
		inbox.add = true
		planned = append(planned, inbox)
	} else {
		if to.LabelID == "" {
			return nil, apperr.Consistency("move thread",
				fmt.Errorf("bundle %q has no remote label", to.Name))
		}
		planned = append(planned,
			labelChange{display: to.Name, name: e.cfg.LabelName(to.Name), id: to.LabelID, add: true},
			inbox,
		)
	}
	if !from.IsInbox() && from.LabelID != "" {
		planned = append(planned,
			labelChange{display: from.Name, name: e.cfg.LabelName(from.Name), id: from.LabelID})
	}

	var changes []labelChange
	for _, c := range planned {
		seen := make(map[string]bool)
		for _, m := range emails {
			if m.Labels.ContainsFold(c.name) == c.add {
				continue
			}
			if m.MessageID == "" {
				return nil, apperr.Consistency("move thread",
					fmt.Errorf("message UID %d has no Message-ID to relabel", m.UID))
			}
			if !seen[m.MessageID] {
				seen[m.MessageID] = true
				c.targets = append(c.targets, m.MessageID)
			}
		}
		if len(c.targets) > 0 {
			changes = append(changes, c)
		}
	}
	return changes, nil
}

// labelOps turns planned changes into runner operations, one per label, so
// each can be undone on its own.
func (e *Engine) labelOps(account *model.Account, changes []labelChange) []task.Operation {
	ops := make([]task.Operation, 0, len(changes))
	for _, c := range changes {
		ids := []string{c.id}
		add := func(ctx context.Context) error {
			return e.labels.ModifyLabels(ctx, account, c.targets, ids, nil)
		}
		remove := func(ctx context.Context) error {
			return e.labels.ModifyLabels(ctx, account, c.targets, nil, ids)
		}
		if c.add {
			ops = append(ops, task.Operation{Name: "label " + c.display, Do: add, Undo: remove})
		} else {
			ops = append(ops, task.Operation{Name: "unlabel " + c.display, Do: remove, Undo: add})
		}
	}
	return ops
}

// applyLabels returns labels with changes applied.
func applyLabels(labels model.StringList, changes []labelChange) model.StringList {
	out := slices.Clone(labels)
	for _, c := range changes {
		out = slices.DeleteFunc(out, func(l string) bool { return strings.EqualFold(l, c.name) })
		if c.add {
			out = append(out, c.name)
		}
	}
	return out
}

// lockThread admits one move per thread at a time.
func (e *Engine) lockThread(accountID, threadID string) (func(), error) {
	key := accountID + "/" + threadID

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.moving[key] {
		return nil, fmt.Errorf("thread %s: %w", threadID, apperr.ErrMoveInProgress)
	}
	e.moving[key] = true

	return func() {
		e.mu.Lock()
		delete(e.moving, key)
		e.mu.Unlock()
	}, nil
}
