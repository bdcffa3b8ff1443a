package bundle

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
)

// sender identifies who a thread's incoming mail comes from.
type sender struct {
	Name    string
	Address string
}

// threadSender returns the sender of the most recently received message not
// sent by ownAddress.
func threadSender(emails []model.Email, ownAddress string) (sender, bool) {
	sorted := slices.Clone(emails)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReceivedAt.After(sorted[j].ReceivedAt)
	})
	for _, m := range sorted {
		addr := strings.TrimSpace(m.FromAddress)
		if addr == "" || strings.EqualFold(addr, ownAddress) {
			continue
		}
		return sender{Name: strings.TrimSpace(m.FromName), Address: addr}, true
	}
	return sender{}, false
}

// matches reports whether a filter's From criterion selects s. A sender
// without a display name is matched on address alone.
func (s sender) matches(f source.Filter) bool {
	from := strings.TrimSpace(f.Criteria.From)
	if from == "" {
		return false
	}
	if strings.EqualFold(from, s.Address) {
		return true
	}
	return s.Name != "" && strings.EqualFold(from, s.Name)
}

// dropFilters deletes the filters routing s into from. Used when a thread
// goes back to the inbox.
func (e *Engine) dropFilters(
	ctx context.Context,
	account *model.Account,
	s sender,
	from *model.EmailBundle,
) ([]string, error) {
	if from.IsInbox() || from.LabelID == "" {
		return nil, nil
	}

	filters, err := e.labels.ListFilters(ctx, account)
	if err != nil {
		return nil, err
	}

	var deleted []string
	var errs []error
	for _, f := range filters {
		if !s.matches(f) || !slices.Contains(f.Action.AddLabelIDs, from.LabelID) {
			continue
		}
		if err := e.labels.DeleteFilter(ctx, account, f.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, f.ID)
	}
	return deleted, errors.Join(errs...)
}

// routeSender makes sure exactly one bundle filter routes s into to. An
// existing filter for to leaves everything as is; filters routing s into
// other bundles are replaced.
func (e *Engine) routeSender(
	ctx context.Context,
	account *model.Account,
	s sender,
	to *model.EmailBundle,
) (*source.Filter, []string, error) {
	filters, err := e.labels.ListFilters(ctx, account)
	if err != nil {
		return nil, nil, err
	}

	bundles, err := e.store.Bundles(ctx, account.ID)
	if err != nil {
		return nil, nil, err
	}
	bundleLabels := make(map[string]bool, len(bundles))
	for _, b := range bundles {
		if b.LabelID != "" {
			bundleLabels[b.LabelID] = true
		}
	}

	var stale []source.Filter
	for _, f := range filters {
		if !s.matches(f) {
			continue
		}
		if slices.Contains(f.Action.AddLabelIDs, to.LabelID) {
			return nil, nil, nil
		}
		if slices.ContainsFunc(f.Action.AddLabelIDs, func(id string) bool { return bundleLabels[id] }) {
			stale = append(stale, f)
		}
	}

	var deleted []string
	for _, f := range stale {
		if err := e.labels.DeleteFilter(ctx, account, f.ID); err != nil {
			return nil, deleted, err
		}
		deleted = append(deleted, f.ID)
	}

	created, err := e.labels.CreateFilter(ctx, account,
		source.FilterCriteria{From: s.Address},
		source.FilterAction{
			AddLabelIDs:    []string{to.LabelID},
			RemoveLabelIDs: []string{e.cfg.InboxLabel, e.cfg.SpamLabel},
		},
	)
	if err != nil {
		return nil, deleted, err
	}

	e.log.Info().
		Str("account", account.Address).
		Str("sender", s.Address).
		Str("bundle", to.Name).
		Msg("filter created")
	return &created, deleted, nil
}
