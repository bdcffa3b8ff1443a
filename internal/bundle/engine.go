package bundle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"

	"github.com/rs/zerolog"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
	"github.com/nhle/mailbundle/internal/store"
	"github.com/nhle/mailbundle/internal/task"
)

// Engine maps bundles onto remote labels and filters and moves threads
// between bundles.
type Engine struct {
	store  store.Store
	labels source.LabelAPI
	runner *task.Runner
	cfg    model.BundleConfig
	log    zerolog.Logger

	mu     gosync.Mutex
	moving map[string]bool
}

// NewEngine creates a bundle engine.
func NewEngine(
	s store.Store,
	labels source.LabelAPI,
	runner *task.Runner,
	cfg model.BundleConfig,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		store:  s,
		labels: labels,
		runner: runner,
		cfg:    cfg,
		log:    log.With().Str("component", "bundle").Logger(),
		moving: make(map[string]bool),
	}
}

// DiscoverBundles ensures a local bundle exists for every remote label in
// the bundle namespace and that each stores the current label id. It
// returns the account's bundles afterwards.
func (e *Engine) DiscoverBundles(
	ctx context.Context,
	account *model.Account,
) ([]model.EmailBundle, error) {
	labels, err := e.labels.ListLabels(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("discovering bundles for %s: %w", account.Address, err)
	}

	var bundles []model.EmailBundle
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		for _, l := range labels {
			name, ok := strings.CutPrefix(l.Name, e.cfg.Prefix)
			if !ok || name == "" || name == model.InboxBundle {
				continue
			}

			b, err := tx.BundleByName(ctx, account.ID, name)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
				if _, err := tx.CreateBundle(ctx, model.EmailBundle{
					AccountID: account.ID,
					Name:      name,
					LabelID:   l.ID,
				}); err != nil {
					return err
				}
				e.log.Info().Str("account", account.Address).Str("bundle", name).Msg("bundle discovered")
			case err != nil:
				return err
			case b.LabelID != l.ID:
				if err := tx.SetBundleLabel(ctx, b, l.ID); err != nil {
					return err
				}
			}
		}

		var err error
		bundles, err = tx.Bundles(ctx, account.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("discovering bundles for %s: %w", account.Address, err)
	}
	return bundles, nil
}

// CreateBundle returns the bundle called name, creating it when missing:
// the remote label first, then the local bundle referencing it.
func (e *Engine) CreateBundle(
	ctx context.Context,
	account *model.Account,
	name, icon string,
) (*model.EmailBundle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("bundle name must not be empty")
	}

	existing, err := e.store.BundleByName(ctx, account.ID, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	labelName := e.cfg.LabelName(name)
	label, err := e.labels.CreateLabel(ctx, account, labelName)
	if apperr.IsConflict(err) {
		label, err = e.adoptLabel(ctx, account, labelName)
	}
	if err != nil {
		return nil, fmt.Errorf("creating bundle %q: %w", name, err)
	}

	var b *model.EmailBundle
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		found, err := tx.BundleByName(ctx, account.ID, name)
		if err == nil {
			b = found
			if found.LabelID == label.ID {
				return nil
			}
			return tx.SetBundleLabel(ctx, found, label.ID)
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		b, err = tx.CreateBundle(ctx, model.EmailBundle{
			AccountID: account.ID,
			Name:      name,
			LabelID:   label.ID,
			Icon:      icon,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bundle %q: %w", name, err)
	}

	e.log.Info().Str("account", account.Address).Str("bundle", name).Str("label", label.ID).Msg("bundle created")
	return b, nil
}

// adoptLabel resolves a label that already exists remotely by name.
func (e *Engine) adoptLabel(
	ctx context.Context,
	account *model.Account,
	labelName string,
) (source.Label, error) {
	labels, err := e.labels.ListLabels(ctx, account)
	if err != nil {
		return source.Label{}, err
	}
	for _, l := range labels {
		if l.Name == labelName {
			return l, nil
		}
	}
	return source.Label{}, apperr.Consistency("adopt label",
		fmt.Errorf("label %q conflicts but is not listed", labelName))
}
