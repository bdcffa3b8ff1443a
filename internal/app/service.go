package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/bundle"
	"github.com/nhle/mailbundle/internal/credential"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
	"github.com/nhle/mailbundle/internal/source/gmail"
	"github.com/nhle/mailbundle/internal/source/imap"
	"github.com/nhle/mailbundle/internal/store"
	appsync "github.com/nhle/mailbundle/internal/sync"
	"github.com/nhle/mailbundle/internal/task"
)

// Deps are the collaborators a Service is built from.
type Deps struct {
	Store   store.Store
	Session source.Session
	Labels  source.LabelAPI
}

// Service owns the single instance of every engine and the shared busy
// indicator. It is constructed once at startup and handed to the CLI and
// the terminal UI.
type Service struct {
	cfg    *model.AppConfig
	store  store.Store
	creds  *credential.Manager
	busy   *task.Indicator
	runner *task.Runner
	sync   *appsync.Engine
	bundle *bundle.Engine
	poller *appsync.Poller
	log    zerolog.Logger

	mu         gosync.Mutex
	discovered map[string]bool
}

var _ appsync.Syncer = (*Service)(nil)

// New wires the engines around deps.
func New(cfg *model.AppConfig, deps Deps, log zerolog.Logger) *Service {
	busy := task.NewIndicator()
	runner := task.NewRunner(busy, log,
		task.WithRetries(cfg.Runner.MaxRetries, time.Duration(cfg.Runner.RetryDelayMs)*time.Millisecond),
	)

	s := &Service{
		cfg:    cfg,
		store:  deps.Store,
		busy:   busy,
		runner: runner,
		sync: appsync.NewEngine(deps.Store, deps.Session, deps.Labels, runner, appsync.Config{
			Bundles:  cfg.Bundles,
			Accounts: cfg.Accounts,
		}, log),
		bundle:     bundle.NewEngine(deps.Store, deps.Labels, runner, cfg.Bundles, log),
		log:        log.With().Str("component", "app").Logger(),
		discovered: make(map[string]bool),
	}
	s.poller = appsync.NewPoller(s, log)
	return s
}

// NewService opens the local store and the credential store and builds
// the IMAP and label clients described by cfg.
func NewService(cfg *model.AppConfig, log zerolog.Logger) (*Service, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	ring, err := credential.OpenKeyring(model.DefaultConfigDir())
	if err != nil {
		st.Close()
		return nil, err
	}
	oauthCfg, err := credential.LoadOAuthConfig(cfg.Gmail.CredentialsFile)
	if err != nil {
		st.Close()
		return nil, err
	}
	creds := credential.NewManager(oauthCfg, credential.NewTokens(ring), st, log)
	labels := gmail.NewClient(creds, cfg.Gmail, log)
	creds.OnReplace(labels.Forget)

	s := New(cfg, Deps{
		Store:   st,
		Session: imap.NewClient(cfg.Accounts, creds, log),
		Labels:  labels,
	}, log)
	s.creds = creds
	return s, nil
}

// Close stops polling and closes the store.
func (s *Service) Close() error {
	s.poller.Stop()
	return s.store.Close()
}

// Store exposes the local store for read-only views.
func (s *Service) Store() store.Store { return s.store }

// Busy is the indicator raised while any sync or runner invocation is in
// flight.
func (s *Service) Busy() *task.Indicator { return s.busy }

// Poller returns the scheduled sync driver.
func (s *Service) Poller() *appsync.Poller { return s.poller }

// Config returns the loaded configuration.
func (s *Service) Config() *model.AppConfig { return s.cfg }

// EnsureAccounts creates a store account (and its inbox bundle) for every
// enabled configured address.
func (s *Service) EnsureAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		for _, ac := range s.cfg.Accounts {
			if !ac.Enabled {
				continue
			}
			a, err := tx.EnsureAccount(ctx, ac.Address, model.ProviderLabels)
			if err != nil {
				return err
			}
			accounts = append(accounts, *a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring accounts: %w", err)
	}
	return accounts, nil
}

// Account resolves a configured account by address.
func (s *Service) Account(ctx context.Context, address string) (*model.Account, error) {
	if _, ok := s.cfg.Account(address); !ok {
		return nil, fmt.Errorf("account %s is not configured", address)
	}
	var a *model.Account
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		a, err = tx.EnsureAccount(ctx, address, model.ProviderLabels)
		return err
	})
	return a, err
}

// SyncAccount runs one sync pass. Bundles are discovered before the
// account's first pass, and again when a pass names a bundle the store
// does not know; the pass is then retried once.
func (s *Service) SyncAccount(ctx context.Context, account *model.Account) (appsync.Result, error) {
	if !s.isDiscovered(account.ID) {
		if _, err := s.Discover(ctx, account); err != nil {
			return appsync.Result{AccountID: account.ID}, err
		}
	}

	res, err := s.sync.SyncAccount(ctx, account)
	if !errors.Is(err, apperr.ErrBundleNotFound) {
		return res, err
	}

	s.log.Info().Str("account", account.Address).Msg("unknown bundle during sync, rediscovering")
	if _, derr := s.Discover(ctx, account); derr != nil {
		return res, errors.Join(err, derr)
	}
	return s.sync.SyncAccount(ctx, account)
}

// SyncAll syncs every enabled account in turn.
func (s *Service) SyncAll(ctx context.Context) ([]appsync.PollResult, error) {
	accounts, err := s.EnsureAccounts(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]appsync.PollResult, 0, len(accounts))
	for i := range accounts {
		res, err := s.SyncAccount(ctx, &accounts[i])
		results = append(results, appsync.PollResult{
			Address:   accounts[i].Address,
			Result:    res,
			Error:     err,
			AuthError: apperr.IsAuth(err),
		})
	}
	return results, nil
}

// Discover reconciles local bundles with the remote labels.
func (s *Service) Discover(ctx context.Context, account *model.Account) ([]model.EmailBundle, error) {
	bundles, err := s.bundle.DiscoverBundles(ctx, account)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.discovered[account.ID] = true
	s.mu.Unlock()
	return bundles, nil
}

func (s *Service) isDiscovered(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discovered[accountID]
}

// CreateBundle creates (or returns) the named bundle.
func (s *Service) CreateBundle(
	ctx context.Context,
	account *model.Account,
	name, icon string,
) (*model.EmailBundle, error) {
	return s.bundle.CreateBundle(ctx, account, name, icon)
}

// MoveThread moves a thread between bundles given by name.
func (s *Service) MoveThread(
	ctx context.Context,
	account *model.Account,
	threadID, fromName, toName string,
	alwaysFilter bool,
) (bundle.MoveResult, error) {
	from, err := s.store.BundleByName(ctx, account.ID, fromName)
	if err != nil {
		return bundle.MoveResult{}, fmt.Errorf("bundle %q: %w", fromName, err)
	}
	to, err := s.store.BundleByName(ctx, account.ID, toName)
	if err != nil {
		return bundle.MoveResult{}, fmt.Errorf("bundle %q: %w", toName, err)
	}
	return s.bundle.MoveThread(ctx, account, threadID, from, to, alwaysFilter)
}

// FetchBody returns an email body, fetching it on first use.
func (s *Service) FetchBody(ctx context.Context, emailID string) (string, error) {
	return s.sync.FetchBody(ctx, emailID)
}

// SetThreadSeen marks a thread seen or unseen locally and remotely.
func (s *Service) SetThreadSeen(ctx context.Context, account *model.Account, threadID string, seen bool) error {
	return s.sync.SetThreadSeen(ctx, account, threadID, seen)
}

// SetThreadFlagged flags or unflags a thread locally and remotely.
func (s *Service) SetThreadFlagged(ctx context.Context, account *model.Account, threadID string, flagged bool) error {
	return s.sync.SetThreadFlagged(ctx, account, threadID, flagged)
}

// StartPolling registers every enabled account and starts the poller.
func (s *Service) StartPolling(ctx context.Context) ([]model.Account, error) {
	accounts, err := s.EnsureAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		ac, _ := s.cfg.Account(a.Address)
		s.poller.Register(a, time.Duration(ac.PollIntervalSec)*time.Second)
	}
	s.poller.Start()
	return accounts, nil
}

// LoginURL returns the consent page for signing address in.
func (s *Service) LoginURL(address string) (string, error) {
	if s.creds == nil {
		return "", errors.New("no credential manager configured")
	}
	return s.creds.AuthCodeURL(address), nil
}

// CompleteLogin exchanges the authorization code and stores the token.
func (s *Service) CompleteLogin(ctx context.Context, address, code string) error {
	if s.creds == nil {
		return errors.New("no credential manager configured")
	}
	account, err := s.Account(ctx, address)
	if err != nil {
		return err
	}
	return s.creds.Exchange(ctx, account, code)
}
