package credential

import (
	"context"
	"fmt"
	"os"
	"slices"
	gosync "sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
	"github.com/nhle/mailbundle/internal/store"
)

// Scopes cover IMAP access plus label and filter management.
var Scopes = []string{
	gmailapi.MailGoogleComScope,
	gmailapi.GmailSettingsBasicScope,
}

// LoadOAuthConfig reads an OAuth client definition downloaded from the
// provider console.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading oauth client %s: %w", path, err)
	}
	cfg, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing oauth client %s: %w", path, err)
	}
	return cfg, nil
}

// Manager hands out refreshing token sources. Refreshed tokens are
// written back to the keyring and their expiry to the store.
type Manager struct {
	config *oauth2.Config
	tokens *Tokens
	store  store.Store
	log    zerolog.Logger

	mu        gosync.Mutex
	sources   map[string]oauth2.TokenSource
	onReplace []func(accountID string)
}

var _ source.Credentials = (*Manager)(nil)

// NewManager creates a credential manager.
func NewManager(
	config *oauth2.Config,
	tokens *Tokens,
	s store.Store,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		config:  config,
		tokens:  tokens,
		store:   s,
		log:     log.With().Str("component", "credential").Logger(),
		sources: make(map[string]oauth2.TokenSource),
	}
}

// TokenSource returns the account's token source, refreshing on expiry.
func (m *Manager) TokenSource(
	_ context.Context,
	account *model.Account,
) (oauth2.TokenSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts, ok := m.sources[account.ID]; ok {
		return ts, nil
	}

	tok, err := m.tokens.Get(account.Address)
	if err != nil {
		return nil, err
	}

	ts := oauth2.ReuseTokenSource(tok, &persistingSource{
		base:    m.config.TokenSource(context.Background(), tok),
		manager: m,
		account: *account,
		last:    tok.AccessToken,
	})
	m.sources[account.ID] = ts
	return ts, nil
}

// OnReplace registers fn to run after a sign-in replaces an account's
// token. Clients caching token sources drop them there.
func (m *Manager) OnReplace(fn func(accountID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReplace = append(m.onReplace, fn)
}

// SaveToken stores a freshly exchanged token for account, replacing any
// cached source.
func (m *Manager) SaveToken(ctx context.Context, account *model.Account, tok *oauth2.Token) error {
	if err := m.tokens.Set(account.Address, tok); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sources, account.ID)
	hooks := slices.Clone(m.onReplace)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(account.ID)
	}
	return m.recordExpiry(ctx, account.ID, tok)
}

// AuthCodeURL returns the consent page for signing an account in.
func (m *Manager) AuthCodeURL(state string) string {
	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (m *Manager) Exchange(ctx context.Context, account *model.Account, code string) error {
	tok, err := m.config.Exchange(ctx, code)
	if err != nil {
		return apperr.Authorization("exchange code", err)
	}
	return m.SaveToken(ctx, account, tok)
}

func (m *Manager) recordExpiry(ctx context.Context, accountID string, tok *oauth2.Token) error {
	if tok.Expiry.IsZero() {
		return nil
	}
	return m.store.Update(ctx, func(tx *store.Tx) error {
		return tx.SetTokenExpiry(ctx, accountID, tok.Expiry)
	})
}

type persistingSource struct {
	base    oauth2.TokenSource
	manager *Manager
	account model.Account

	mu   gosync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, apperr.Authorization("refresh token", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken == p.last {
		return tok, nil
	}
	p.last = tok.AccessToken

	log := p.manager.log.With().Str("account", p.account.Address).Logger()
	if err := p.manager.tokens.Set(p.account.Address, tok); err != nil {
		log.Error().Err(err).Msg("persisting refreshed token")
	}
	if err := p.manager.recordExpiry(context.Background(), p.account.ID, tok); err != nil {
		log.Error().Err(err).Msg("recording token expiry")
	}
	log.Debug().Time("expiry", tok.Expiry).Msg("token refreshed")
	return tok, nil
}
