package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
)

const dialTimeout = 30 * time.Second

// headerSection requests only the headers needed for thread correlation.
var headerSection = &goimap.FetchItemBodySection{
	Specifier:    goimap.PartSpecifierHeader,
	HeaderFields: []string{"Message-Id", "In-Reply-To", "References"},
	Peek:         true,
}

// Client implements source.Session over go-imap v2. Every call dials,
// authenticates with OAUTHBEARER, selects the mailbox and logs out.
type Client struct {
	accounts map[string]model.AccountConfig
	creds    source.Credentials
	log      zerolog.Logger
}

var _ source.Session = (*Client)(nil)

// NewClient creates a session client for the configured accounts.
func NewClient(
	accounts []model.AccountConfig,
	creds source.Credentials,
	log zerolog.Logger,
) *Client {
	byAddr := make(map[string]model.AccountConfig, len(accounts))
	for _, a := range accounts {
		byAddr[strings.ToLower(a.Address)] = a
	}
	return &Client{
		accounts: byAddr,
		creds:    creds,
		log:      log.With().Str("component", "imap").Logger(),
	}
}

// connect establishes an authenticated connection for account. The caller
// is responsible for calling Logout/Close on the returned client.
func (c *Client) connect(
	ctx context.Context,
	account *model.Account,
) (*imapclient.Client, error) {
	cfg, ok := c.accounts[strings.ToLower(account.Address)]
	if !ok || cfg.IMAPHost == "" {
		return nil, fmt.Errorf("no IMAP settings for %s", account.Address)
	}

	ts, err := c.creds.TokenSource(ctx, account)
	if err != nil {
		return nil, apperr.Authorization("imap login", err)
	}
	tok, err := ts.Token()
	if err != nil {
		return nil, apperr.Authorization("imap login", err)
	}

	addr := net.JoinHostPort(cfg.IMAPHost, cfg.IMAPPort)
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    &tls.Config{ServerName: cfg.IMAPHost},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperr.Transport("imap dial",
			fmt.Errorf("connecting to IMAP %s: %w", addr, err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client := imapclient.New(conn, nil)

	port, _ := strconv.Atoi(cfg.IMAPPort)
	auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: account.Address,
		Token:    tok.AccessToken,
		Host:     cfg.IMAPHost,
		Port:     port,
	})
	if err := client.Authenticate(auth); err != nil {
		_ = client.Close()
		return nil, apperr.Authorization("imap login",
			fmt.Errorf("authentication failed for %s: %w", account.Address, err))
	}

	return client, nil
}

// withMailbox connects, selects mailbox and runs fn.
func (c *Client) withMailbox(
	ctx context.Context,
	account *model.Account,
	mailbox string,
	readOnly bool,
	fn func(client *imapclient.Client, sel *goimap.SelectData) error,
) error {
	client, err := c.connect(ctx, account)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Logout().Wait()
		_ = client.Close()
	}()

	sel, err := client.Select(mailbox, &goimap.SelectOptions{ReadOnly: readOnly}).Wait()
	if err != nil {
		return apperr.Transport("imap select", fmt.Errorf("selecting %s: %w", mailbox, err))
	}

	return fn(client, sel)
}

// FetchHeaders fetches flags, envelope and correlation headers for
// messages with from <= UID <= to (to == 0 meaning the newest message).
func (c *Client) FetchHeaders(
	ctx context.Context,
	account *model.Account,
	mailbox string,
	from, to uint32,
) ([]source.RawMessage, error) {
	var out []source.RawMessage

	err := c.withMailbox(ctx, account, mailbox, true,
		func(client *imapclient.Client, sel *goimap.SelectData) error {
			if sel.NumMessages == 0 {
				return nil
			}

			uidSet := goimap.UIDSet{goimap.UIDRange{
				Start: goimap.UID(max(from, 1)),
				Stop:  goimap.UID(to),
			}}
			opts := &goimap.FetchOptions{
				UID:          true,
				Flags:        true,
				Envelope:     true,
				InternalDate: true,
				RFC822Size:   true,
				BodySection:  []*goimap.FetchItemBodySection{headerSection},
			}
			if client.Caps().Has(goimap.CapCondStore) {
				opts.ModSeq = true
			}

			fetchCmd := client.Fetch(uidSet, opts)
			defer fetchCmd.Close()

			for {
				msg := fetchCmd.Next()
				if msg == nil {
					break
				}

				// A skipped message would fall below the watermark for good.
				buf, err := msg.Collect()
				if err != nil {
					return apperr.Transport("imap fetch", fmt.Errorf("collecting message: %w", err))
				}

				// "N:*" always returns the newest message, even below N.
				uid := uint32(buf.UID)
				if uid < from || (to != 0 && uid > to) {
					continue
				}

				out = append(out, rawFromBuffer(buf, buf.FindBodySection(headerSection)))
			}

			if err := fetchCmd.Close(); err != nil {
				return apperr.Transport("imap fetch", fmt.Errorf("fetching headers: %w", err))
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("account", account.Address).
		Uint32("from", from).
		Int("count", len(out)).
		Msg("fetched headers")
	return out, nil
}

// FetchBody fetches and decodes the body of a single message, preferring
// the HTML part.
func (c *Client) FetchBody(
	ctx context.Context,
	account *model.Account,
	mailbox string,
	uid uint32,
) (string, error) {
	var body string

	err := c.withMailbox(ctx, account, mailbox, true,
		func(client *imapclient.Client, _ *goimap.SelectData) error {
			section := &goimap.FetchItemBodySection{Peek: true}
			fetchCmd := client.Fetch(goimap.UIDSetNum(goimap.UID(uid)), &goimap.FetchOptions{
				UID:         true,
				BodySection: []*goimap.FetchItemBodySection{section},
			})
			defer fetchCmd.Close()

			msg := fetchCmd.Next()
			if msg == nil {
				return fmt.Errorf("message UID %d: %w", uid, apperr.ErrNotFound)
			}

			buf, err := msg.Collect()
			if err != nil {
				return apperr.Transport("imap fetch", fmt.Errorf("collecting message data: %w", err))
			}

			text, html := parseMIMEBody(buf.FindBodySection(section))
			body = html
			if body == "" {
				body = text
			}

			if err := fetchCmd.Close(); err != nil {
				return apperr.Transport("imap fetch", fmt.Errorf("closing fetch: %w", err))
			}
			return nil
		},
	)
	return body, err
}

// UpdateFlags adds or removes flags on the given messages.
func (c *Client) UpdateFlags(
	ctx context.Context,
	account *model.Account,
	mailbox string,
	uids []uint32,
	add bool,
	flags []string,
) error {
	if len(uids) == 0 || len(flags) == 0 {
		return nil
	}

	return c.withMailbox(ctx, account, mailbox, false,
		func(client *imapclient.Client, _ *goimap.SelectData) error {
			set := make([]goimap.UID, len(uids))
			for i, u := range uids {
				set[i] = goimap.UID(u)
			}
			imapFlags := make([]goimap.Flag, len(flags))
			for i, f := range flags {
				imapFlags[i] = goimap.Flag(f)
			}

			op := goimap.StoreFlagsAdd
			if !add {
				op = goimap.StoreFlagsDel
			}

			storeCmd := client.Store(goimap.UIDSetNum(set...), &goimap.StoreFlags{
				Op:     op,
				Silent: true,
				Flags:  imapFlags,
			}, nil)
			if err := storeCmd.Close(); err != nil {
				return apperr.Transport("imap store", fmt.Errorf("updating flags: %w", err))
			}
			return nil
		},
	)
}
