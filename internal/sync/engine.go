package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
	"github.com/nhle/mailbundle/internal/store"
	"github.com/nhle/mailbundle/internal/task"
)

// Result describes one completed sync pass.
type Result struct {
	AccountID string
	StartUID  uint32
	Fetched   int
	Created   int
	Watermark uint32
	Duration  time.Duration
}

// Config holds the engine settings.
type Config struct {
	Bundles  model.BundleConfig
	Accounts []model.AccountConfig
}

// Engine pulls new messages for an account, persists them and files each
// one's thread into a bundle.
type Engine struct {
	store     store.Store
	session   source.Session
	labels    source.LabelReader
	runner    *task.Runner
	bundles   model.BundleConfig
	mailboxes map[string]string
	log       zerolog.Logger

	mu      gosync.Mutex
	syncing map[string]bool
}

// NewEngine creates a sync engine. labels supplies the label metadata the
// header fetch cannot carry; nil keeps whatever the session reports.
// runner backs the flag operations and its busy indicator is held for
// every sync.
func NewEngine(
	s store.Store,
	session source.Session,
	labels source.LabelReader,
	runner *task.Runner,
	cfg Config,
	log zerolog.Logger,
) *Engine {
	mailboxes := make(map[string]string, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		if a.Mailbox != "" {
			mailboxes[strings.ToLower(a.Address)] = a.Mailbox
		}
	}
	return &Engine{
		store:     s,
		session:   session,
		labels:    labels,
		runner:    runner,
		bundles:   cfg.Bundles,
		mailboxes: mailboxes,
		log:       log.With().Str("component", "sync").Logger(),
		syncing:   make(map[string]bool),
	}
}

// Mailbox returns the folder synced for account.
func (e *Engine) Mailbox(account *model.Account) string {
	if mb, ok := e.mailboxes[strings.ToLower(account.Address)]; ok {
		return mb
	}
	return model.DefaultMailbox
}

func (e *Engine) begin(accountID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing[accountID] {
		return false
	}
	e.syncing[accountID] = true
	return true
}

func (e *Engine) end(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.syncing, accountID)
}

// SyncAccount fetches every message above the account's watermark and
// persists and classifies them in one transaction. A second call for the
// same account while one is running fails with apperr.ErrSyncInProgress.
// Failures never advance the watermark; the engine does not retry.
func (e *Engine) SyncAccount(ctx context.Context, account *model.Account) (Result, error) {
	if !e.begin(account.ID) {
		return Result{}, fmt.Errorf("syncing %s: %w", account.Address, apperr.ErrSyncInProgress)
	}
	defer e.end(account.ID)

	release := e.runner.Busy().Acquire()
	defer release()

	started := time.Now()
	mailbox := e.Mailbox(account)
	log := e.log.With().Str("account", account.Address).Logger()

	high, err := e.store.MaxUID(ctx, account.ID, mailbox)
	if err != nil {
		return Result{}, err
	}
	var start uint32
	if high > 0 {
		start = high + 1
	}

	res := Result{AccountID: account.ID, StartUID: start, Watermark: high}
	log.Debug().Uint32("start_uid", start).Msg("sync started")

	raws, err := e.session.FetchHeaders(ctx, account, mailbox, start, 0)
	if err != nil {
		log.Warn().Err(err).Msg("fetching headers failed")
		return res, fmt.Errorf("syncing %s: %w", account.Address, err)
	}
	res.Fetched = len(raws)

	if err := e.attachLabels(ctx, account, raws); err != nil {
		log.Warn().Err(err).Msg("fetching labels failed")
		return res, fmt.Errorf("syncing %s: %w", account.Address, err)
	}

	emails := make([]model.Email, 0, len(raws))
	for _, raw := range raws {
		emails = append(emails, toEmail(account.ID, mailbox, raw))
	}
	sort.Slice(emails, func(i, j int) bool { return emails[i].UID < emails[j].UID })

	err = e.store.Update(ctx, func(tx *store.Tx) error {
		created, err := tx.InsertEmails(ctx, emails)
		if err != nil {
			return err
		}
		for _, m := range created {
			if err := e.classify(ctx, tx, m); err != nil {
				return err
			}
			res.Watermark = max(res.Watermark, m.UID)
		}
		res.Created = len(created)
		return tx.SetAccountSynced(ctx, account.ID, time.Now())
	})
	if err != nil {
		log.Error().Err(err).Int("fetched", len(raws)).Msg("sync failed")
		return Result{AccountID: account.ID, StartUID: start, Watermark: high},
			fmt.Errorf("syncing %s: %w", account.Address, err)
	}

	res.Duration = time.Since(started)
	log.Info().
		Uint32("start_uid", start).
		Int("created", res.Created).
		Uint32("watermark", res.Watermark).
		Dur("duration", res.Duration).
		Msg("sync finished")
	return res, nil
}

// attachLabels merges each message's remote labels into raws.
func (e *Engine) attachLabels(ctx context.Context, account *model.Account, raws []source.RawMessage) error {
	if e.labels == nil || len(raws) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(raws))
	ids := make([]string, 0, len(raws))
	for _, r := range raws {
		if r.MessageID != "" && !seen[r.MessageID] {
			seen[r.MessageID] = true
			ids = append(ids, r.MessageID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	found, err := e.labels.MessageLabels(ctx, account, ids)
	if err != nil {
		return err
	}
	for i := range raws {
		for _, l := range found[raws[i].MessageID] {
			if !model.StringList(raws[i].Labels).ContainsFold(l) {
				raws[i].Labels = append(raws[i].Labels, l)
			}
		}
	}
	return nil
}

// classify files the message's thread into the bundle its labels name.
func (e *Engine) classify(ctx context.Context, tx *store.Tx, m model.Email) error {
	th, err := tx.UpsertThread(ctx, m.AccountID, m.ThreadID, m.Subject, m.ReceivedAt)
	if err != nil {
		return err
	}

	name, ok := Classify(m.Labels, e.bundles)
	if !ok {
		return nil
	}

	b, err := tx.RequireBundle(ctx, m.AccountID, name)
	if err != nil {
		e.log.Error().Err(err).Uint32("uid", m.UID).Str("bundle", name).Msg("classification failed")
		return err
	}
	if th.InBundle(b.ID) {
		return nil
	}
	return tx.SetThreadBundle(ctx, th, &b.ID)
}

func toEmail(accountID, mailbox string, raw source.RawMessage) model.Email {
	return model.Email{
		AccountID:     accountID,
		Mailbox:       mailbox,
		UID:           raw.UID,
		ModSeq:        raw.ModSeq,
		Size:          raw.Size,
		Flags:         model.StringList(raw.Flags),
		Labels:        model.StringList(raw.Labels),
		ThreadID:      raw.ThreadID,
		MessageID:     raw.MessageID,
		Subject:       raw.Subject,
		FromName:      raw.FromName,
		FromAddress:   raw.FromAddress,
		SenderAddress: raw.SenderAddress,
		SentAt:        raw.SentAt,
		ReceivedAt:    raw.ReceivedAt,
	}
}
