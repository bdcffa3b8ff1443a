package source

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/nhle/mailbundle/internal/model"
)

// RawMessage is one message as delivered by a header fetch: flags and
// header fields, never the body. Labels are filled in from a LabelReader.
type RawMessage struct {
	UID       uint32
	ModSeq    uint64
	Size      int64
	Flags     []string
	Labels    []string
	ThreadID  string
	MessageID string

	Subject       string
	FromName      string
	FromAddress   string
	SenderAddress string
	SentAt        time.Time
	ReceivedAt    time.Time
}

// Session is the per-account IMAP capability. Errors are transport or
// authorization errors from internal/apperr.
type Session interface {
	// FetchHeaders returns the messages of mailbox with from <= UID <= to.
	// A zero to means the highest UID on the server.
	FetchHeaders(
		ctx context.Context,
		account *model.Account,
		mailbox string,
		from, to uint32,
	) ([]RawMessage, error)

	// FetchBody returns the HTML (or, failing that, plain text) body of one
	// message.
	FetchBody(ctx context.Context, account *model.Account, mailbox string, uid uint32) (string, error)

	// UpdateFlags adds (add=true) or removes flags on the given messages.
	UpdateFlags(
		ctx context.Context,
		account *model.Account,
		mailbox string,
		uids []uint32,
		add bool,
		flags []string,
	) error
}

// Label is a remote label.
type Label struct {
	ID   string
	Name string
}

// FilterCriteria selects incoming messages. Only sender matching is used.
type FilterCriteria struct {
	From string
}

// FilterAction is applied to messages matching a filter.
type FilterAction struct {
	AddLabelIDs    []string
	RemoveLabelIDs []string
}

// Filter is a remote rule that labels future messages.
type Filter struct {
	ID       string
	Criteria FilterCriteria
	Action   FilterAction
}

// LabelReader reports the labels on messages. IMAP exposes no label
// metadata for the configured provider, so sync reads it here.
type LabelReader interface {
	// MessageLabels returns label names keyed by RFC 5322 Message-ID.
	// Messages with no remote match are absent from the result.
	MessageLabels(ctx context.Context, account *model.Account, messageIDs []string) (map[string][]string, error)
}

// LabelAPI is the remote label/filter capability. Any non-2xx response is
// returned as an *apperr.Error carrying the status code.
type LabelAPI interface {
	LabelReader

	ListLabels(ctx context.Context, account *model.Account) ([]Label, error)
	CreateLabel(ctx context.Context, account *model.Account, name string) (Label, error)

	ListFilters(ctx context.Context, account *model.Account) ([]Filter, error)
	CreateFilter(
		ctx context.Context,
		account *model.Account,
		criteria FilterCriteria,
		action FilterAction,
	) (Filter, error)
	DeleteFilter(ctx context.Context, account *model.Account, id string) error

	// ModifyLabels adds and removes label ids on the messages identified
	// by their RFC 5322 Message-IDs.
	ModifyLabels(
		ctx context.Context,
		account *model.Account,
		messageIDs []string,
		add, remove []string,
	) error
}

// Credentials hands out bearer tokens for an account.
type Credentials interface {
	TokenSource(ctx context.Context, account *model.Account) (oauth2.TokenSource, error)
}
