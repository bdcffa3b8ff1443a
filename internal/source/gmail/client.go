package gmail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
)

const (
	me = "me"

	// batchModifyLimit is the provider's cap on ids per batchModify call.
	batchModifyLimit = 1000
)

// Client implements source.LabelAPI on the Gmail REST API. Calls share a
// rate limiter and a circuit breaker across accounts.
type Client struct {
	creds   source.Credentials
	opts    []option.ClientOption
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger

	mu       gosync.Mutex
	services map[string]*gmailapi.Service
}

var _ source.LabelAPI = (*Client)(nil)

// NewClient creates a label/filter client. opts are appended to every
// service (endpoint overrides in tests).
func NewClient(
	creds source.Credentials,
	cfg model.GmailConfig,
	log zerolog.Logger,
	opts ...option.ClientOption,
) *Client {
	log = log.With().Str("component", "gmail").Logger()

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Client{
		creds:    creds,
		opts:     opts,
		cb:       gobreaker.NewCircuitBreaker(cbSettings),
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		log:      log,
		services: make(map[string]*gmailapi.Service),
	}
}

func (c *Client) service(ctx context.Context, account *model.Account) (*gmailapi.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if svc, ok := c.services[account.ID]; ok {
		return svc, nil
	}

	ts, err := c.creds.TokenSource(ctx, account)
	if err != nil {
		return nil, apperr.Authorization("gmail auth", err)
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	svc, err := gmailapi.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	c.services[account.ID] = svc
	return svc, nil
}

// Forget drops the cached service for accountID so the next call picks up
// a fresh token source.
func (c *Client) Forget(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, accountID)
}

// call runs one API request under the rate limiter and circuit breaker.
// Client errors do not trip the breaker.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Transport(op, err)
	}

	_, err := c.cb.Execute(func() (any, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 &&
				apiErr.Code != 408 && apiErr.Code != 429 {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		err = nce.err
	}
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Str("breaker", c.cb.State().String()).Msg("api call failed")
		return wrapError(op, err)
	}
	return nil
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// wrapError maps API failures onto the error taxonomy, keeping the status.
func wrapError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apperr.FromStatus(op, apiErr.Code, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return apperr.Authorization(op, err)
	}
	return apperr.Transport(op, err)
}

// ListLabels lists every label of the account.
func (c *Client) ListLabels(ctx context.Context, account *model.Account) ([]source.Label, error) {
	svc, err := c.service(ctx, account)
	if err != nil {
		return nil, err
	}

	var resp *gmailapi.ListLabelsResponse
	err = c.call(ctx, "list labels", func() error {
		var err error
		resp, err = svc.Users.Labels.List(me).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	labels := make([]source.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, source.Label{ID: l.Id, Name: l.Name})
	}
	return labels, nil
}

// CreateLabel creates a visible label. A name clash is reported as a 409
// conflict.
func (c *Client) CreateLabel(
	ctx context.Context,
	account *model.Account,
	name string,
) (source.Label, error) {
	svc, err := c.service(ctx, account)
	if err != nil {
		return source.Label{}, err
	}

	var created *gmailapi.Label
	err = c.call(ctx, "create label", func() error {
		var err error
		created, err = svc.Users.Labels.Create(me, &gmailapi.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return source.Label{}, err
	}
	return source.Label{ID: created.Id, Name: created.Name}, nil
}

// ListFilters lists the account's filters.
func (c *Client) ListFilters(ctx context.Context, account *model.Account) ([]source.Filter, error) {
	svc, err := c.service(ctx, account)
	if err != nil {
		return nil, err
	}

	var resp *gmailapi.ListFiltersResponse
	err = c.call(ctx, "list filters", func() error {
		var err error
		resp, err = svc.Users.Settings.Filters.List(me).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	filters := make([]source.Filter, 0, len(resp.Filter))
	for _, f := range resp.Filter {
		filters = append(filters, filterFromAPI(f))
	}
	return filters, nil
}

func filterFromAPI(f *gmailapi.Filter) source.Filter {
	out := source.Filter{ID: f.Id}
	if f.Criteria != nil {
		out.Criteria.From = f.Criteria.From
	}
	if f.Action != nil {
		out.Action.AddLabelIDs = f.Action.AddLabelIds
		out.Action.RemoveLabelIDs = f.Action.RemoveLabelIds
	}
	return out
}

// CreateFilter creates a filter.
func (c *Client) CreateFilter(
	ctx context.Context,
	account *model.Account,
	criteria source.FilterCriteria,
	action source.FilterAction,
) (source.Filter, error) {
	svc, err := c.service(ctx, account)
	if err != nil {
		return source.Filter{}, err
	}

	var created *gmailapi.Filter
	err = c.call(ctx, "create filter", func() error {
		var err error
		created, err = svc.Users.Settings.Filters.Create(me, &gmailapi.Filter{
			Criteria: &gmailapi.FilterCriteria{From: criteria.From},
			Action: &gmailapi.FilterAction{
				AddLabelIds:    action.AddLabelIDs,
				RemoveLabelIds: action.RemoveLabelIDs,
			},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return source.Filter{}, err
	}
	return filterFromAPI(created), nil
}

// DeleteFilter deletes a filter by id.
func (c *Client) DeleteFilter(ctx context.Context, account *model.Account, id string) error {
	svc, err := c.service(ctx, account)
	if err != nil {
		return err
	}
	return c.call(ctx, "delete filter", func() error {
		return svc.Users.Settings.Filters.Delete(me, id).Context(ctx).Do()
	})
}

// ModifyLabels resolves each RFC 5322 Message-ID to the provider's message
// ids and applies the label changes in batches. Message-IDs with no remote
// match are skipped; when none match the call fails as a consistency error.
func (c *Client) ModifyLabels(
	ctx context.Context,
	account *model.Account,
	messageIDs []string,
	add, remove []string,
) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	svc, err := c.service(ctx, account)
	if err != nil {
		return err
	}

	var ids []string
	for _, mid := range messageIDs {
		resolved, err := c.resolve(ctx, svc, mid)
		if err != nil {
			return err
		}
		if len(resolved) == 0 {
			c.log.Warn().Str("account", account.Address).Str("message_id", mid).Msg("message not found remotely")
		}
		ids = append(ids, resolved...)
	}
	if len(ids) == 0 && len(messageIDs) > 0 {
		return apperr.Consistency("modify labels",
			fmt.Errorf("none of %d messages found remotely: %w", len(messageIDs), apperr.ErrNotFound))
	}

	for start := 0; start < len(ids); start += batchModifyLimit {
		end := min(start+batchModifyLimit, len(ids))
		req := &gmailapi.BatchModifyMessagesRequest{
			Ids:            ids[start:end],
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}
		err := c.call(ctx, "modify labels", func() error {
			return svc.Users.Messages.BatchModify(me, req).Context(ctx).Do()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) resolve(ctx context.Context, svc *gmailapi.Service, messageID string) ([]string, error) {
	messageID = strings.Trim(strings.TrimSpace(messageID), "<>")
	if messageID == "" {
		return nil, nil
	}

	var resp *gmailapi.ListMessagesResponse
	err := c.call(ctx, "resolve message", func() error {
		var err error
		resp, err = svc.Users.Messages.List(me).
			Q("rfc822msgid:" + messageID).
			IncludeSpamTrash(true).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// MessageLabels looks up the labels on each message, keyed by its
// Message-ID. Label ids are translated to names; system labels such as
// INBOX and SENT use the same string for both. Messages with no remote
// match are left out.
func (c *Client) MessageLabels(
	ctx context.Context,
	account *model.Account,
	messageIDs []string,
) (map[string][]string, error) {
	out := make(map[string][]string, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	svc, err := c.service(ctx, account)
	if err != nil {
		return nil, err
	}

	labels, err := c.ListLabels(ctx, account)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(labels))
	for _, l := range labels {
		names[l.ID] = l.Name
	}

	for _, mid := range messageIDs {
		resolved, err := c.resolve(ctx, svc, mid)
		if err != nil {
			return nil, err
		}
		if len(resolved) == 0 {
			c.log.Debug().Str("account", account.Address).Str("message_id", mid).Msg("no remote labels for message")
			continue
		}

		var msg *gmailapi.Message
		err = c.call(ctx, "get message labels", func() error {
			var err error
			msg, err = svc.Users.Messages.Get(me, resolved[0]).
				Format("minimal").
				Fields("id", "labelIds").
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		named := make([]string, 0, len(msg.LabelIds))
		for _, id := range msg.LabelIds {
			if name, ok := names[id]; ok {
				named = append(named, name)
			} else {
				named = append(named, id)
			}
		}
		out[mid] = named
	}
	return out, nil
}
