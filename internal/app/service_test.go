package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
	"github.com/nhle/mailbundle/tests/testutil"
)

type stubSession struct {
	messages []source.RawMessage
}

func (s *stubSession) FetchHeaders(
	_ context.Context,
	_ *model.Account,
	_ string,
	from, _ uint32,
) ([]source.RawMessage, error) {
	var out []source.RawMessage
	for _, m := range s.messages {
		if m.UID >= from {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubSession) FetchBody(context.Context, *model.Account, string, uint32) (string, error) {
	return "", nil
}

func (s *stubSession) UpdateFlags(context.Context, *model.Account, string, []uint32, bool, []string) error {
	return nil
}

type stubLabels struct {
	labels    []source.Label
	listCalls int
	listErr   error
	onMessage map[string][]string
}

func (s *stubLabels) MessageLabels(_ context.Context, _ *model.Account, ids []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, id := range ids {
		if l, ok := s.onMessage[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (s *stubLabels) ListLabels(context.Context, *model.Account) ([]source.Label, error) {
	s.listCalls++
	return s.labels, s.listErr
}

func (s *stubLabels) CreateLabel(_ context.Context, _ *model.Account, name string) (source.Label, error) {
	l := source.Label{ID: "Label_" + name, Name: name}
	s.labels = append(s.labels, l)
	return l, nil
}

func (s *stubLabels) ListFilters(context.Context, *model.Account) ([]source.Filter, error) {
	return nil, nil
}

func (s *stubLabels) CreateFilter(
	context.Context,
	*model.Account,
	source.FilterCriteria,
	source.FilterAction,
) (source.Filter, error) {
	return source.Filter{}, nil
}

func (s *stubLabels) DeleteFilter(context.Context, *model.Account, string) error { return nil }

func (s *stubLabels) ModifyLabels(context.Context, *model.Account, []string, []string, []string) error {
	return nil
}

var t0 = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func raw(uid uint32, thread string, labels ...string) source.RawMessage {
	return source.RawMessage{
		UID:         uid,
		ThreadID:    thread,
		MessageID:   thread + "@x",
		Labels:      labels,
		FromAddress: "news@shop.com",
		SentAt:      t0,
		ReceivedAt:  t0.Add(time.Duration(uid) * time.Minute),
	}
}

func newTestService(t *testing.T) (*Service, *stubSession, *stubLabels) {
	t.Helper()
	cfg := &model.AppConfig{
		Accounts: []model.AccountConfig{{Address: "me@x.com", Enabled: true, Mailbox: model.DefaultMailbox}},
		Bundles: model.BundleConfig{
			Prefix:     "ns/",
			SentLabel:  "SENT",
			InboxLabel: "INBOX",
			SpamLabel:  "SPAM",
		},
	}
	session := &stubSession{}
	labels := &stubLabels{}
	s := New(cfg, Deps{Store: testutil.NewTestStore(t), Session: session, Labels: labels}, zerolog.Nop())
	return s, session, labels
}

func TestSyncDiscoversBeforeFirstPass(t *testing.T) {
	s, session, labels := newTestService(t)
	ctx := context.Background()
	labels.labels = []source.Label{{ID: "Label_1", Name: "ns/finance"}}
	session.messages = []source.RawMessage{raw(1, "T1", "ns/finance"), raw(2, "T2")}

	account, err := s.Account(ctx, "me@x.com")
	require.NoError(t, err)

	res, err := s.SyncAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, labels.listCalls)

	finance, err := s.Store().BundleByName(ctx, account.ID, "finance")
	require.NoError(t, err)
	th, err := s.Store().Thread(ctx, account.ID, "T1")
	require.NoError(t, err)
	assert.True(t, th.InBundle(finance.ID))

	// Later passes skip discovery.
	_, err = s.SyncAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, 1, labels.listCalls)
}

func TestSyncRediscoversUnknownBundle(t *testing.T) {
	s, session, labels := newTestService(t)
	ctx := context.Background()

	account, err := s.Account(ctx, "me@x.com")
	require.NoError(t, err)
	_, err = s.SyncAccount(ctx, account)
	require.NoError(t, err)

	labels.labels = []source.Label{{ID: "Label_2", Name: "ns/travel"}}
	session.messages = []source.RawMessage{raw(1, "T1", "ns/travel")}

	res, err := s.SyncAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, labels.listCalls)

	travel, err := s.Store().BundleByName(ctx, account.ID, "travel")
	require.NoError(t, err)
	th, err := s.Store().Thread(ctx, account.ID, "T1")
	require.NoError(t, err)
	assert.True(t, th.InBundle(travel.ID))
}

func TestSyncUsesRemoteMessageLabels(t *testing.T) {
	s, session, labels := newTestService(t)
	ctx := context.Background()
	labels.labels = []source.Label{{ID: "Label_1", Name: "ns/finance"}}
	labels.onMessage = map[string][]string{"T1@x": {"ns/finance"}}
	session.messages = []source.RawMessage{raw(1, "T1"), raw(2, "T2")}

	account, err := s.Account(ctx, "me@x.com")
	require.NoError(t, err)
	_, err = s.SyncAccount(ctx, account)
	require.NoError(t, err)

	finance, err := s.Store().BundleByName(ctx, account.ID, "finance")
	require.NoError(t, err)
	th, err := s.Store().Thread(ctx, account.ID, "T1")
	require.NoError(t, err)
	assert.True(t, th.InBundle(finance.ID))
}

func TestSyncFailsWhenDiscoveryFails(t *testing.T) {
	s, _, labels := newTestService(t)
	ctx := context.Background()
	labels.listErr = apperr.Transport("list labels", errors.New("connection reset"))

	account, err := s.Account(ctx, "me@x.com")
	require.NoError(t, err)

	_, err = s.SyncAccount(ctx, account)
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.False(t, s.isDiscovered(account.ID))
}

func TestSyncAllReportsPerAccount(t *testing.T) {
	s, session, _ := newTestService(t)
	session.messages = []source.RawMessage{raw(7, "T1")}

	results, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "me@x.com", results[0].Address)
	assert.NoError(t, results[0].Error)
	assert.Equal(t, uint32(7), results[0].Result.Watermark)
}

func TestMoveThreadByName(t *testing.T) {
	s, session, _ := newTestService(t)
	ctx := context.Background()
	session.messages = []source.RawMessage{raw(1, "T1")}

	account, err := s.Account(ctx, "me@x.com")
	require.NoError(t, err)
	_, err = s.SyncAccount(ctx, account)
	require.NoError(t, err)

	travel, err := s.CreateBundle(ctx, account, "travel", "")
	require.NoError(t, err)

	_, err = s.MoveThread(ctx, account, "T1", model.InboxBundle, "travel", false)
	require.NoError(t, err)

	th, err := s.Store().Thread(ctx, account.ID, "T1")
	require.NoError(t, err)
	assert.True(t, th.InBundle(travel.ID))

	_, err = s.MoveThread(ctx, account, "T1", "travel", "nowhere", false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAccountMustBeConfigured(t *testing.T) {
	s, _, _ := newTestService(t)
	_, err := s.Account(context.Background(), "stranger@x.com")
	assert.Error(t, err)
}
