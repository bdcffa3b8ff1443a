package bundle

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
	"github.com/nhle/mailbundle/internal/store"
	"github.com/nhle/mailbundle/internal/task"
	"github.com/nhle/mailbundle/tests/testutil"
)

var t0 = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

var bundleCfg = model.BundleConfig{
	Prefix:     "ns/",
	SentLabel:  "SENT",
	InboxLabel: "INBOX",
	SpamLabel:  "SPAM",
}

type fixture struct {
	store   *store.SQLiteStore
	labels  *fakeLabels
	engine  *Engine
	account *model.Account
	inbox   *model.EmailBundle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testutil.NewTestStore(t)
	account := testutil.SeedAccount(t, s, "me@x.com")
	inbox, err := s.BundleByName(context.Background(), account.ID, model.InboxBundle)
	require.NoError(t, err)

	labels := &fakeLabels{}
	runner := task.NewRunner(task.NewIndicator(), zerolog.Nop(), task.WithRetries(0, 0))

	return &fixture{
		store:   s,
		labels:  labels,
		engine:  NewEngine(s, labels, runner, bundleCfg, zerolog.Nop()),
		account: account,
		inbox:   inbox,
	}
}

// seedThread stores an incoming message and the account's reply, both
// labeled the way the provider files a thread in b.
func (f *fixture) seedThread(t *testing.T, b *model.EmailBundle, threadID, from string) {
	t.Helper()
	label := model.StringList{bundleCfg.InboxLabel}
	if !b.IsInbox() {
		label = model.StringList{bundleCfg.LabelName(b.Name)}
	}
	m := testutil.Email(f.account.ID, 1, threadID, from, t0)
	m.Labels = label
	reply := testutil.Email(f.account.ID, 2, threadID, f.account.Address, t0.Add(time.Hour))
	reply.Labels = append(slices.Clone(label), "SENT")
	testutil.SeedThread(t, f.store, &b.ID, m, reply)
}

func (f *fixture) labelsOf(t *testing.T, uid uint32) model.StringList {
	t.Helper()
	m, err := f.store.EmailByUID(context.Background(), f.account.ID, model.DefaultMailbox, uid)
	require.NoError(t, err)
	return m.Labels
}

func (f *fixture) bundleOf(t *testing.T, threadID string) string {
	t.Helper()
	th, err := f.store.Thread(context.Background(), f.account.ID, threadID)
	require.NoError(t, err)
	require.NotNil(t, th.BundleID)
	return *th.BundleID
}

func TestDiscoverBundles(t *testing.T) {
	f := newFixture(t)
	stale := testutil.SeedBundle(t, f.store, f.account.ID, "receipts", "Label_old")
	f.labels.labels = []source.Label{
		{ID: "INBOX", Name: "INBOX"},
		{ID: "Label_1", Name: "ns/finance"},
		{ID: "Label_2", Name: "ns/receipts"},
		{ID: "Label_3", Name: "personal"},
		{ID: "Label_4", Name: "ns/"},
	}

	bundles, err := f.engine.DiscoverBundles(context.Background(), f.account)
	require.NoError(t, err)

	names := map[string]string{}
	for _, b := range bundles {
		names[b.Name] = b.LabelID
	}
	assert.Equal(t, map[string]string{
		model.InboxBundle: "",
		"finance":         "Label_1",
		"receipts":        "Label_2",
	}, names)

	updated, err := f.store.BundleByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, "Label_2", updated.LabelID)
}

func TestCreateBundleRemoteFirst(t *testing.T) {
	f := newFixture(t)

	b, err := f.engine.CreateBundle(context.Background(), f.account, "travel", "✈")
	require.NoError(t, err)
	assert.Equal(t, "travel", b.Name)
	assert.Equal(t, "Label_1", b.LabelID)
	assert.Equal(t, "ns/travel", f.labels.labels[0].Name)

	again, err := f.engine.CreateBundle(context.Background(), f.account, "travel", "")
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID)
	assert.Equal(t, 1, f.labels.createLabelCalls)
}

func TestCreateBundleLabelFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.labels.createLabelErr = apperr.Transport("create label", errors.New("connection reset"))

	_, err := f.engine.CreateBundle(context.Background(), f.account, "travel", "")
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))

	_, err = f.store.BundleByName(context.Background(), f.account.ID, "travel")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateBundleAdoptsExistingLabel(t *testing.T) {
	f := newFixture(t)
	f.labels.labels = []source.Label{{ID: "Label_9", Name: "ns/travel"}}
	f.labels.createLabelErr = apperr.FromStatus("create label", 409, errors.New("label exists"))

	b, err := f.engine.CreateBundle(context.Background(), f.account, "travel", "")
	require.NoError(t, err)
	assert.Equal(t, "Label_9", b.LabelID)
}

func TestMoveThreadRollsBackOnLabelFailure(t *testing.T) {
	f := newFixture(t)
	b1 := testutil.SeedBundle(t, f.store, f.account.ID, "b1", "Label_b1")
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")
	f.seedThread(t, b1, "T", "news@shop.com")

	f.labels.modifyErr = func(add, remove []string) error {
		if slices.Contains(remove, "Label_b1") {
			return apperr.FromStatus("modify labels", 400, errors.New("bad request"))
		}
		return nil
	}

	_, err := f.engine.MoveThread(context.Background(), f.account, "T", b1, b2, false)
	require.Error(t, err)

	var opErr *task.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "unlabel b1", opErr.Op)
	assert.Equal(t, b1.ID, f.bundleOf(t, "T"))
	assert.Equal(t, model.StringList{"ns/b1"}, f.labelsOf(t, 1))
	assert.Equal(t, model.StringList{"ns/b1", "SENT"}, f.labelsOf(t, 2))

	// The label added before the failure is taken off again.
	calls := f.labels.calls()
	assert.Contains(t, calls, modifyCall{
		ids: []string{"<1.T@test>", "<2.T@test>"},
		add: []string{"Label_b2"},
	})
	assert.Contains(t, calls, modifyCall{
		ids:    []string{"<1.T@test>", "<2.T@test>"},
		remove: []string{"Label_b2"},
	})
}

func TestMoveThreadUndoLeavesInboxAlone(t *testing.T) {
	f := newFixture(t)
	b1 := testutil.SeedBundle(t, f.store, f.account.ID, "b1", "Label_b1")
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")
	f.seedThread(t, b1, "T", "news@shop.com")

	f.labels.modifyErr = func(add, remove []string) error {
		if slices.Contains(add, "Label_b2") {
			return apperr.FromStatus("modify labels", 400, errors.New("bad request"))
		}
		return nil
	}

	_, err := f.engine.MoveThread(context.Background(), f.account, "T", b1, b2, false)
	require.Error(t, err)
	assert.Equal(t, b1.ID, f.bundleOf(t, "T"))

	// The thread was never in the inbox, so neither the move nor its undo
	// touches INBOX.
	for _, c := range f.labels.calls() {
		assert.NotContains(t, c.add, "INBOX")
		assert.NotContains(t, c.remove, "INBOX")
	}
}

func TestMoveThreadRemovesOnlyCarriedLabels(t *testing.T) {
	f := newFixture(t)
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")

	incoming := testutil.Email(f.account.ID, 1, "T", "news@shop.com", t0)
	incoming.Labels = model.StringList{"INBOX"}
	sent := testutil.Email(f.account.ID, 2, "T", f.account.Address, t0.Add(time.Hour))
	sent.Labels = model.StringList{"SENT"}
	testutil.SeedThread(t, f.store, &f.inbox.ID, incoming, sent)

	_, err := f.engine.MoveThread(context.Background(), f.account, "T", f.inbox, b2, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []modifyCall{
		{ids: []string{"<1.T@test>", "<2.T@test>"}, add: []string{"Label_b2"}},
		{ids: []string{"<1.T@test>"}, remove: []string{"INBOX"}},
	}, f.labels.calls())
	assert.Equal(t, model.StringList{"ns/b2"}, f.labelsOf(t, 1))
	assert.Equal(t, model.StringList{"SENT", "ns/b2"}, f.labelsOf(t, 2))
}

func TestMoveThreadWithoutMessageIDFails(t *testing.T) {
	f := newFixture(t)
	b1 := testutil.SeedBundle(t, f.store, f.account.ID, "b1", "Label_b1")
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")

	m := testutil.Email(f.account.ID, 1, "T", "news@shop.com", t0)
	m.MessageID = ""
	m.Labels = model.StringList{"ns/b1"}
	testutil.SeedThread(t, f.store, &b1.ID, m)

	_, err := f.engine.MoveThread(context.Background(), f.account, "T", b1, b2, false)
	require.Error(t, err)
	assert.True(t, apperr.IsConsistency(err))
	assert.Equal(t, b1.ID, f.bundleOf(t, "T"))
	assert.Empty(t, f.labels.calls())
}

func TestMoveThreadToBundle(t *testing.T) {
	f := newFixture(t)
	b1 := testutil.SeedBundle(t, f.store, f.account.ID, "b1", "Label_b1")
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")
	f.seedThread(t, b1, "T", "news@shop.com")

	res, err := f.engine.MoveThread(context.Background(), f.account, "T", b1, b2, false)
	require.NoError(t, err)
	assert.Nil(t, res.FilterCreated)
	assert.Equal(t, b2.ID, f.bundleOf(t, "T"))
	assert.ElementsMatch(t, []modifyCall{
		{ids: []string{"<1.T@test>", "<2.T@test>"}, add: []string{"Label_b2"}},
		{ids: []string{"<1.T@test>", "<2.T@test>"}, remove: []string{"Label_b1"}},
	}, f.labels.calls())
	assert.Equal(t, model.StringList{"ns/b2"}, f.labelsOf(t, 1))
	assert.Zero(t, f.labels.listFilterCalls)
}

func TestMoveThreadCreatesFilter(t *testing.T) {
	f := newFixture(t)
	newsletters := testutil.SeedBundle(t, f.store, f.account.ID, "newsletters", "Label_news")
	f.seedThread(t, f.inbox, "T", "digest@paper.com")

	res, err := f.engine.MoveThread(context.Background(), f.account, "T", f.inbox, newsletters, true)
	require.NoError(t, err)
	require.NoError(t, res.FilterErr)
	require.NotNil(t, res.FilterCreated)

	require.Len(t, f.labels.createFilters, 1)
	created := f.labels.createFilters[0]
	assert.Equal(t, "digest@paper.com", created.Criteria.From)
	assert.Equal(t, []string{"Label_news"}, created.Action.AddLabelIDs)
	assert.Equal(t, []string{"INBOX", "SPAM"}, created.Action.RemoveLabelIDs)

	// Leaving the inbox never touches a bundle label for the origin.
	for _, c := range f.labels.calls() {
		assert.NotContains(t, c.remove, "")
	}
}

func TestMoveThreadExistingFilterIsNoop(t *testing.T) {
	f := newFixture(t)
	b1 := testutil.SeedBundle(t, f.store, f.account.ID, "b1", "Label_b1")
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")
	f.seedThread(t, b1, "T", "news@shop.com")
	f.labels.filters = []source.Filter{{
		ID:       "f1",
		Criteria: source.FilterCriteria{From: "news@shop.com"},
		Action:   source.FilterAction{AddLabelIDs: []string{"Label_b2"}},
	}}

	res, err := f.engine.MoveThread(context.Background(), f.account, "T", b1, b2, true)
	require.NoError(t, err)
	assert.Nil(t, res.FilterCreated)
	assert.Equal(t, 1, f.labels.listFilterCalls)
	assert.Empty(t, f.labels.createFilters)
	assert.Empty(t, f.labels.deletedFilters)
}

func TestMoveThreadReplacesStaleFilter(t *testing.T) {
	f := newFixture(t)
	b1 := testutil.SeedBundle(t, f.store, f.account.ID, "b1", "Label_b1")
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")
	f.seedThread(t, b1, "T", "news@shop.com")
	f.labels.filters = []source.Filter{
		{
			ID:       "stale",
			Criteria: source.FilterCriteria{From: "news@shop.com"},
			Action:   source.FilterAction{AddLabelIDs: []string{"Label_b1"}},
		},
		{
			ID:       "user",
			Criteria: source.FilterCriteria{From: "news@shop.com"},
			Action:   source.FilterAction{AddLabelIDs: []string{"STARRED"}},
		},
	}

	res, err := f.engine.MoveThread(context.Background(), f.account, "T", b1, b2, true)
	require.NoError(t, err)
	require.NoError(t, res.FilterErr)
	assert.Equal(t, []string{"stale"}, res.FiltersDeleted)
	require.Len(t, f.labels.createFilters, 1)
}

func TestMoveThreadToInboxDropsFilter(t *testing.T) {
	f := newFixture(t)
	b1 := testutil.SeedBundle(t, f.store, f.account.ID, "b1", "Label_b1")
	f.seedThread(t, b1, "T", "news@shop.com")
	f.labels.filters = []source.Filter{
		{
			ID:       "route",
			Criteria: source.FilterCriteria{From: "NEWS@shop.com"},
			Action:   source.FilterAction{AddLabelIDs: []string{"Label_b1"}},
		},
		{
			ID:       "other",
			Criteria: source.FilterCriteria{From: "someone@else.com"},
			Action:   source.FilterAction{AddLabelIDs: []string{"Label_b1"}},
		},
	}

	res, err := f.engine.MoveThread(context.Background(), f.account, "T", b1, f.inbox, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"route"}, res.FiltersDeleted)
	assert.Equal(t, f.inbox.ID, f.bundleOf(t, "T"))
	assert.ElementsMatch(t, []modifyCall{
		{ids: []string{"<1.T@test>", "<2.T@test>"}, add: []string{"INBOX"}},
		{ids: []string{"<1.T@test>", "<2.T@test>"}, remove: []string{"Label_b1"}},
	}, f.labels.calls())
}

func TestMoveThreadFilterFailureKeepsMove(t *testing.T) {
	f := newFixture(t)
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")
	f.seedThread(t, f.inbox, "T", "news@shop.com")
	f.labels.createFilterErr = apperr.FromStatus("create filter", 500, errors.New("backend"))

	res, err := f.engine.MoveThread(context.Background(), f.account, "T", f.inbox, b2, true)
	require.NoError(t, err)
	assert.Error(t, res.FilterErr)
	assert.Equal(t, b2.ID, f.bundleOf(t, "T"))
}

func TestMoveThreadFromWrongBundle(t *testing.T) {
	f := newFixture(t)
	b1 := testutil.SeedBundle(t, f.store, f.account.ID, "b1", "Label_b1")
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")
	f.seedThread(t, f.inbox, "T", "news@shop.com")

	_, err := f.engine.MoveThread(context.Background(), f.account, "T", b1, b2, false)
	require.Error(t, err)
	assert.True(t, apperr.IsConsistency(err))
	assert.ErrorIs(t, err, apperr.ErrThreadNotInBundle)
	assert.Equal(t, f.inbox.ID, f.bundleOf(t, "T"))
	assert.Empty(t, f.labels.calls())
}

func TestMoveThreadRejectsConcurrentMove(t *testing.T) {
	f := newFixture(t)
	b2 := testutil.SeedBundle(t, f.store, f.account.ID, "b2", "Label_b2")
	f.seedThread(t, f.inbox, "T", "news@shop.com")
	f.labels.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.MoveThread(context.Background(), f.account, "T", f.inbox, b2, false)
		done <- err
	}()

	require.Eventually(t, func() bool {
		f.engine.mu.Lock()
		defer f.engine.mu.Unlock()
		return len(f.engine.moving) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := f.engine.MoveThread(context.Background(), f.account, "T", f.inbox, b2, false)
	assert.ErrorIs(t, err, apperr.ErrMoveInProgress)

	close(f.labels.block)
	require.NoError(t, <-done)
	assert.Equal(t, b2.ID, f.bundleOf(t, "T"))
}

func TestThreadSenderSkipsOwnMessages(t *testing.T) {
	emails := []model.Email{
		{FromAddress: "alice@x.com", FromName: "Alice", ReceivedAt: t0},
		{FromAddress: "bob@x.com", ReceivedAt: t0.Add(time.Minute)},
		{FromAddress: "ME@x.com", ReceivedAt: t0.Add(time.Hour)},
	}

	s, ok := threadSender(emails, "me@x.com")
	require.True(t, ok)
	assert.Equal(t, "bob@x.com", s.Address)

	_, ok = threadSender(emails[2:], "me@x.com")
	assert.False(t, ok)
}

func TestSenderMatches(t *testing.T) {
	named := sender{Name: "Alice", Address: "alice@x.com"}
	bare := sender{Address: "alice@x.com"}

	tests := []struct {
		name   string
		s      sender
		from   string
		expect bool
	}{
		{"address", named, "alice@x.com", true},
		{"address case", bare, "ALICE@x.com", true},
		{"display name", named, "alice", true},
		{"no name falls back to address", bare, "Alice", false},
		{"empty criterion", named, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := source.Filter{Criteria: source.FilterCriteria{From: tt.from}}
			assert.Equal(t, tt.expect, tt.s.matches(f))
		})
	}
}
