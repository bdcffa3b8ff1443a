package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/source"
)

type flagCall struct {
	mailbox string
	uids    []uint32
	add     bool
	flags   []string
}

type fakeSession struct {
	mu       gosync.Mutex
	messages []source.RawMessage
	fetchErr error
	block    chan struct{}

	fetchFrom []uint32
	bodies    map[uint32]string
	bodyCalls int
	flagErr   error
	flagCalls []flagCall
}

func (f *fakeSession) FetchHeaders(
	ctx context.Context,
	_ *model.Account,
	_ string,
	from, to uint32,
) ([]source.RawMessage, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchFrom = append(f.fetchFrom, from)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	var out []source.RawMessage
	for _, m := range f.messages {
		if m.UID >= from && (to == 0 || m.UID <= to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSession) FetchBody(_ context.Context, _ *model.Account, _ string, uid uint32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodyCalls++
	return f.bodies[uid], nil
}

func (f *fakeSession) UpdateFlags(
	_ context.Context,
	_ *model.Account,
	mailbox string,
	uids []uint32,
	add bool,
	flags []string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagCalls = append(f.flagCalls, flagCall{mailbox, uids, add, flags})
	if add && f.flagErr != nil {
		return f.flagErr
	}
	return nil
}

type fakeLabelReader struct {
	mu     gosync.Mutex
	labels map[string][]string
	err    error
	asked  [][]string
}

func (f *fakeLabelReader) MessageLabels(
	_ context.Context,
	_ *model.Account,
	messageIDs []string,
) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, messageIDs)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]string)
	for _, id := range messageIDs {
		if l, ok := f.labels[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func raw(uid uint32, thread string, at time.Time, labels ...string) source.RawMessage {
	return source.RawMessage{
		UID:         uid,
		ThreadID:    thread,
		MessageID:   thread + "@test",
		Subject:     "subject " + thread,
		FromAddress: "sender@y.com",
		Labels:      labels,
		SentAt:      at,
		ReceivedAt:  at,
	}
}
