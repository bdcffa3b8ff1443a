package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchLoadFailureReleasesSubscription(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = watch(context.Background(), s, "", []Table{TableThreads},
		func(context.Context) (int, error) {
			return 0, errors.New("query failed")
		})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		return len(s.hub.subs) == 0
	}, time.Second, 5*time.Millisecond)
}
