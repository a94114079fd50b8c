package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/kvstore"
	"github.com/mbd888/fraudgate/internal/logging"
)

type brokenKV struct{ kvstore.Store }

var errDown = errors.New("connection refused")

func (brokenKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errDown
}

func (brokenKV) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errDown
}

func newTestGuard(kv kvstore.Store) *Guard {
	return New(kv, DefaultConfig(), logging.Discard())
}

func TestCheckDuplicate(t *testing.T) {
	g := newTestGuard(kvstore.NewMemoryStore())
	ctx := context.Background()

	dup, err := g.CheckDuplicate(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = g.CheckDuplicate(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = g.CheckDuplicate(ctx, "tx-2")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestCheckDuplicate_ConcurrentSameID(t *testing.T) {
	g := newTestGuard(kvstore.NewMemoryStore())

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dup, err := g.CheckDuplicate(context.Background(), "tx-same")
			if err == nil && !dup {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh, "exactly one caller may see a fresh id")
}

func TestCheckVelocity_TripsAfterMax(t *testing.T) {
	g := newTestGuard(kvstore.NewMemoryStore())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		tripped, err := g.CheckVelocity(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, tripped, "call %d", i)
	}

	tripped, err := g.CheckVelocity(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, tripped, "sixth call in window should trip")

	tripped, err = g.CheckVelocity(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, tripped, "other senders are independent")
}

func TestCheckVelocity_WindowResets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	kv := kvstore.NewMemoryStore().WithClock(func() time.Time { return now })
	g := newTestGuard(kv)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = g.CheckVelocity(ctx, "alice")
	}
	now = now.Add(61 * time.Second)

	tripped, err := g.CheckVelocity(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, tripped)
}

func TestGuards_FailOpenOnStoreError(t *testing.T) {
	g := newTestGuard(brokenKV{})
	ctx := context.Background()

	dup, err := g.CheckDuplicate(ctx, "tx-1")
	assert.ErrorIs(t, err, errDown)
	assert.False(t, dup)

	tripped, err := g.CheckVelocity(ctx, "alice")
	assert.ErrorIs(t, err, errDown)
	assert.False(t, tripped)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "tx:abc", DedupKey("abc"))
	assert.Equal(t, "user:alice:tx_count", VelocityKey("alice"))
}
