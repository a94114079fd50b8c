package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudgate/internal/fraud"
	"github.com/mbd888/fraudgate/internal/kvstore"
	"github.com/mbd888/fraudgate/internal/testutil"
)

// storeContract runs the Store behaviour every implementation must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	actions := []fraud.Action{fraud.ActionAllow, fraud.ActionBlock, fraud.ActionReview, fraud.ActionBlock}
	for i, a := range actions {
		tx, r := decided(fmt.Sprintf("tx-%d", i), a, fraud.DecidedByRules)
		ml := 0.3
		r.MLScore = &ml
		r.Factors = []fraud.RiskFactor{{Name: "HIGH_AMOUNT", Delta: 40}}
		require.NoError(t, s.Append(ctx, NewRecord(tx, r, base.Add(time.Duration(i)*time.Second))))
	}
	// A second record for the same tx id is a new row, not an update.
	tx, r := decided("tx-0", fraud.ActionBlock, fraud.DecidedByDuplicateGuard)
	require.NoError(t, s.Append(ctx, NewRecord(tx, r, base.Add(10*time.Second))))

	got, err := s.ListByTx(ctx, "tx-0")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, fraud.ActionAllow, got[0].Result.Action)
	assert.Equal(t, fraud.ActionBlock, got[1].Result.Action)
	assert.Equal(t, 120.5, got[0].Transaction.Amount)
	require.NotNil(t, got[0].Result.MLScore)
	assert.InDelta(t, 0.3, *got[0].Result.MLScore, 1e-9)

	blocks, err := s.ListRecent(ctx, fraud.ActionBlock, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, "tx-0", blocks[0].TxID, "newest first")
	assert.Equal(t, "tx-3", blocks[1].TxID)

	all, err := s.ListRecent(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := s.ListByTx(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestPostgresStore_Contract(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	storeContract(t, NewPostgresStore(db))
}

func TestHotCache_CapsAndOrders(t *testing.T) {
	ctx := context.Background()
	h := NewHotCache(kvstore.NewMemoryStore(), 5)

	for i := 0; i < 8; i++ {
		tx, r := decided(fmt.Sprintf("tx-%d", i), fraud.ActionAllow, fraud.DecidedByRules)
		require.NoError(t, h.Push(ctx, NewRecord(tx, r, time.Now())))
	}

	recs, err := h.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "tx-7", recs[0].TxID)
	assert.Equal(t, "tx-3", recs[4].TxID)

	recs, err = h.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCounters_Snapshot(t *testing.T) {
	ctx := context.Background()
	c := NewCounters(kvstore.NewMemoryStore())

	empty, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Total)
	assert.Len(t, empty.ByDecision, 3)

	for _, a := range []fraud.Action{fraud.ActionAllow, fraud.ActionAllow, fraud.ActionBlock} {
		require.NoError(t, c.Record(ctx, a))
	}
	s, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Total)
	assert.Equal(t, int64(2), s.ByDecision[fraud.ActionAllow])
	assert.Equal(t, int64(1), s.ByDecision[fraud.ActionBlock])
	assert.Equal(t, int64(0), s.ByDecision[fraud.ActionReview])
}
