package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/escrowsync/internal/escrow"
	"github.com/meridianlabs/escrowsync/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	ev1 := payment(1, 100, 0, 500)
	ev2 := payment(1, 101, 0, 250)
	ev2.TxHash = "0x7a58"
	other := payment(2, 102, 0, 10)
	other.TxHash = "0x7a59"

	require.NoError(t, s.SaveEvents(ctx, []escrow.Event{ev1, ev2, other}))
	// Replay of the same batch must not duplicate rows.
	require.NoError(t, s.SaveEvents(ctx, []escrow.Event{ev1, ev2}))

	got, err := s.EventsByTransaction(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(100), got[0].Base().BlockNumber)
	assert.Equal(t, uint64(101), got[1].Base().BlockNumber)

	p, ok := got[0].(escrow.PaymentEvent)
	require.True(t, ok)
	assert.Equal(t, int64(500), p.Amount.Int64())

	recent, err := s.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(102), recent[0].Base().BlockNumber)
}

func TestPostgresStoreCheckpoint(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	_, err := s.Checkpoint(ctx)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	require.NoError(t, s.SetCheckpoint(ctx, 1000))
	require.NoError(t, s.SetCheckpoint(ctx, 2000))

	block, err := s.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), block)
}

func TestPostgresStoreUnattributedEvents(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	ruling := escrow.RulingEvent{
		EventBase: escrow.EventBase{
			TransactionID: escrow.UnknownTransaction,
			BlockNumber:   300,
			TxHash:        "0xdead",
			LogIndex:      1,
		},
		DisputeID: 4,
		Ruling:    escrow.RulingReceiverWins,
	}
	require.NoError(t, s.SaveEvents(ctx, []escrow.Event{ruling}))

	got, err := s.EventsByTransaction(ctx, escrow.UnknownTransaction, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, escrow.UnknownTransaction, got[0].Base().TransactionID)
}
