package lookout

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_JoinThenLeaveClosesSession(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	require.NoError(t, ledger.OnJoin(ctx, "u-1", "Aye", 1000))

	record, err := store.Player(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.EqualValues(t, 1000, record.CurrentSessionStart)
	assert.EqualValues(t, 1000, record.LastSeen)

	session, err := ledger.OnLeave(ctx, "u-1", 5000)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, Session{UUID: "u-1", Name: "Aye", Start: 1000, End: 5000, DurationMs: 4000}, *session)

	record, err = store.Player(ctx, "u-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, record.CurrentSessionStart)
	assert.EqualValues(t, 5000, record.LastSeen)
	assert.Equal(t, 1, record.TotalSessions)
	assert.EqualValues(t, 4000, record.TotalPlayMs)
	require.Len(t, record.Sessions, 1)
	assert.Equal(t, *session, record.Sessions[0])

	// the close also lands on the global feed
	recent, err := store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, *session, recent[0])
}

func TestLedger_RefreshIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	require.NoError(t, ledger.OnJoin(ctx, "u-1", "Aye", 1000))
	require.NoError(t, ledger.OnRefresh(ctx, "u-1", "Aye2", 2000))

	once, err := store.Player(ctx, "u-1")
	require.NoError(t, err)

	require.NoError(t, ledger.OnRefresh(ctx, "u-1", "Aye2", 2000))
	twice, err := store.Player(ctx, "u-1")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, "Aye2", twice.Name)
	assert.EqualValues(t, 2000, twice.LastSeen)
	assert.EqualValues(t, 1000, twice.CurrentSessionStart, "refresh never touches the open session")
}

func TestLedger_LeaveWithoutOpenSession(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	// never-seen player: nothing to close, no record invented
	session, err := ledger.OnLeave(ctx, "ghost", 5000)
	require.NoError(t, err)
	assert.Nil(t, session)

	record, err := store.Player(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, record)

	// known player with a closed session: also a no-op
	require.NoError(t, ledger.OnJoin(ctx, "u-1", "Aye", 1000))
	_, err = ledger.OnLeave(ctx, "u-1", 2000)
	require.NoError(t, err)

	before, err := store.Player(ctx, "u-1")
	require.NoError(t, err)

	session, err = ledger.OnLeave(ctx, "u-1", 3000)
	require.NoError(t, err)
	assert.Nil(t, session)

	after, err := store.Player(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLedger_ClockSkewClampsToZero(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	require.NoError(t, ledger.OnJoin(ctx, "u-1", "Aye", 5000))

	session, err := ledger.OnLeave(ctx, "u-1", 4000)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.EqualValues(t, 0, session.DurationMs)
	assert.EqualValues(t, 5000, session.Start)
	assert.EqualValues(t, 4000, session.End)
}

func TestLedger_HistoryBounded(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	closes := historyCap + 10
	for i := 0; i < closes; i++ {
		start := int64(i * 100)
		require.NoError(t, ledger.OnJoin(ctx, "u-1", "Aye", start))
		_, err := ledger.OnLeave(ctx, "u-1", start+50)
		require.NoError(t, err)
	}

	record, err := store.Player(ctx, "u-1")
	require.NoError(t, err)

	require.Len(t, record.Sessions, historyCap, "history never exceeds its cap")
	// most recent first, oldest evicted
	assert.EqualValues(t, int64((closes-1)*100), record.Sessions[0].Start)
	assert.EqualValues(t, int64(10*100), record.Sessions[historyCap-1].Start)

	// truncation never touches the lifetime aggregates
	assert.Equal(t, closes, record.TotalSessions)
	assert.EqualValues(t, int64(closes*50), record.TotalPlayMs)
}

func TestLedger_FeedBoundedAcrossPlayers(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	for i := 0; i < recentCap+5; i++ {
		uuid := fmt.Sprintf("u-%d", i)
		start := int64(i * 100)
		require.NoError(t, ledger.OnJoin(ctx, uuid, fmt.Sprintf("p-%d", i), start))
		_, err := ledger.OnLeave(ctx, uuid, start+10)
		require.NoError(t, err)
	}

	recent, err := store.RecentSessions(ctx, recentCap*2)
	require.NoError(t, err)
	require.Len(t, recent, recentCap)
	assert.Equal(t, fmt.Sprintf("u-%d", recentCap+4), recent[0].UUID)
}

func TestLedger_JoinOverwritesStaleSessionStart(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	require.NoError(t, ledger.OnJoin(ctx, "u-1", "Aye", 1000))
	// a crashed cycle never closed the session; the next join restarts it
	require.NoError(t, ledger.OnJoin(ctx, "u-1", "Aye", 9000))

	record, err := store.Player(ctx, "u-1")
	require.NoError(t, err)
	assert.EqualValues(t, 9000, record.CurrentSessionStart)
	assert.Equal(t, 0, record.TotalSessions, "no phantom close recorded")
}
