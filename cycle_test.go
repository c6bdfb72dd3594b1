package lookout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(t *testing.T, store *Store, payload string, statusCode int, now int64) *Poller {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusCode)
		w.Write([]byte(payload))
	}))
	t.Cleanup(upstream.Close)

	poller := NewPoller(NewUpstreamClient(upstream.URL), store)
	poller.now = func() int64 { return now }
	return poller
}

// storeFingerprint captures everything a cycle could have touched, so
// no-mutation tests can compare before and after.
func storeFingerprint(t *testing.T, store *Store, uuids ...string) map[string]interface{} {
	t.Helper()
	ctx := context.Background()

	status, err := store.ServerStatus(ctx)
	require.NoError(t, err)
	online, err := store.OnlineUUIDs(ctx)
	require.NoError(t, err)
	recent, err := store.RecentSessions(ctx, recentCap)
	require.NoError(t, err)

	players := make(map[string]*PlayerRecord, len(uuids))
	for _, uuid := range uuids {
		record, err := store.Player(ctx, uuid)
		require.NoError(t, err)
		players[uuid] = record
	}

	return map[string]interface{}{
		"status":  status,
		"online":  online,
		"recent":  recent,
		"players": players,
	}
}

func TestRunCycle_EndToEnd(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	// previous cycle saw A online with an open session started at 1000
	require.NoError(t, ledger.OnJoin(ctx, "A", "Aye", 1000))
	require.NoError(t, store.AddOnline(ctx, "A"))

	payload := `{
		"online": true,
		"motd": "CookieKraft",
		"version": "1.20.4",
		"players": {"online": 1, "max": 20, "list": [{"uuid": "B", "name": "Bee"}]}
	}`
	poller := newTestPoller(t, store, payload, http.StatusOK, 5000)

	report, err := poller.RunCycle(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 5000, report.Now)
	assert.Equal(t, 1, report.OnlineCount)
	assert.Equal(t, []string{"B"}, report.Joined)
	assert.Equal(t, []string{"A"}, report.Left)

	online, err := store.OnlineUUIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, online)

	// A's session closed: start 1000, end 5000, duration 4000
	recordA, err := store.Player(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, recordA)
	assert.EqualValues(t, 0, recordA.CurrentSessionStart)
	assert.Equal(t, 1, recordA.TotalSessions)
	assert.EqualValues(t, 4000, recordA.TotalPlayMs)
	require.Len(t, recordA.Sessions, 1)
	assert.Equal(t, Session{UUID: "A", Name: "Aye", Start: 1000, End: 5000, DurationMs: 4000}, recordA.Sessions[0])

	// B joined with an open session
	recordB, err := store.Player(ctx, "B")
	require.NoError(t, err)
	require.NotNil(t, recordB)
	assert.Equal(t, "Bee", recordB.Name)
	assert.EqualValues(t, 5000, recordB.CurrentSessionStart)
	assert.EqualValues(t, 5000, recordB.LastSeen)

	status, err := store.ServerStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Online)
	assert.EqualValues(t, 5000, status.LastPoll)
	assert.Equal(t, 1, status.PlayersOnline)

	recent, err := store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "A", recent[0].UUID)
}

func TestRunCycle_RefreshWithoutChurn(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	require.NoError(t, ledger.OnJoin(ctx, "A", "Aye", 1000))
	require.NoError(t, store.AddOnline(ctx, "A"))

	payload := `{"online": true, "players": {"online": 1, "list": [{"uuid": "A", "name": "AyeRenamed"}]}}`
	poller := newTestPoller(t, store, payload, http.StatusOK, 2000)

	report, err := poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Joined)
	assert.Empty(t, report.Left)

	record, err := store.Player(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "AyeRenamed", record.Name)
	assert.EqualValues(t, 2000, record.LastSeen)
	assert.EqualValues(t, 1000, record.CurrentSessionStart, "session stays open across refreshes")
	assert.Equal(t, 0, record.TotalSessions)
}

func TestRunCycle_UpstreamFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	require.NoError(t, ledger.OnJoin(ctx, "A", "Aye", 1000))
	require.NoError(t, store.AddOnline(ctx, "A"))
	require.NoError(t, store.SaveServerStatus(ctx, ServerStatus{Online: true, PlayersOnline: 1, LastPoll: 1000}))

	before := storeFingerprint(t, store, "A")

	poller := newTestPoller(t, store, "boom", http.StatusInternalServerError, 5000)
	_, err := poller.RunCycle(ctx)
	require.ErrorIs(t, err, ErrUpstream)

	assert.Equal(t, before, storeFingerprint(t, store, "A"))
}

func TestRunCycle_BadPayloadLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddOnline(ctx, "A"))
	before := storeFingerprint(t, store, "A")

	poller := newTestPoller(t, store, "definitely not json", http.StatusOK, 5000)
	_, err := poller.RunCycle(ctx)
	require.ErrorIs(t, err, ErrBadPayload)

	assert.Equal(t, before, storeFingerprint(t, store, "A"))
}

func TestRunCycle_EmptyServerClosesEverything(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	require.NoError(t, ledger.OnJoin(ctx, "A", "Aye", 1000))
	require.NoError(t, store.AddOnline(ctx, "A"))
	require.NoError(t, ledger.OnJoin(ctx, "B", "Bee", 2000))
	require.NoError(t, store.AddOnline(ctx, "B"))

	payload := `{"online": true, "players": {"online": 0, "list": []}}`
	poller := newTestPoller(t, store, payload, http.StatusOK, 9000)

	report, err := poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Joined)
	assert.Equal(t, []string{"A", "B"}, report.Left)
	assert.Equal(t, 0, report.OnlineCount)

	online, err := store.OnlineUUIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)

	recent, err := store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
