package lookout

import (
	"context"
	"fmt"
)

// Ledger applies per-player session accounting on top of the store.
//
// OnJoin and OnRefresh are deliberately separate operations: a join opens a
// session window, while a refresh only extends visibility. Collapsing them
// into one upsert would either miss session starts or restart sessions for
// players that never left.
type Ledger struct {
	store *Store
}

func NewLedger(store *Store) *Ledger {
	return &Ledger{store: store}
}

// OnJoin opens a session window for a newly observed player, creating the
// record on first sight. A stale CurrentSessionStart left behind by a
// crashed cycle is overwritten; the interrupted session is lost rather
// than inflated.
func (l *Ledger) OnJoin(ctx context.Context, uuid, name string, now int64) error {
	_, err := l.store.UpdatePlayer(ctx, uuid, func(record *PlayerRecord) bool {
		record.Name = name
		record.LastSeen = now
		record.CurrentSessionStart = now
		return true
	})
	return err
}

// OnRefresh updates name and last-seen for every player reported present
// this cycle, joined or not. It never touches the open session window.
func (l *Ledger) OnRefresh(ctx context.Context, uuid, name string, now int64) error {
	_, err := l.store.UpdatePlayer(ctx, uuid, func(record *PlayerRecord) bool {
		record.Name = name
		record.LastSeen = now
		return true
	})
	return err
}

// OnLeave closes the player's open session, if any: the closed Session is
// prepended to the bounded history, the lifetime totals grow, and the same
// record is pushed onto the global recent feed. A leave without an open
// session returns (nil, nil) and leaves the record untouched; the caller
// still removes the player from the online set.
func (l *Ledger) OnLeave(ctx context.Context, uuid string, now int64) (*Session, error) {
	var closed *Session
	_, err := l.store.UpdatePlayer(ctx, uuid, func(record *PlayerRecord) bool {
		closed = nil // retried transactions start over
		if record.CurrentSessionStart == 0 {
			return false
		}

		start := record.CurrentSessionStart
		duration := now - start
		if duration < 0 {
			duration = 0
		}
		session := Session{
			UUID:       uuid,
			Name:       record.Name,
			Start:      start,
			End:        now,
			DurationMs: duration,
		}

		record.Sessions = append([]Session{session}, record.Sessions...)
		if len(record.Sessions) > historyCap {
			record.Sessions = record.Sessions[:historyCap]
		}
		record.TotalSessions++
		record.TotalPlayMs += duration
		record.CurrentSessionStart = 0
		record.LastSeen = now

		closed = &session
		return true
	})
	if err != nil {
		return nil, err
	}
	if closed == nil {
		return nil, nil
	}
	if err := l.store.PushRecentSession(ctx, *closed); err != nil {
		return closed, fmt.Errorf("push recent session: %w", err)
	}
	return closed, nil
}
