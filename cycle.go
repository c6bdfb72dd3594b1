package lookout

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// CycleReport summarizes one completed reconciliation cycle.
type CycleReport struct {
	Now         int64    `json:"now"`
	OnlineCount int      `json:"onlineCount"`
	Joined      []string `json:"joined"`
	Left        []string `json:"left"`
}

// Poller runs reconciliation cycles: fetch the upstream status, normalize
// it, diff presence against the stored online set, and persist session
// bookkeeping. Each invocation is independent; overlapping cycles are
// possible when a trigger fires before a slow predecessor finishes, which
// is why player updates go through the store's optimistic locking.
type Poller struct {
	upstream *UpstreamClient
	store    *Store
	ledger   *Ledger
	announce *Announcer // optional, nil when no broker configured

	now func() int64
}

func NewPoller(upstream *UpstreamClient, store *Store) *Poller {
	return &Poller{
		upstream: upstream,
		store:    store,
		ledger:   NewLedger(store),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

func (p *Poller) SetAnnouncer(a *Announcer) {
	p.announce = a
}

// RunCycle performs one fetch → normalize → reconcile → persist pass.
//
// Any failure before the persist phase leaves the store byte-for-byte
// unchanged. In particular an unreachable upstream must never be read as
// "nobody online": that would wrongly close every open session. Failures
// mid-persist abort and report the failing step; earlier writes within the
// cycle are not rolled back (the store has no cross-key transaction), so
// session closes are ordered after everything else and online-set changes
// are idempotent.
func (p *Poller) RunCycle(ctx context.Context) (CycleReport, error) {
	now := p.now()

	raw, err := p.upstream.Fetch(ctx)
	if err != nil {
		return CycleReport{}, err
	}

	snap, err := NormalizeSnapshot(raw)
	if err != nil {
		return CycleReport{}, err
	}

	prevOnline, err := p.store.OnlineUUIDs(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("read online set: %w", err)
	}

	joined, left := Diff(prevOnline, snap.Present)

	if err := p.store.SaveServerStatus(ctx, ServerStatus{
		Online:        snap.Online,
		MOTD:          snap.MOTD,
		Version:       snap.Version,
		PlayersOnline: snap.PlayersOnline,
		PlayersMax:    snap.PlayersMax,
		LastPoll:      now,
	}); err != nil {
		return CycleReport{}, fmt.Errorf("save server status: %w", err)
	}

	names := make(map[string]string, len(snap.Present))
	for _, player := range snap.Present {
		names[player.UUID] = player.Name
	}

	for _, uuid := range joined {
		if err := p.ledger.OnJoin(ctx, uuid, names[uuid], now); err != nil {
			return CycleReport{}, fmt.Errorf("join %s: %w", uuid, err)
		}
		logrus.WithFields(logrus.Fields{"player": names[uuid], "uuid": uuid}).Info("player joined")
	}

	for _, player := range snap.Present {
		if err := p.ledger.OnRefresh(ctx, player.UUID, player.Name, now); err != nil {
			return CycleReport{}, fmt.Errorf("refresh %s: %w", player.UUID, err)
		}
		if err := p.store.AddOnline(ctx, player.UUID); err != nil {
			return CycleReport{}, fmt.Errorf("mark online %s: %w", player.UUID, err)
		}
	}

	var closedSessions []Session
	for _, uuid := range left {
		session, err := p.ledger.OnLeave(ctx, uuid, now)
		if err != nil {
			return CycleReport{}, fmt.Errorf("leave %s: %w", uuid, err)
		}
		if err := p.store.RemoveOnline(ctx, uuid); err != nil {
			return CycleReport{}, fmt.Errorf("mark offline %s: %w", uuid, err)
		}
		if session != nil {
			closedSessions = append(closedSessions, *session)
			logrus.WithFields(logrus.Fields{
				"player":     session.Name,
				"durationMs": session.DurationMs,
			}).Info("session closed")
		}
	}

	if p.announce != nil {
		p.announce.AnnounceJoins(joined, names, now)
		p.announce.AnnounceLeaves(closedSessions)
	}

	report := CycleReport{
		Now:         now,
		OnlineCount: len(snap.Present),
		Joined:      joined,
		Left:        left,
	}
	logrus.WithFields(logrus.Fields{
		"onlineCount": report.OnlineCount,
		"joined":      len(joined),
		"left":        len(left),
	}).Debug("cycle complete")
	return report, nil
}
