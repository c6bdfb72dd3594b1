package lookout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Store key layout. Everything lives behind per-key primitives; there is
// no cross-key transaction, which shapes the persist ordering in cycle.go.
const (
	keyServerStatus   = "server:status"
	keyOnlineUUIDs    = "online:uuids"
	keyRecentSessions = "sessions:recent"
	playerKeyPrefix   = "player:"
)

const (
	// historyCap bounds the per-player session history.
	historyCap = 50
	// recentCap bounds the cross-player recent session feed.
	recentCap = 50
	// casAttempts bounds optimistic-lock retries on a contended player key.
	casAttempts = 5
)

// ServerStatus is the last known server-level state, overwritten on every
// successful poll. No history is kept.
type ServerStatus struct {
	Online        bool   `json:"online"`
	MOTD          string `json:"motd"`
	Version       string `json:"version"`
	PlayersOnline int    `json:"playersOnline"`
	PlayersMax    *int   `json:"playersMax,omitempty"`
	LastPoll      int64  `json:"lastPoll"`
}

// Session is one closed play interval. Immutable once recorded.
type Session struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	DurationMs int64  `json:"durationMs"`
}

// PlayerRecord is the durable per-player ledger entry. It is created on a
// player's first observed join and never expires; only CurrentSessionStart
// (zero when no session is open) and the online-set membership are
// transient. TotalSessions and TotalPlayMs count every close ever
// recorded, independent of the history cap.
type PlayerRecord struct {
	UUID                string    `json:"uuid"`
	Name                string    `json:"name"`
	LastSeen            int64     `json:"lastSeen"`
	CurrentSessionStart int64     `json:"currentSessionStart,omitempty"`
	Sessions            []Session `json:"sessions"`
	TotalSessions       int       `json:"totalSessions"`
	TotalPlayMs         int64     `json:"totalPlayMs"`
}

// Store wraps the redis connection with typed accessors for the lookout
// key layout.
type Store struct {
	rdb redis.UniversalClient
}

func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// OpenStore connects to redis using a URL like redis://localhost:6379/0.
func OpenStore(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewStore(redis.NewClient(opts)), nil
}

func playerKey(uuid string) string {
	return playerKeyPrefix + uuid
}

// ServerStatus returns the stored status, or nil if never polled.
func (s *Store) ServerStatus(ctx context.Context) (*ServerStatus, error) {
	data, err := s.rdb.Get(ctx, keyServerStatus).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get server status: %w", err)
	}
	var status ServerStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("corrupt server status: %w", err)
	}
	return &status, nil
}

func (s *Store) SaveServerStatus(ctx context.Context, status ServerStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyServerStatus, data, 0).Err()
}

func (s *Store) OnlineUUIDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, keyOnlineUUIDs).Result()
}

// AddOnline and RemoveOnline are idempotent, so a retried or overlapping
// cycle can't double-apply a membership change.
func (s *Store) AddOnline(ctx context.Context, uuid string) error {
	return s.rdb.SAdd(ctx, keyOnlineUUIDs, uuid).Err()
}

func (s *Store) RemoveOnline(ctx context.Context, uuid string) error {
	return s.rdb.SRem(ctx, keyOnlineUUIDs, uuid).Err()
}

// Player returns one record, or nil if the player was never seen.
func (s *Store) Player(ctx context.Context, uuid string) (*PlayerRecord, error) {
	data, err := s.rdb.Get(ctx, playerKey(uuid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", uuid, err)
	}
	var record PlayerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt player record %s: %w", uuid, err)
	}
	return &record, nil
}

// Players bulk-fetches records via MGET. Records that don't resolve
// (deleted out-of-band, corrupt) are dropped rather than surfaced.
func (s *Store) Players(ctx context.Context, uuids []string) ([]PlayerRecord, error) {
	if len(uuids) == 0 {
		return []PlayerRecord{}, nil
	}
	keys := make([]string, len(uuids))
	for i, uuid := range uuids {
		keys[i] = playerKey(uuid)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget players: %w", err)
	}
	records := make([]PlayerRecord, 0, len(values))
	for i, value := range values {
		text, ok := value.(string)
		if !ok {
			continue
		}
		var record PlayerRecord
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			logrus.WithError(err).Warnf("skipping corrupt player record %s", uuids[i])
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// UpdatePlayer applies a mutation to one player record under optimistic
// locking. Overlapping cycles can touch the same player, so the record is
// WATCHed and the write retried when it changed underneath us. The apply
// function gets a fresh copy each attempt and returns false to skip the
// write (the record is returned as loaded). A missing record starts empty.
func (s *Store) UpdatePlayer(ctx context.Context, uuid string, apply func(*PlayerRecord) bool) (PlayerRecord, error) {
	key := playerKey(uuid)
	var result PlayerRecord

	txn := func(tx *redis.Tx) error {
		record := PlayerRecord{UUID: uuid}
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// first sighting, start from an empty record
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("corrupt player record %s: %w", uuid, err)
			}
			record.UUID = uuid
		}

		write := apply(&record)
		result = record
		if !write {
			return nil
		}

		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			logrus.Debugf("player %s changed mid-update, retrying", uuid)
			continue
		}
		return PlayerRecord{}, err
	}
	return PlayerRecord{}, fmt.Errorf("player %s: too many concurrent updates", uuid)
}

// PushRecentSession prepends a closed session to the global feed and trims
// it to the most recent entries.
func (s *Store) PushRecentSession(ctx context.Context, session Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, keyRecentSessions, data)
	pipe.LTrim(ctx, keyRecentSessions, 0, recentCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentSessions returns up to n feed entries, most recent first.
func (s *Store) RecentSessions(ctx context.Context, n int64) ([]Session, error) {
	values, err := s.rdb.LRange(ctx, keyRecentSessions, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange recent sessions: %w", err)
	}
	sessions := make([]Session, 0, len(values))
	for _, value := range values {
		var session Session
		if err := json.Unmarshal([]byte(value), &session); err != nil {
			logrus.WithError(err).Warn("skipping corrupt recent session entry")
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
