package lookout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrBadPayload marks a status document that can't be normalized at all.
// The poll cycle treats it like an upstream failure: nothing is persisted.
var ErrBadPayload = errors.New("unusable status payload")

// defaultMOTD is used when the upstream document carries no message at all.
const defaultMOTD = "CookieKraft"

// PresentPlayer is one entry of the upstream player list after
// normalization. UUID and Name are always non-empty.
type PresentPlayer struct {
	UUID string
	Name string
}

// Snapshot is the canonical view of one poll of the upstream status API.
type Snapshot struct {
	Online        bool
	MOTD          string
	Version       string
	PlayersOnline int
	PlayersMax    *int // nil when the upstream doesn't report a cap
	Present       []PresentPlayer
}

// Status APIs disagree on field names and nesting across deployments, so
// every logical field is resolved from a declared list of candidates tried
// in order, rather than ad hoc conditionals per shape.
var (
	motdField       = textField{keys: []string{"motd"}, subKeys: []string{"clean", "raw"}, fallback: defaultMOTD}
	versionField    = textField{keys: []string{"version"}, subKeys: []string{"name"}}
	onlineCountKeys = []string{"online", "onlineCount"}
	maxCountKeys    = []string{"max", "maxCount"}
	playerListKeys  = []string{"list", "sample"}
	playerUUIDKeys  = []string{"uuid", "id"}
	playerNameKeys  = []string{"name", "username"}
)

// textField is one string-valued field: candidate keys tried in order,
// object sub-keys tried when the value is nested, and a fallback.
type textField struct {
	keys     []string
	subKeys  []string
	fallback string
}

// NormalizeSnapshot turns a raw upstream document into a Snapshot.
// Player entries without a usable id and name are dropped: without both
// there is nothing to track a session against. It never invents names.
func NormalizeSnapshot(raw []byte) (Snapshot, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if payload == nil {
		return Snapshot{}, fmt.Errorf("%w: empty document", ErrBadPayload)
	}

	snap := Snapshot{
		Online:  truthy(payload["online"]),
		MOTD:    motdField.resolve(payload),
		Version: versionField.resolve(payload),
	}

	players, _ := payload["players"].(map[string]interface{})
	snap.PlayersOnline = countField(players, onlineCountKeys)
	if max, ok := lookupCount(players, maxCountKeys); ok {
		snap.PlayersMax = &max
	}
	snap.Present = presentPlayers(players)

	return snap, nil
}

func (f textField) resolve(payload map[string]interface{}) string {
	for _, key := range f.keys {
		switch value := payload[key].(type) {
		case string:
			return value
		case map[string]interface{}:
			for _, sub := range f.subKeys {
				if s, ok := value[sub].(string); ok {
					return s
				}
			}
		}
	}
	return f.fallback
}

// countField coerces a numeric field to a non-negative int, 0 if unusable.
func countField(payload map[string]interface{}, keys []string) int {
	n, _ := lookupCount(payload, keys)
	return n
}

func lookupCount(payload map[string]interface{}, keys []string) (int, bool) {
	for _, key := range keys {
		value, present := payload[key]
		if !present {
			continue
		}
		switch v := value.(type) {
		case float64:
			return clampCount(int(v)), true
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return clampCount(n), true
			}
		}
	}
	return 0, false
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func presentPlayers(payload map[string]interface{}) []PresentPlayer {
	var entries []interface{}
	for _, key := range playerListKeys {
		if list, ok := payload[key].([]interface{}); ok {
			entries = list
			break
		}
	}

	present := make([]PresentPlayer, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		uuid := stringValue(fields, playerUUIDKeys)
		name := stringValue(fields, playerNameKeys)
		if uuid == "" || name == "" {
			continue
		}
		if seen[uuid] {
			continue
		}
		seen[uuid] = true
		present = append(present, PresentPlayer{UUID: uuid, Name: name})
	}
	return present
}

// stringValue coerces an id-ish field to a string; numeric ids show up in
// the wild when servers report integer entity ids.
func stringValue(fields map[string]interface{}, keys []string) string {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return false
	}
}
