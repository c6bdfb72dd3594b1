package lookout

import (
	"context"
	"sort"
)

// recentReportLimit is how many feed entries the read endpoint exposes.
const recentReportLimit = 20

// OnlinePlayer is the read-side view of a currently online player.
type OnlinePlayer struct {
	UUID          string `json:"uuid"`
	Name          string `json:"name"`
	LastSeen      int64  `json:"lastSeen"`
	Online        bool   `json:"online"`
	TotalSessions int    `json:"totalSessions"`
	TotalPlayMs   int64  `json:"totalPlayMs"`
}

// StatusReport is the full read endpoint payload.
type StatusReport struct {
	OK             bool           `json:"ok"`
	Server         ServerStatus   `json:"server"`
	OnlinePlayers  []OnlinePlayer `json:"onlinePlayers"`
	RecentSessions []Session      `json:"recentSessions"`
}

// BuildStatusReport assembles the read-side view: last server status,
// currently online players with their aggregates, and recent closed
// sessions. Pure projection: it never writes, and an empty store yields a
// defaulted report rather than an error. Online players whose records
// don't resolve are dropped from the list.
func BuildStatusReport(ctx context.Context, store *Store) (StatusReport, error) {
	report := StatusReport{
		OK:             true,
		OnlinePlayers:  []OnlinePlayer{},
		RecentSessions: []Session{},
	}

	status, err := store.ServerStatus(ctx)
	if err != nil {
		return report, err
	}
	if status != nil {
		report.Server = *status
	}

	uuids, err := store.OnlineUUIDs(ctx)
	if err != nil {
		return report, err
	}
	sort.Strings(uuids)

	records, err := store.Players(ctx, uuids)
	if err != nil {
		return report, err
	}
	for _, record := range records {
		report.OnlinePlayers = append(report.OnlinePlayers, OnlinePlayer{
			UUID:          record.UUID,
			Name:          record.Name,
			LastSeen:      record.LastSeen,
			Online:        true,
			TotalSessions: record.TotalSessions,
			TotalPlayMs:   record.TotalPlayMs,
		})
	}

	recent, err := store.RecentSessions(ctx, recentReportLimit)
	if err != nil {
		return report, err
	}
	report.RecentSessions = recent

	return report, nil
}
