// lookout-watch is a terminal consumer of the lookout read endpoint: it
// polls /api/status and renders who's online plus the recent sessions.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/enescakir/emoji"
	"github.com/kataras/tablewriter"
	"github.com/lensesio/tableprinter"
	"github.com/sirupsen/logrus"

	"github.com/cookiekraft/lookout"
)

type onlineRow struct {
	Name     string `header:"name"`
	LastSeen string `header:"last seen"`
	Sessions int    `header:"sessions"`
	Playtime string `header:"playtime"`
}

type sessionRow struct {
	Name     string `header:"name"`
	Ended    string `header:"ended"`
	Duration string `header:"duration"`
}

func main() {
	urlPtr := flag.String("url", getEnv("LOOKOUT_URL", "http://localhost:8080/api/status"), "lookout status endpoint")
	refreshRatePtr := flag.Int("refresh-rate", 60, "refresh rate in seconds")
	oncePtr := flag.Bool("once", false, "print once and exit")
	flag.Parse()

	for {
		if err := printStatus(*urlPtr); err != nil {
			logrus.WithError(err).Error("failed to fetch status")
		}
		if *oncePtr {
			return
		}
		time.Sleep(time.Duration(*refreshRatePtr) * time.Second)
	}
}

func printStatus(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var report lookout.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	if report.Server.Online {
		max := "?"
		if report.Server.PlayersMax != nil {
			max = fmt.Sprintf("%d", *report.Server.PlayersMax)
		}
		fmt.Printf("%v %s — %s — %d/%s online\n",
			emoji.CheckMarkButton, report.Server.MOTD, report.Server.Version, report.Server.PlayersOnline, max)
	} else {
		fmt.Printf("%v server offline\n", emoji.CrossMark)
	}

	now := time.Now().UnixMilli()

	printer := tableprinter.New(os.Stdout)
	printer.BorderTop, printer.BorderBottom, printer.BorderLeft, printer.BorderRight = true, true, true, true
	printer.CenterSeparator = "│"
	printer.ColumnSeparator = "│"
	printer.RowSeparator = "─"
	printer.HeaderBgColor = tablewriter.BgBlackColor
	printer.HeaderFgColor = tablewriter.FgGreenColor

	players := make([]onlineRow, 0, len(report.OnlinePlayers))
	for _, player := range report.OnlinePlayers {
		players = append(players, onlineRow{
			Name:     player.Name,
			LastSeen: fmt.Sprintf("%ds ago", (now-player.LastSeen)/1000),
			Sessions: player.TotalSessions,
			Playtime: fmtDuration(player.TotalPlayMs),
		})
	}
	if len(players) > 0 {
		printer.Print(players)
	} else {
		fmt.Println("nobody online")
	}

	if len(report.RecentSessions) > 0 {
		fmt.Println("recent sessions:")
		sessions := make([]sessionRow, 0, len(report.RecentSessions))
		for _, session := range report.RecentSessions {
			sessions = append(sessions, sessionRow{
				Name:     session.Name,
				Ended:    fmt.Sprintf("%ds ago", (now-session.End)/1000),
				Duration: fmtDuration(session.DurationMs),
			})
		}
		printer.Print(sessions)
	}

	return nil
}

func fmtDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Truncate(time.Second).String()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
