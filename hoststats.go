package lookout

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
)

type HostStats struct {
	Uptime  uint64  `json:"uptime"`
	LoadAvg float64 `json:"loadAvg"`
}

func ReadHostStats() HostStats {
	var stats HostStats

	uptime, _ := host.Uptime()
	stats.Uptime = uptime

	if avg, err := load.Avg(); err == nil {
		loadavg := avg.Load1 / float64(runtime.NumCPU())
		stats.LoadAvg = float64(int64(loadavg*100)) / 100 // truncate to 2 digits
	}

	return stats
}
