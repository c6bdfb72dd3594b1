package lookout

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// StartSchedule runs poll cycles on a built-in cron schedule, for
// deployments without an external trigger. Each tick is an independent
// invocation and may overlap a slow predecessor, exactly like external
// triggers hitting the poll endpoint.
func StartSchedule(spec string, poller *Poller) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		report, err := poller.RunCycle(context.Background())
		if err != nil {
			logrus.WithError(err).Warn("scheduled poll failed")
			return
		}
		logrus.WithFields(logrus.Fields{
			"onlineCount": report.OnlineCount,
			"joined":      len(report.Joined),
			"left":        len(report.Left),
		}).Info("scheduled poll complete")
	})
	if err != nil {
		return nil, fmt.Errorf("bad poll schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
