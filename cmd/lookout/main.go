package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bugsnag/bugsnag-go"
	"github.com/sirupsen/logrus"

	"github.com/cookiekraft/lookout"
)

func main() {
	statusURLPtr := flag.String("status-api-url", getEnv("STATUS_API_URL", ""), "game server status endpoint")
	cronSecretPtr := flag.String("cron-secret", getEnv("CRON_SECRET", ""), "shared secret for the poll trigger")
	redisURLPtr := flag.String("redis-url", getEnv("REDIS_URL", "redis://localhost:6379/0"), "redis connection url")
	httpAddrPtr := flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "http server address")
	pollCronPtr := flag.String("poll-cron", getEnv("POLL_CRON", ""), "built-in poll schedule, e.g. '@every 1m' (default: external triggers only)")
	mqttHostPtr := flag.String("mqtt-host", getEnv("MQTT_HOST", ""), "mqtt broker for join/leave announcements (optional)")
	mqttUserPtr := flag.String("mqtt-user", getEnv("MQTT_USER", ""), "mqtt server username")
	mqttPassPtr := flag.String("mqtt-pass", getEnv("MQTT_PASS", ""), "mqtt server password")
	verbosePtr := flag.Bool("verbose", false, "log debug stuff")

	flag.Parse()

	if *verbosePtr {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if apiKey := os.Getenv("BUGSNAG_API_KEY"); apiKey != "" {
		bugsnag.Configure(bugsnag.Configuration{
			APIKey:          apiKey,
			ProjectPackages: []string{"main", "github.com/cookiekraft/lookout"},
		})
	}

	cfg := lookout.Config{
		StatusAPIURL: *statusURLPtr,
		CronSecret:   *cronSecretPtr,
		RedisURL:     *redisURLPtr,
		HTTPAddr:     *httpAddrPtr,
		PollCron:     *pollCronPtr,
		MQTTHost:     *mqttHostPtr,
		MQTTUser:     *mqttUserPtr,
		MQTTPass:     *mqttPassPtr,
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("bad configuration")
	}
	if cfg.StatusAPIURL == "" {
		logrus.Warn("STATUS_API_URL not set, poll triggers will fail")
	}
	if cfg.CronSecret == "" {
		logrus.Warn("CRON_SECRET not set, poll triggers will be rejected")
	}

	store, err := lookout.OpenStore(cfg.RedisURL)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open store")
	}
	defer store.Close()

	poller := lookout.NewPoller(lookout.NewUpstreamClient(cfg.StatusAPIURL), store)

	if cfg.MQTTHost != "" {
		announcer, err := lookout.NewAnnouncer(cfg.MQTTHost, cfg.MQTTUser, cfg.MQTTPass)
		if err != nil {
			logrus.WithError(err).Warn("announcements disabled")
		} else {
			poller.SetAnnouncer(announcer)
			defer announcer.Close()
		}
	}

	server := lookout.NewServer(cfg, store, poller)
	if err := server.Start(cfg.HTTPAddr); err != nil {
		logrus.WithError(err).Fatal("failed to start http server")
	}

	if cfg.PollCron != "" {
		schedule, err := lookout.StartSchedule(cfg.PollCron, poller)
		if err != nil {
			logrus.WithError(err).Fatal("failed to start poll schedule")
		}
		defer schedule.Stop()
		logrus.Infof("⏰ polling on schedule %q", cfg.PollCron)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("shutdown error")
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
