package lookout

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTT topics for presence announcements. Other services subscribe here to
// react to joins and leaves without polling the read endpoint.
const (
	topicJoin  = "lookout/plaza/join"
	topicLeave = "lookout/plaza/leave"
)

// Announcer publishes join/leave events after a successful cycle. It is
// strictly best-effort: a publish failure is logged and never fails the
// cycle that produced the event.
type Announcer struct {
	client mqtt.Client
}

func NewAnnouncer(host, user, pass string) (*Announcer, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(host)
	opts.SetClientID("lookout")
	opts.SetUsername(user)
	opts.SetPassword(pass)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logrus.Printf("MQTT Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	logrus.Println("Connected to MQTT")
	return &Announcer{client: client}, nil
}

type joinEvent struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	At   int64  `json:"at"`
}

func (a *Announcer) AnnounceJoins(joined []string, names map[string]string, now int64) {
	for _, uuid := range joined {
		a.publish(topicJoin, joinEvent{UUID: uuid, Name: names[uuid], At: now})
	}
}

func (a *Announcer) AnnounceLeaves(closed []Session) {
	for _, session := range closed {
		a.publish(topicLeave, session)
	}
}

func (a *Announcer) publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Warnf("failed to marshal announcement for %s", topic)
		return
	}
	if token := a.client.Publish(topic, 0, false, data); token.Wait() && token.Error() != nil {
		logrus.WithError(token.Error()).Warnf("failed to publish to %s", topic)
	}
}

func (a *Announcer) Close() {
	a.client.Disconnect(250)
}
