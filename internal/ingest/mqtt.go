package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Morgan141414/ViewPersonal/internal/config"
	"github.com/Morgan141414/ViewPersonal/internal/event"
)

// beaconReading is the wire shape the indoor-positioning collectors publish.
type beaconReading struct {
	DeviceID string    `json:"device_id"`
	SourceID string    `json:"source_id"`
	Zone     string    `json:"zone,omitempty"`
	RSSI     *float64  `json:"rssi,omitempty"`
	TS       time.Time `json:"ts"`
	EventID  string    `json:"event_id,omitempty"`
}

// MQTTSource subscribes to the positioning-beacon topic and normalizes
// readings into position events. The beacon device id doubles as the
// anonymous track id; identity resolution is a downstream concern.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	sink   Sink
	log    *slog.Logger
}

// NewMQTTSource connects to the broker and subscribes.
func NewMQTTSource(cfg config.MQTTConf, sink Sink, log *slog.Logger) (*MQTTSource, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("broker address is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("topic must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "viewpersonal-" + uuid.New().String()[:8]
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}

	s := &MQTTSource{client: client, topic: cfg.Topic, sink: sink, log: log}
	if token := client.Subscribe(cfg.Topic, 0, s.handle); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", cfg.Topic, token.Error())
	}
	log.Info("mqtt source started", "broker", cfg.Broker, "topic", cfg.Topic)
	return s, nil
}

func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	var reading beaconReading
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		s.log.Warn("mqtt message decode failed", "err", err, "topic", msg.Topic())
		return
	}

	ev := &event.Event{
		ID:               reading.EventID,
		Type:             event.TypePosition,
		Version:          event.SchemaVersion,
		TS:               reading.TS,
		ReceivedAt:       time.Now().UTC(),
		SourceID:         reading.SourceID,
		AnonymousTrackID: reading.DeviceID,
		PrivacyMode:      event.PrivacyAnonymous,
		Payload: event.Payload{
			Zone:     reading.Zone,
			DeviceID: reading.DeviceID,
			RSSI:     reading.RSSI,
		},
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if !s.sink.ProcessAsync(ev) {
		s.log.Warn("mqtt event not accepted", "device_id", reading.DeviceID)
	}
}

// Stop unsubscribes and disconnects from the broker.
func (s *MQTTSource) Stop() {
	s.client.Unsubscribe(s.topic)
	s.client.Disconnect(250)
}
