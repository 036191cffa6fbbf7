package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/smdmonitor/smdmonitor/pkg/compliance"
	"github.com/smdmonitor/smdmonitor/pkg/log"
	"github.com/smdmonitor/smdmonitor/pkg/types"
)

const defaultTopicPrefix = "smdmonitor"

// publishClient is the part of mqtt.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher sends per-zone compliance summaries to an MQTT broker as
// retained messages. A Publisher without a broker does nothing.
type Publisher struct {
	client      publishClient
	topicPrefix string
	timeout     time.Duration
}

// Summary is the payload published for each zone.
type Summary struct {
	Zone           types.Zone        `json:"zone"`
	Start          string            `json:"start,omitempty"`
	End            string            `json:"end,omitempty"`
	Peak           types.Measurement `json:"peak"`
	Mean           types.Measurement `json:"mean"`
	Min            types.Measurement `json:"min"`
	ComplianceRate types.Measurement `json:"complianceRate"`
	ViolationCount int               `json:"violationCount"`
	Intervals      int               `json:"intervals"`
	PublishedAt    time.Time         `json:"publishedAt"`
}

// Configured sets up the publisher based on flags. Without -mqtt-broker the
// publisher is disabled.
func Configured() *Publisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker host:port to publish compliance summaries to (disabled if empty)")
	clientID := lflag.String("mqtt-client-id", "smdmonitor", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	topicPrefix := lflag.String("mqtt-topic-prefix", defaultTopicPrefix, "Prefix for published MQTT topics")

	p := &Publisher{}

	lflag.Do(func() {
		if *broker == "" {
			return
		}
		np, err := New(MQTTConfig{
			Broker:      *broker,
			ClientID:    *clientID,
			Username:    *username,
			Password:    *password,
			TopicPrefix: *topicPrefix,
		})
		if err != nil {
			panic(fmt.Sprintf("mqtt init failed: %v", err))
		}
		*p = *np
	})

	return p
}

// New connects to the broker in cfg.
func New(cfg MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	return newPublisher(client, cfg.TopicPrefix), nil
}

func newPublisher(client publishClient, topicPrefix string) *Publisher {
	if topicPrefix == "" {
		topicPrefix = defaultTopicPrefix
	}
	return &Publisher{
		client:      client,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		timeout:     5 * time.Second,
	}
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil
}

// Topic returns the topic a zone's summary is published on.
func (p *Publisher) Topic(zone types.Zone) string {
	return fmt.Sprintf("%s/%s/compliance", p.topicPrefix, strings.ToLower(string(zone)))
}

// PublishReports publishes one retained summary per zone.
func (p *Publisher) PublishReports(ctx context.Context, r types.DateRange, reports []compliance.ZoneReport) error {
	if !p.Enabled() {
		return nil
	}
	now := time.Now().UTC()
	for _, rep := range reports {
		s := Summary{
			Zone:           rep.Zone,
			Peak:           rep.Stats.Peak,
			Mean:           rep.Stats.Mean,
			Min:            rep.Stats.Min,
			ComplianceRate: rep.Stats.ComplianceRate,
			ViolationCount: rep.Stats.ViolationCount,
			Intervals:      rep.Stats.Intervals,
			PublishedAt:    now,
		}
		if r.IsSet() {
			s.Start = r.Start.Format(types.DateLayout)
			s.End = r.End.Format(types.DateLayout)
		}
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encoding summary: %w", err)
		}

		topic := p.Topic(rep.Zone)
		token := p.client.Publish(topic, 1, true, payload)
		if !token.WaitTimeout(p.timeout) {
			return fmt.Errorf("timed out publishing to %s", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing to %s: %w", topic, err)
		}
		log.Ctx(ctx).DebugContext(ctx, "published compliance summary", slog.String("topic", topic))
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.Enabled() {
		p.client.Disconnect(250)
	}
}
