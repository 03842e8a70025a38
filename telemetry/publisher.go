// Package telemetry publishes tempo, detector and output state to an MQTT
// broker and to WebSocket clients. Nothing here runs on the sampling or tick
// paths: documents are queued and sent from worker goroutines, and dropped
// when the queue is full.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/cgxeiji/clapsync/beat"
	"github.com/cgxeiji/clapsync/output"
	"github.com/cgxeiji/clapsync/tempo"
)

// ErrTimeout is returned when the broker does not answer in time.
var ErrTimeout = errors.New("telemetry: broker timeout")

// Topic suffixes under <prefix>/<device>/.
const (
	TopicBPM    = "bpm"
	TopicAudio  = "audio"
	TopicStatus = "status"
	TopicOnline = "online"
)

// Status is the periodic device status document.
type Status struct {
	Device         string       `json:"device"`
	Time           time.Time    `json:"time"`
	Uptime         float64      `json:"uptime_s"`
	State          output.State `json:"state"`
	Mode           string       `json:"mode"`
	BPM            float64      `json:"bpm"`
	LockedBPM      float64      `json:"locked_bpm"`
	Stable         bool         `json:"stable"`
	Beats          uint32       `json:"beats"`
	FalsePositives uint32       `json:"false_positives"`
	SampleErrors   uint64       `json:"sample_errors"`
	RTCHealthy     bool         `json:"rtc_healthy"`
	RTCTemperature float64      `json:"rtc_temperature_c"`
	Output         output.Stats `json:"output"`
	Gain           beat.Gain    `json:"gain_db"`
	Dropped        uint64       `json:"telemetry_dropped"`
}

// PublisherConfig configures the MQTT connection.
type PublisherConfig struct {
	Broker   string
	Port     int
	TLS      bool
	Username string
	Password string
	ClientID string
	// Prefix is the first topic level, e.g. "clapsync".
	Prefix    string
	Device    string
	QoS       byte
	QueueSize int
}

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// Publisher sends telemetry documents to an MQTT broker.
type Publisher struct {
	client mqtt.Client
	base   string
	qos    byte
	queue  chan message
	log    logrus.FieldLogger

	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewPublisher returns a publisher for cfg. It does not connect.
func NewPublisher(cfg PublisherConfig, log logrus.FieldLogger) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	p := &Publisher{
		base:  fmt.Sprintf("%s/%s/", cfg.Prefix, cfg.Device),
		qos:   cfg.QoS,
		queue: make(chan message, cfg.QueueSize),
		log:   log.WithField("component", "mqtt"),
	}

	protocol := "tcp"
	if cfg.TLS {
		protocol = "tls"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", protocol, cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(p.base+TopicOnline, "offline", 1, true)

	opts.OnConnect = p.onConnect
	opts.OnConnectionLost = p.onConnectionLost
	opts.OnReconnecting = p.onReconnecting

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect connects to the broker. If the broker cannot be reached in time
// ErrTimeout is returned and the client keeps retrying in the background.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("telemetry: could not connect: %w", ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: could not connect: %w", err)
	}
	return nil
}

func (p *Publisher) onConnect(c mqtt.Client) {
	p.log.Info("connected")
	c.Publish(p.base+TopicOnline, 1, true, "online")
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.log.WithError(err).Warn("connection lost, reconnecting")
}

func (p *Publisher) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	p.log.Debug("reconnecting")
}

// PublishBPM queues a BPM update.
func (p *Publisher) PublishBPM(u tempo.Update) {
	p.enqueue(TopicBPM, u, false)
}

// PublishAudio queues a detector snapshot.
func (p *Publisher) PublishAudio(t beat.Telemetry) {
	p.enqueue(TopicAudio, t, false)
}

// PublishStatus queues a status document. Status is retained so late
// subscribers see the last one.
func (p *Publisher) PublishStatus(s Status) {
	s.Dropped = p.dropped.Load()
	p.enqueue(TopicStatus, s, true)
}

func (p *Publisher) enqueue(topic string, v any, retained bool) {
	b, err := json.Marshal(v)
	if err != nil {
		p.log.WithError(err).WithField("topic", topic).Error("could not encode")
		return
	}
	select {
	case p.queue <- message{topic: p.base + topic, payload: b, retained: retained}:
	default:
		p.dropped.Add(1)
	}
}

// Run sends queued documents until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-p.queue:
			if !p.client.IsConnected() {
				p.dropped.Add(1)
				continue
			}
			token := p.client.Publish(m.topic, p.qos, m.retained, m.payload)
			if !token.WaitTimeout(5 * time.Second) {
				p.log.WithField("topic", m.topic).Warn("publish timeout")
				continue
			}
			if err := token.Error(); err != nil {
				p.log.WithError(err).WithField("topic", m.topic).Warn("could not publish")
				continue
			}
			p.sent.Add(1)
		}
	}
}

// Report publishes the status returned by status every interval until ctx is
// done.
func (p *Publisher) Report(ctx context.Context, interval time.Duration, status func() Status) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.PublishStatus(status())
		}
	}
}

// Dropped returns the number of documents dropped because the queue was full
// or the broker unreachable.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Sent returns the number of documents acknowledged by the client.
func (p *Publisher) Sent() uint64 {
	return p.sent.Load()
}

// Close marks the device offline and disconnects.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Publish(p.base+TopicOnline, 1, true, "offline").WaitTimeout(time.Second)
	}
	p.client.Disconnect(250)
}
