// Package captions publishes live transcripts and translations to an
// MQTT broker so other tools can render captions.
//
// Topics:
//
//	<prefix>/transcript   recognized source text
//	<prefix>/translation  translated text
//	<prefix>/status       "online" / "offline" (retained, last will)
package captions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/teslashibe/transync/pkg/pipeline"
)

// ErrNotConnected is returned when publishing before Connect.
var ErrNotConnected = errors.New("captions: not connected")

// Config configures the publisher.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	PublishTimeout time.Duration
	// ConnectTimeout bounds how long Connect waits for the first
	// connection. Defaults to 5s.
	ConnectTimeout time.Duration
}

// Caption is the JSON payload of every caption message.
type Caption struct {
	UtteranceID    uuid.UUID `json:"utterance_id"`
	Language       string    `json:"language"`
	Text           string    `json:"text"`
	SourceLanguage string    `json:"source_language,omitempty"`
	SourceText     string    `json:"source_text,omitempty"`
	Time           time.Time `json:"time"`
}

// client is the subset of paho.Client used for publishing.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher sends captions to the broker.
type Publisher struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	client client
}

var _ pipeline.Observer = (*Publisher)(nil)

// New creates a publisher. Call Connect before publishing.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "transync"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Publisher{cfg: cfg, logger: logger.With("component", "captions.publisher")}
}

// Connect dials the broker and disconnects when ctx is done. It waits at
// most ConnectTimeout for the first connection; if the broker is not
// reachable by then, Connect returns nil and the client keeps retrying in
// the background. Publish failures while disconnected are only logged.
func (p *Publisher) Connect(ctx context.Context) error {
	status := p.topic("status")
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(p.cfg.ConnectTimeout).
		SetWill(status, "offline", p.cfg.QoS, true)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Error("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		c.Publish(status, p.cfg.QoS, true, "online")
		p.logger.Info("connected to broker", "broker", p.cfg.BrokerURL)
	})

	c := paho.NewClient(opts)
	token := c.Connect()

	timer := time.NewTimer(p.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			c.Disconnect(0)
			return fmt.Errorf("captions: connect %s: %w", p.cfg.BrokerURL, err)
		}
	case <-timer.C:
		p.logger.Warn("broker not reachable yet, retrying in background",
			"broker", p.cfg.BrokerURL,
			"timeout", p.cfg.ConnectTimeout,
		)
	case <-ctx.Done():
		c.Disconnect(0)
		return ctx.Err()
	}

	p.setClient(c)

	go func() {
		<-ctx.Done()
		if c.IsConnected() {
			if t := c.Publish(status, p.cfg.QoS, true, "offline"); t.WaitTimeout(time.Second) && t.Error() != nil {
				p.logger.Debug("offline status not sent", "error", t.Error())
			}
		}
		c.Disconnect(250)
	}()
	return nil
}

func (p *Publisher) setClient(c client) {
	p.mu.Lock()
	p.client = c
	p.mu.Unlock()
}

func (p *Publisher) topic(name string) string {
	return p.cfg.TopicPrefix + "/" + name
}

// OnRecognized publishes a recognized utterance to <prefix>/transcript.
func (p *Publisher) OnRecognized(r pipeline.Recognized) error {
	return p.publish("transcript", Caption{
		UtteranceID: r.UtteranceID,
		Language:    r.Language,
		Text:        r.Text,
		Time:        r.StartTime,
	})
}

// OnTranslated publishes a translation to <prefix>/translation.
func (p *Publisher) OnTranslated(t pipeline.Translated) error {
	return p.publish("translation", Caption{
		UtteranceID:    t.UtteranceID,
		Language:       t.Language,
		Text:           t.Text,
		SourceLanguage: t.SourceLanguage,
		SourceText:     t.SourceText,
		Time:           t.StartTime,
	})
}

// OnEvent implements pipeline.Observer. Publish failures are logged.
func (p *Publisher) OnEvent(e pipeline.Event) {
	var err error
	switch e.Kind {
	case pipeline.EventRecognized:
		err = p.OnRecognized(pipeline.Recognized{
			UtteranceID: e.UtteranceID,
			Text:        e.Text,
			Language:    e.Language,
			StartTime:   e.Time,
		})
	case pipeline.EventTranslated:
		err = p.OnTranslated(pipeline.Translated{
			UtteranceID:    e.UtteranceID,
			SourceText:     e.SourceText,
			SourceLanguage: e.SourceLanguage,
			Text:           e.Text,
			Language:       e.Language,
			StartTime:      e.Time,
		})
	default:
		return
	}
	if err != nil {
		p.logger.Warn("caption not published", "kind", e.Kind, "error", err)
	}
}

// publish hands the message to the client and returns without waiting
// for the broker. Delivery errors are logged once the token completes.
func (p *Publisher) publish(name string, c Caption) error {
	p.mu.RLock()
	cl := p.client
	p.mu.RUnlock()
	if cl == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("captions: encode: %w", err)
	}

	topic := p.topic(name)
	token := cl.Publish(topic, p.cfg.QoS, false, payload)
	go func() {
		if !token.WaitTimeout(p.cfg.PublishTimeout) {
			p.logger.Warn("publish timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("publish failed", "topic", topic, "error", err)
		}
	}()
	return nil
}
