package captions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/teslashibe/transync/pkg/pipeline"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{Topic: topic, QoS: qos, Retained: retained, Payload: payload.([]byte)})
	return newToken(f.err)
}

func (f *fakeClient) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func newTestPublisher(cfg Config) (*Publisher, *fakeClient) {
	p := New(cfg, nil)
	fc := &fakeClient{}
	p.setClient(fc)
	return p, fc
}

func TestOnRecognized(t *testing.T) {
	p, fc := newTestPublisher(Config{TopicPrefix: "meet", QoS: 1})
	id := uuid.New()

	if err := p.OnRecognized(pipeline.Recognized{UtteranceID: id, Text: "Bonjour", Language: "fr"}); err != nil {
		t.Fatal(err)
	}

	msgs := fc.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Topic != "meet/transcript" || msgs[0].QoS != 1 || msgs[0].Retained {
		t.Errorf("unexpected publish %+v", msgs[0])
	}

	var c Caption
	if err := json.Unmarshal(msgs[0].Payload, &c); err != nil {
		t.Fatal(err)
	}
	if c.UtteranceID != id || c.Text != "Bonjour" || c.Language != "fr" || c.SourceText != "" {
		t.Errorf("unexpected caption %+v", c)
	}
}

func TestOnTranslated(t *testing.T) {
	p, fc := newTestPublisher(Config{})

	err := p.OnTranslated(pipeline.Translated{
		Text: "Hello", Language: "en", SourceText: "Bonjour", SourceLanguage: "fr",
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs := fc.messages()
	if len(msgs) != 1 || msgs[0].Topic != "transync/translation" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	var c Caption
	json.Unmarshal(msgs[0].Payload, &c)
	if c.SourceText != "Bonjour" || c.SourceLanguage != "fr" || c.Text != "Hello" {
		t.Errorf("unexpected caption %+v", c)
	}
}

func TestOnEvent(t *testing.T) {
	p, fc := newTestPublisher(Config{TopicPrefix: "x"})

	events := []pipeline.Event{
		{Kind: pipeline.EventUtterance},
		{Kind: pipeline.EventRecognized, Text: "Bonjour", Language: "fr"},
		{Kind: pipeline.EventTranslated, Text: "Hello", Language: "en"},
		{Kind: pipeline.EventSpoken, Text: "Hello", Language: "en"},
	}
	for _, e := range events {
		p.OnEvent(e)
	}

	msgs := fc.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "x/transcript" || msgs[1].Topic != "x/translation" {
		t.Errorf("unexpected topics %s, %s", msgs[0].Topic, msgs[1].Topic)
	}
}

func TestPublish_NotConnected(t *testing.T) {
	p := New(Config{}, nil)
	if err := p.OnRecognized(pipeline.Recognized{Text: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	// Observer path only logs.
	p.OnEvent(pipeline.Event{Kind: pipeline.EventRecognized, Text: "x"})
}

func TestPublish_BrokerErrorDoesNotFail(t *testing.T) {
	p, fc := newTestPublisher(Config{})
	fc.err = errors.New("not authorized")

	if err := p.OnRecognized(pipeline.Recognized{Text: "x"}); err != nil {
		t.Errorf("delivery errors are asynchronous, got %v", err)
	}
}

func TestConnect_UnreachableBrokerDoesNotBlock(t *testing.T) {
	p := New(Config{
		BrokerURL:      "tcp://127.0.0.1:1",
		ClientID:       "transync-test",
		ConnectTimeout: 200 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	err := p.Connect(ctx)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected degraded connect, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Connect blocked for %v", elapsed)
	}
	if ctx.Err() != nil {
		t.Error("Connect must return before the caller's context ends")
	}

	// Still usable; delivery failures are logged, not returned.
	if err := p.OnRecognized(pipeline.Recognized{Text: "Bonjour", Language: "fr"}); err != nil {
		t.Errorf("publish while reconnecting should not fail, got %v", err)
	}
}
