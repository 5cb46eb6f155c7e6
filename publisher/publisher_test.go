package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"dhtpub/shared"
	"dhtpub/utils"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func captureLog(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := log.GetLevel()
	log.SetOutput(buf)
	log.SetLevel(log.DebugLevel)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(prev)
	})
	return buf
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	tok := &fakeToken{err: err, done: make(chan struct{})}
	close(tok.done)
	return tok
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mu       sync.Mutex
	err      error
	messages []message
	notify   chan struct{}
}

func newFakeClient(err error) *fakeClient {
	return &fakeClient{err: err, notify: make(chan struct{}, 100)}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.messages = append(c.messages, message{topic, qos, retained, string(payload.([]byte))})
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return newToken(c.err)
}

func (c *fakeClient) published() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.messages...)
}

// waitFor blocks until n messages were published.
func (c *fakeClient) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(c.published()) < n {
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %d", n, len(c.published()))
		}
	}
}

type stubSource struct {
	temp, humi float64
	tempErr    error
}

func (s stubSource) Temperature() (float64, error) { return s.temp, s.tempErr }
func (s stubSource) Humidity() (float64, error)    { return s.humi, nil }

func testConfig() *shared.Config {
	cfg := shared.DefaultConfig()
	cfg.IntervalSeconds = 0.001
	return &cfg
}

func runPublisher(t *testing.T, p *Publisher) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return func() {
		cancelCtx()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestRun_AlternatesTopicsAndPayloads(t *testing.T) {
	captureLog(t)
	client := newFakeClient(nil)
	p := New(client, stubSource{temp: 21.0, humi: 50.0}, testConfig())

	stop := runPublisher(t, p)
	client.waitFor(t, 4)
	stop()

	msgs := client.published()
	want := []message{
		{"haus/temperatur", 0, false, "21.0"},
		{"haus/feuchtigkeit", 0, false, "50.0"},
		{"haus/temperatur", 0, false, "21.0"},
		{"haus/feuchtigkeit", 0, false, "50.0"},
	}
	for i, w := range want {
		if msgs[i] != w {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], w)
		}
	}
}

func TestRun_StopsOnCancelDuringWait(t *testing.T) {
	captureLog(t)
	client := newFakeClient(nil)
	cfg := shared.DefaultConfig()
	cfg.IntervalSeconds = 3600
	p := New(client, stubSource{temp: 21.0, humi: 50.0}, &cfg)

	stop := runPublisher(t, p)
	client.waitFor(t, 1)
	stop()

	if got := len(client.published()); got != 1 {
		t.Errorf("published %d messages, want 1", got)
	}
}

func TestRun_SourceErrorSkipsHumidityAndContinues(t *testing.T) {
	logs := captureLog(t)
	client := newFakeClient(nil)
	p := New(client, stubSource{humi: 50.0, tempErr: errors.New("sensor timeout")}, testConfig())

	stop := runPublisher(t, p)
	deadline := time.Now().Add(2 * time.Second)
	for strings.Count(logs.String(), "sensor timeout") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated source errors in log, got: %s", logs.String())
		}
		time.Sleep(time.Millisecond)
	}
	stop()

	if got := len(client.published()); got != 0 {
		t.Errorf("published %d messages, want 0", got)
	}
}

func TestPublish_NonFiniteIsRejected(t *testing.T) {
	captureLog(t)
	client := newFakeClient(nil)
	p := New(client, stubSource{}, testConfig())

	err := p.Publish(shared.Temperature, func() (float64, error) { return math.NaN(), nil })
	if !errors.Is(err, shared.ErrInvalidReading) {
		t.Errorf("Publish() error = %v, want ErrInvalidReading", err)
	}
	if len(client.published()) != 0 {
		t.Error("non-finite reading was published")
	}
}

func TestPublish_FailedDeliveryIsLogged(t *testing.T) {
	logs := captureLog(t)
	client := newFakeClient(errors.New("not Connected"))
	p := New(client, stubSource{}, testConfig())

	if err := p.Publish(shared.Humidity, func() (float64, error) { return 50.0, nil }); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(logs.String(), "publish to haus/feuchtigkeit failed") {
		if time.Now().After(deadline) {
			t.Fatalf("expected delivery failure in log, got: %s", logs.String())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPublish_ForwardsToSinks(t *testing.T) {
	captureLog(t)
	client := newFakeClient(nil)
	sink := make(chan shared.Reading, 1)
	p := New(client, stubSource{}, testConfig(), sink)
	fixed := time.Date(2023, 1, 28, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	if err := p.Publish(shared.Temperature, func() (float64, error) { return 21.0, nil }); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := <-sink
	want := shared.Reading{Kind: shared.Temperature, Topic: "haus/temperatur", Value: 21.0, Time: fixed}
	if got != want {
		t.Errorf("sink got %+v, want %+v", got, want)
	}
}

func TestPublish_FullSinkDoesNotBlock(t *testing.T) {
	logs := captureLog(t)
	client := newFakeClient(nil)
	sink := make(chan shared.Reading)
	p := New(client, stubSource{}, testConfig(), sink)

	done := make(chan error, 1)
	go func() {
		done <- p.Publish(shared.Temperature, func() (float64, error) { return 21.0, nil })
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full sink")
	}
	if !strings.Contains(logs.String(), "sink buffer full") {
		t.Errorf("expected drop warning, got: %s", logs.String())
	}
}

func TestPublish_RetainAndQoSFromConfig(t *testing.T) {
	captureLog(t)
	client := newFakeClient(nil)
	cfg := testConfig()
	cfg.QoS = 1
	cfg.Retain = true
	cfg.Topic = "garten"
	p := New(client, stubSource{}, cfg)

	if err := p.Publish(shared.Humidity, func() (float64, error) { return 63.27, nil }); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	want := message{"garten/feuchtigkeit", 1, true, "63.3"}
	if got := client.published()[0]; got != want {
		t.Errorf("message = %+v, want %+v", got, want)
	}
}

func TestRun_JSONPublishesOneCombinedMessage(t *testing.T) {
	captureLog(t)
	client := newFakeClient(nil)
	sink := make(chan shared.Reading, 4)
	cfg := testConfig()
	cfg.Format = shared.FormatJSON
	p := New(client, stubSource{temp: 21.0, humi: 50.0}, cfg, sink)
	fixed := time.Date(2023, 1, 28, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	stop := runPublisher(t, p)
	client.waitFor(t, 2)
	stop()

	for i, m := range client.published()[:2] {
		if m.topic != "haus/temperatur" {
			t.Errorf("message %d topic = %q, want haus/temperatur", i, m.topic)
		}
		var doc struct {
			Timestamp   string  `json:"timestamp"`
			Temperature float64 `json:"temperature"`
			Humidity    float64 `json:"humidity"`
		}
		if err := json.Unmarshal([]byte(m.payload), &doc); err != nil {
			t.Fatalf("message %d payload %q: %v", i, m.payload, err)
		}
		if doc.Temperature != 21.0 || doc.Humidity != 50.0 {
			t.Errorf("message %d = %+v, want temperature 21 and humidity 50", i, doc)
		}
		ts, err := time.Parse(utils.TimestampLayout, doc.Timestamp)
		if err != nil || !ts.Equal(fixed) {
			t.Errorf("message %d timestamp = %q (%v), want %s", i, doc.Timestamp, err, fixed)
		}
	}

	first, second := <-sink, <-sink
	if first.Kind != shared.Temperature || second.Kind != shared.Humidity {
		t.Errorf("sink got %s then %s, want temperature then humidity", first.Kind, second.Kind)
	}
	if second.Value != 50.0 || !second.Time.Equal(fixed) {
		t.Errorf("humidity reading = %+v", second)
	}
}

func TestPublishCombined_SourceErrorPublishesNothing(t *testing.T) {
	captureLog(t)
	client := newFakeClient(nil)
	cfg := testConfig()
	cfg.Format = shared.FormatJSON
	p := New(client, stubSource{tempErr: errors.New("sensor timeout")}, cfg)

	if err := p.PublishCombined(); err == nil || !strings.Contains(err.Error(), "sensor timeout") {
		t.Errorf("PublishCombined() error = %v, want sensor timeout", err)
	}
	if len(client.published()) != 0 {
		t.Error("message published despite source error")
	}
}
