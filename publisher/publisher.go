package publisher

import (
	"context"
	"fmt"
	"time"

	"dhtpub/sensor"
	"dhtpub/shared"
	"dhtpub/utils"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client is the part of mqtt.Client the loop needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher alternates temperature and humidity publications with a fixed pause.
type Publisher struct {
	client Client
	source sensor.Source
	sinks  []chan<- shared.Reading

	qos      byte
	retain   bool
	format   string
	interval time.Duration

	tempTopic string
	humiTopic string

	now func() time.Time
}

func New(client Client, source sensor.Source, cfg *shared.Config, sinks ...chan<- shared.Reading) *Publisher {
	return &Publisher{
		client:    client,
		source:    source,
		sinks:     sinks,
		qos:       cfg.QoS,
		retain:    cfg.Retain,
		format:    cfg.Format,
		interval:  cfg.Interval(),
		tempTopic: utils.Topic(cfg.Topic, shared.Temperature),
		humiTopic: utils.Topic(cfg.Topic, shared.Humidity),
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled. A failed step aborts the rest of the
// iteration; the loop pauses one interval and starts over with temperature.
func (p *Publisher) Run(ctx context.Context) {
	log.Infof("publishing to %s and %s every %s", p.tempTopic, p.humiTopic, p.interval)

	for {
		err := p.iterate(ctx)
		if ctx.Err() != nil {
			log.Info("Publisher received shutdown signal (cancelled).")
			return
		}
		if err != nil {
			log.Error("publish step failed", "err", err)
			if !p.wait(ctx) {
				log.Info("Publisher received shutdown signal (cancelled).")
				return
			}
		}
	}
}

func (p *Publisher) iterate(ctx context.Context) error {
	if p.format == shared.FormatJSON {
		if err := p.PublishCombined(); err != nil {
			return err
		}
		if !p.wait(ctx) {
			return ctx.Err()
		}
		return nil
	}

	if err := p.Publish(shared.Temperature, p.source.Temperature); err != nil {
		return err
	}
	if !p.wait(ctx) {
		return ctx.Err()
	}

	if err := p.Publish(shared.Humidity, p.source.Humidity); err != nil {
		return err
	}
	if !p.wait(ctx) {
		return ctx.Err()
	}
	return nil
}

// Publish samples one value and sends it to its topic. The delivery token is
// not waited on; failures surface in the log.
func (p *Publisher) Publish(kind shared.Kind, read func() (float64, error)) error {
	value, err := read()
	if err != nil {
		return fmt.Errorf("read %s: %w", kind, err)
	}

	reading := shared.Reading{
		Kind:  kind,
		Topic: p.topic(kind),
		Value: value,
		Time:  p.now(),
	}

	payload, err := utils.EncodePayload(reading)
	if err != nil {
		return err
	}

	log.Infof("Topic:%s -- %s=%s", reading.Topic, kind, utils.FormatReading(value))
	token := p.client.Publish(reading.Topic, p.qos, p.retain, payload)
	go watchToken(token, reading.Topic)

	p.forward(reading)
	return nil
}

// PublishCombined samples both values and sends them as one JSON document on
// the temperature topic, the shape the ingress consumer expects.
func (p *Publisher) PublishCombined() error {
	temp, err := p.source.Temperature()
	if err != nil {
		return fmt.Errorf("read %s: %w", shared.Temperature, err)
	}
	humi, err := p.source.Humidity()
	if err != nil {
		return fmt.Errorf("read %s: %w", shared.Humidity, err)
	}

	at := p.now()
	tr := shared.Reading{Kind: shared.Temperature, Topic: p.tempTopic, Value: temp, Time: at}
	hr := shared.Reading{Kind: shared.Humidity, Topic: p.humiTopic, Value: humi, Time: at}

	payload, err := utils.EncodeCombined(tr, hr)
	if err != nil {
		return err
	}

	log.Infof("Topic:%s -- %s", p.tempTopic, payload)
	token := p.client.Publish(p.tempTopic, p.qos, p.retain, payload)
	go watchToken(token, p.tempTopic)

	p.forward(tr)
	p.forward(hr)
	return nil
}

func (p *Publisher) topic(kind shared.Kind) string {
	if kind == shared.Humidity {
		return p.humiTopic
	}
	return p.tempTopic
}

// forward hands the reading to every sink without blocking the loop.
func (p *Publisher) forward(r shared.Reading) {
	for _, sink := range p.sinks {
		select {
		case sink <- r:
		default:
			log.Warnf("sink buffer full, dropping %s reading", r.Kind)
		}
	}
}

// wait reports false if ctx was cancelled before the interval elapsed.
func (p *Publisher) wait(ctx context.Context) bool {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func watchToken(token mqtt.Token, topic string) {
	if token == nil {
		return
	}
	<-token.Done()
	if err := token.Error(); err != nil {
		log.Warnf("publish to %s failed: %s", topic, err)
	}
}
