package shared

import (
	"errors"
	"time"
)

var (
	ErrInvalidConfig  = errors.New("invalid config")
	ErrInvalidReading = errors.New("invalid sensor reading")
	ErrUnknownSensor  = errors.New("unknown sensor kind")
	ErrUnknownFormat  = errors.New("unknown payload format")
)

// Kind names a measured quantity. Its value is the last topic segment.
type Kind string

const (
	Temperature Kind = "temperatur"
	Humidity    Kind = "feuchtigkeit"
)

// Measurement is the InfluxDB / Telegraf measurement name for the kind.
func (k Kind) Measurement() string {
	switch k {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	default:
		return string(k)
	}
}

// Reading is a single sampled value on its way to the broker and the sinks
type Reading struct {
	Kind  Kind
	Topic string
	Value float64
	Time  time.Time
}

// Payload formats
const (
	FormatPlain = "plain"
	FormatJSON  = "json"
)

// Sensor kinds
const (
	SensorConstant = "constant"
	SensorRandom   = "random"
)

type SensorConfig struct {
	Kind             string  `json:"kind" yaml:"kind"`
	Temperature      float64 `json:"temperature" yaml:"temperature"`
	Humidity         float64 `json:"humidity" yaml:"humidity"`
	TemperatureDelta float64 `json:"temperatureDelta" yaml:"temperatureDelta"`
	HumidityDelta    float64 `json:"humidityDelta" yaml:"humidityDelta"`
}

type InfluxConfig struct {
	URL    string `json:"url" yaml:"url"`
	Token  string `json:"token" yaml:"token"`
	Org    string `json:"org" yaml:"org"`
	Bucket string `json:"bucket" yaml:"bucket"`
}

// Application Config
type Config struct {
	Broker           string       `json:"broker" yaml:"broker"`
	Port             int          `json:"port" yaml:"port"`
	ClientID         string       `json:"clientID" yaml:"clientID"`
	UniqueClientID   bool         `json:"uniqueClientID" yaml:"uniqueClientID"`
	Username         string       `json:"username" yaml:"username"`
	Password         string       `json:"password" yaml:"password"`
	KeepAliveSeconds int          `json:"keepAliveSeconds" yaml:"keepAliveSeconds"`
	CleanSession     bool         `json:"cleanSession" yaml:"cleanSession"`
	Topic            string       `json:"topic" yaml:"topic"`
	QoS              byte         `json:"qos" yaml:"qos"`
	Retain           bool         `json:"retain" yaml:"retain"`
	Format           string       `json:"format" yaml:"format"`
	IntervalSeconds  float64      `json:"intervalSeconds" yaml:"intervalSeconds"`
	Subscribe        []string     `json:"subscribe" yaml:"subscribe"`
	Sensor           SensorConfig `json:"sensor" yaml:"sensor"`
	TelegrafURL      string       `json:"telegrafURL" yaml:"telegrafURL"`
	Influx           InfluxConfig `json:"influx" yaml:"influx"`
}

// DefaultConfig is used when no config file is present: local broker, namespace "haus", 5s pace.
func DefaultConfig() Config {
	return Config{
		Broker:           "localhost",
		Port:             1883,
		ClientID:         "MeinMQTT-Client",
		KeepAliveSeconds: 20,
		CleanSession:     true,
		Topic:            "haus",
		Format:           FormatPlain,
		IntervalSeconds:  5,
		Sensor: SensorConfig{
			Kind:             SensorConstant,
			Temperature:      21.0,
			Humidity:         50.0,
			TemperatureDelta: 3.0,
			HumidityDelta:    5.0,
		},
	}
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}

func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}
