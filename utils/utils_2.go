package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"dhtpub/shared"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// TopicsQoS maps every subscription filter to the same QoS, as expected by SubscribeMultiple.
func TopicsQoS(filters []string, qos byte) map[string]byte {
	var transformed = make(map[string]byte, len(filters))

	for _, filter := range filters {
		transformed[filter] = qos
	}

	return transformed
}

// LoadConfig reads a JSON or YAML config file on top of shared.DefaultConfig and validates it.
func LoadConfig(filename string) (*shared.Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = file.Close()
		if err != nil {
			log.Warnf("failed to close config file")
		}
	}()

	cfg := shared.DefaultConfig()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filename, err)
		}
	default:
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filename, err)
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// maxIntervalSeconds keeps Interval() well inside time.Duration's range.
const maxIntervalSeconds = 24 * 60 * 60

// Validate reports the first problem found in cfg, wrapped in shared.ErrInvalidConfig.
func Validate(cfg *shared.Config) error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", shared.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch {
	case cfg.Broker == "":
		return invalid("broker is empty")
	case cfg.Port < 1 || cfg.Port > 65535:
		return invalid("port %d out of range", cfg.Port)
	case cfg.ClientID == "" && !cfg.UniqueClientID:
		return invalid("clientID is empty")
	case cfg.Topic == "":
		return invalid("topic is empty")
	case strings.ContainsAny(cfg.Topic, "+#"):
		return invalid("topic %q contains a wildcard", cfg.Topic)
	case cfg.QoS > 2:
		return invalid("qos %d out of range", cfg.QoS)
	case cfg.IntervalSeconds <= 0 || math.IsNaN(cfg.IntervalSeconds):
		return invalid("intervalSeconds must be positive")
	case cfg.IntervalSeconds > maxIntervalSeconds:
		return invalid("intervalSeconds %g exceeds %d", cfg.IntervalSeconds, maxIntervalSeconds)
	case cfg.KeepAliveSeconds < 0:
		return invalid("keepAliveSeconds must not be negative")
	}

	switch cfg.Format {
	case shared.FormatPlain, shared.FormatJSON:
	default:
		return fmt.Errorf("%w: %w %q", shared.ErrInvalidConfig, shared.ErrUnknownFormat, cfg.Format)
	}

	switch cfg.Sensor.Kind {
	case shared.SensorConstant, shared.SensorRandom:
	default:
		return fmt.Errorf("%w: %w %q", shared.ErrInvalidConfig, shared.ErrUnknownSensor, cfg.Sensor.Kind)
	}
	if cfg.Sensor.TemperatureDelta < 0 || cfg.Sensor.HumidityDelta < 0 {
		return invalid("sensor deltas must not be negative")
	}

	for _, filter := range cfg.Subscribe {
		if filter == "" {
			return invalid("empty subscription filter")
		}
	}

	if cfg.Influx.URL != "" && (cfg.Influx.Org == "" || cfg.Influx.Bucket == "") {
		return invalid("influx needs org and bucket")
	}
	return nil
}

// BrokerURL builds the paho server URI from the configured host and port.
func BrokerURL(cfg *shared.Config) string {
	return fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)
}

// Topic joins the namespace and the reading kind: "haus" + temperatur -> "haus/temperatur".
func Topic(namespace string, kind shared.Kind) string {
	return strings.TrimSuffix(namespace, "/") + "/" + string(kind)
}

// topicMatches returns true if the received topic matches the subscription topic
func TopicMatches(subscription, received string) bool {
	// Case 1: No wildcard, exact match only
	if !strings.HasSuffix(subscription, "#") {
		return subscription == received
	}

	if subscription == "#" {
		return true
	}

	if strings.HasSuffix(subscription, "/#") {
		prefix := strings.TrimSuffix(subscription, "/#")
		return received == prefix || strings.HasPrefix(received, prefix+"/")
	}

	// '#' not at the end of a level
	return false
}

// ReplaceBinaryWithHex scans the string and replaces any non-printable characters
// (outside ASCII 32-126) with their hex-encoded form.
func ReplaceBinaryWithHex(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= 32 && r <= 126 {
			b.WriteRune(r)
		} else {
			b.WriteString(fmt.Sprintf("\\x%02X", r))
		}
	}
	return b.String()
}
