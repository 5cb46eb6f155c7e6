package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"dhtpub/shared"
)

// TimestampLayout is "%F %T %Z" with millisecond precision, always rendered in UTC.
const TimestampLayout = "2006-01-02 15:04:05.000 MST"

// FormatReading renders v with exactly one fractional digit.
func FormatReading(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func checkFinite(r shared.Reading) error {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: %s=%v", shared.ErrInvalidReading, r.Kind, r.Value)
	}
	return nil
}

// EncodePayload renders a single reading as the plain decimal payload.
func EncodePayload(r shared.Reading) ([]byte, error) {
	if err := checkFinite(r); err != nil {
		return nil, err
	}
	return []byte(FormatReading(r.Value)), nil
}

type combinedPayload struct {
	Timestamp   string      `json:"timestamp"`
	Temperature json.Number `json:"temperature"`
	Humidity    json.Number `json:"humidity"`
}

// EncodeCombined renders one temperature/humidity sample as
// {"timestamp":"2023-01-28 12:00:00.000 UTC","temperature":21.0,"humidity":50.0}.
// The timestamp is taken from the temperature reading.
func EncodeCombined(temp, humi shared.Reading) ([]byte, error) {
	if err := checkFinite(temp); err != nil {
		return nil, err
	}
	if err := checkFinite(humi); err != nil {
		return nil, err
	}
	return json.Marshal(combinedPayload{
		Timestamp:   temp.Time.UTC().Format(TimestampLayout),
		Temperature: json.Number(FormatReading(temp.Value)),
		Humidity:    json.Number(FormatReading(humi.Value)),
	})
}
