package sensor

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"dhtpub/shared"
)

// Source is anything that can be sampled for temperature (°C) and relative humidity (%).
type Source interface {
	Temperature() (float64, error)
	Humidity() (float64, error)
}

// New picks the source named by cfg.Kind.
func New(cfg shared.SensorConfig) (Source, error) {
	switch cfg.Kind {
	case shared.SensorConstant, "":
		return Constant{Temp: cfg.Temperature, Humi: cfg.Humidity}, nil
	case shared.SensorRandom:
		return NewRandom(cfg, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownSensor, cfg.Kind)
	}
}

// Constant stands in for the DHT22 until the GPIO driver exists.
type Constant struct {
	Temp float64
	Humi float64
}

func (c Constant) Temperature() (float64, error) { return c.Temp, nil }
func (c Constant) Humidity() (float64, error)    { return c.Humi, nil }

// Random jitters around a base value by at most ±delta.
type Random struct {
	cfg shared.SensorConfig

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandom(cfg shared.SensorConfig, seed int64) *Random {
	return &Random{
		cfg: cfg,
		rnd: rand.New(rand.NewSource(seed)),
	}
}

func (r *Random) Temperature() (float64, error) {
	return r.cfg.Temperature + r.unit()*r.cfg.TemperatureDelta, nil
}

func (r *Random) Humidity() (float64, error) {
	return r.cfg.Humidity + r.unit()*r.cfg.HumidityDelta, nil
}

// unit returns a uniform value in [-1, 1).
func (r *Random) unit() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()*2 - 1
}
