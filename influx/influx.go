package influx

import (
	"context"
	"sync"
	"time"

	"dhtpub/shared"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Writer stores readings as points: measurement temperature|humidity, tag topic, field value.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func New(cfg shared.InfluxConfig) *Writer {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Writer{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func NewPoint(r shared.Reading) *write.Point {
	return influxdb2.NewPoint(
		r.Kind.Measurement(),
		map[string]string{"topic": r.Topic},
		map[string]interface{}{"value": r.Value},
		r.Time,
	)
}

func (w *Writer) Write(ctx context.Context, r shared.Reading) error {
	return w.writeAPI.WritePoint(ctx, NewPoint(r))
}

// writeTimeout bounds each write independently of the shutdown signal.
const writeTimeout = 10 * time.Second

// Start drains readings into InfluxDB until the channel is closed, then closes the client.
func (w *Writer) Start(wg *sync.WaitGroup, readings <-chan shared.Reading) {
	defer wg.Done()
	defer w.client.Close()

	for r := range readings {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.Write(ctx, r)
		cancel()
		if err != nil {
			log.Warn("influx write failed", "measurement", r.Kind.Measurement(), "err", err)
			continue
		}
		log.Debug("reading written to influx", "measurement", r.Kind.Measurement(), "value", r.Value)
	}
	log.Info("Influx writer drained, shutting down.")
}
