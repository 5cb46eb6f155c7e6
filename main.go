package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"dhtpub/influx"
	"dhtpub/publisher"
	"dhtpub/sensor"
	"dhtpub/shared"
	"dhtpub/telegraf"
	"dhtpub/utils"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConfigFile = "config.json"
	// milliseconds paho gets to flush in-flight work on disconnect
	disconnectQuiesce = 250
	sinkBuffer        = 64
)

func main() {
	os.Exit(runMain(os.Args[1:]))
}

// runMain returns the process exit code so deferred cleanup runs before exit.
func runMain(args []string) int {
	fs := flag.NewFlagSet("dhtpub", flag.ContinueOnError)
	var level, configFile string
	fs.StringVar(&level, "level", "info", "Log level")
	fs.StringVar(&configFile, "config", defaultConfigFile, "Path to a JSON or YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// setup logging
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Error("failed to parse log level", "level", level, "err", err)
		return 1
	}
	log.SetLevel(lvl)

	cfg, err := loadConfig(configFile, flagSet(fs, "config"))
	if err != nil {
		log.Error("Failed to load config", "file", configFile, "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		select {
		case <-quit:
			log.Info("Received interrupt. Cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	client := mqtt.NewClient(newClientOptions(cfg))
	if err := run(ctx, cfg, client); err != nil {
		log.Error("publisher failed", "err", err)
		return 1
	}
	log.Info("shutdown complete, exitting")
	return 0
}

// loadConfig falls back to defaults when the default config file is absent.
// A file named explicitly on the command line must exist.
func loadConfig(filename string, explicit bool) (*shared.Config, error) {
	cfg, err := utils.LoadConfig(filename)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		log.Infof("no %s found, using built-in defaults", filename)
		def := shared.DefaultConfig()
		return &def, nil
	}
	return nil, err
}

func flagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// run connects once, starts the optional sinks and publishes until ctx is
// cancelled. Readings still buffered for the sinks are delivered before it returns.
func run(ctx context.Context, cfg *shared.Config, client mqtt.Client) error {
	source, err := sensor.New(cfg.Sensor)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var channels []chan shared.Reading
	var sinks []chan<- shared.Reading

	if cfg.TelegrafURL != "" {
		ch := make(chan shared.Reading, sinkBuffer)
		channels = append(channels, ch)
		sinks = append(sinks, ch)
		wg.Add(1)
		log.Info("starting telegraf publisher", "url", cfg.TelegrafURL)
		go telegraf.StartPublisher(&wg, cfg.TelegrafURL, ch)
	}

	if cfg.Influx.URL != "" {
		ch := make(chan shared.Reading, sinkBuffer)
		channels = append(channels, ch)
		sinks = append(sinks, ch)
		wg.Add(1)
		log.Info("starting influx writer", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
		go influx.New(cfg.Influx).Start(&wg, ch)
	}

	// the loop runs whether or not the broker accepted us
	connect(ctx, client, utils.BrokerURL(cfg))

	publisher.New(client, source, cfg, sinks...).Run(ctx)

	// the publisher is the only sender; closing lets the sinks drain and exit
	for _, ch := range channels {
		close(ch)
	}

	log.Info("Disconnecting from MQTT broker")
	client.Disconnect(disconnectQuiesce)

	wg.Wait()
	log.Info("All routines complete.")
	return nil
}

// connect makes a single attempt and reports whether it succeeded.
func connect(ctx context.Context, client mqtt.Client, broker string) bool {
	log.Infof("connecting to MQTT broker %s", broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		log.Warn("connect abandoned, shutting down", "broker", broker)
		return false
	}

	if err := token.Error(); err != nil {
		log.Error("failed to connect to MQTT broker", "broker", broker, "err", err)
		return false
	}
	return true
}
