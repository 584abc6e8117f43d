package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lakeshorelabs/groundstation/internal/api"
	"github.com/lakeshorelabs/groundstation/internal/config"
	"github.com/lakeshorelabs/groundstation/internal/frames"
	"github.com/lakeshorelabs/groundstation/internal/logger"
	"github.com/lakeshorelabs/groundstation/internal/notify"
	"github.com/lakeshorelabs/groundstation/internal/pipeline"
	"github.com/lakeshorelabs/groundstation/internal/plugins"
	"github.com/lakeshorelabs/groundstation/internal/recorder"
	"github.com/lakeshorelabs/groundstation/internal/relay"
	"github.com/lakeshorelabs/groundstation/internal/ticker"
)

const subscriberBuffer = 256

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "data/station.yaml", "Path to station config YAML file")
	port := flag.Int("port", 0, "Override plugin endpoint port")
	device := flag.String("device", "", "Override device address (host:port)")
	disabled := flag.Bool("disabled", false, "Start with the plugin endpoint disabled regardless of config")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Plugins.Port = *port
	}
	if *device != "" {
		cfg.Device.Address = *device
	}
	if *disabled {
		cfg.Plugins.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize logger first (before any logging)
	if err := logger.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("Starting GroundStation daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	// Open the device link and start extracting frames from it.
	driver, err := pipeline.NewDriver(cfg.Device)
	if err != nil {
		log.Fatalf("Failed to create device driver: %v", err)
	}
	builder := frames.NewBuilder(frames.BuilderConfig{
		StartDelimiter: cfg.Device.StartDelimiter,
		EndDelimiter:   cfg.Device.EndDelimiter,
		MaxFrameSize:   cfg.Device.MaxFrameSize,
	})
	manager := pipeline.NewManager(driver, builder)
	if err := manager.Start(ctx, &wg); err != nil {
		log.Fatalf("Failed to open device link: %v", err)
	}

	// The broadcast endpoint. A bind failure is reported and leaves the
	// endpoint inert; the rest of the station keeps running.
	broadcast := plugins.NewServer(cfg.Plugins, manager, notify.LogNotifier{})
	broadcast.Start()

	// Feed the endpoint from the pipeline and the broadcast clock.
	frameCh := make(chan frames.Frame, subscriberBuffer)
	rawCh := make(chan []byte, subscriberBuffer)
	manager.Frames().Subscribe("plugins", frameCh)
	manager.Raw().Subscribe("plugins", rawCh)

	tick := ticker.New(clockwork.NewRealClock(), time.Duration(cfg.Plugins.TickIntervalMS)*time.Millisecond)
	tickCh := make(chan time.Time, 1)
	tick.Bus().Subscribe("plugins", tickCh)
	tick.Start(ctx, &wg)

	broadcast.Pump(ctx, frameCh, rawCh, tickCh, &wg)

	// Optional frame archive.
	var archive *recorder.Recorder
	if cfg.Recorder.Enabled {
		archive, err = recorder.Open(cfg.Recorder)
		if err != nil {
			log.Fatalf("Failed to open frame recorder: %v", err)
		}
		defer archive.Close()

		recorderCh := make(chan frames.Frame, subscriberBuffer)
		manager.Frames().Subscribe("recorder", recorderCh)
		archive.Run(ctx, recorderCh, &wg)
		logger.Info("Frame recorder enabled", "driver", cfg.Recorder.Driver, "retention_days", cfg.Recorder.RetentionDays)
	}

	// Optional Redis relay.
	var frameRelay *relay.Relay
	if cfg.Relay.Enabled {
		frameRelay = relay.New(cfg.Relay)
		defer frameRelay.Close()

		relayFrames := make(chan frames.Frame, subscriberBuffer)
		relayRaw := make(chan []byte, subscriberBuffer)
		manager.Frames().Subscribe("relay", relayFrames)
		manager.Raw().Subscribe("relay", relayRaw)
		frameRelay.Run(ctx, relayFrames, relayRaw, &wg)
		logger.Info("Frame relay enabled", "address", cfg.Relay.Address,
			"frame_channel", frameRelay.FrameChannel(), "raw_channel", frameRelay.RawChannel())
	}

	// Optional control API.
	var control *api.Server
	if cfg.API.Enabled {
		control = api.NewServer(cfg, broadcast, manager)
		go func() {
			if err := control.Start(); err != nil {
				log.Fatalf("Control API error: %v", err)
			}
		}()
	}

	if cfg.Plugins.Enabled {
		broadcast.SetEnabled(true)
	}

	logger.Info("GroundStation running",
		"plugin_endpoint", broadcast.Addr(),
		"enabled", broadcast.Enabled(),
		"tick_interval_ms", cfg.Plugins.TickIntervalMS)
	logger.Info("Press Ctrl+C to shutdown")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down station")
	cancel()

	if control != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := control.Shutdown(shutdownCtx); err != nil {
			logger.Warning("Control API shutdown failed", "error", err)
		}
		shutdownCancel()
	}

	broadcast.Shutdown()
	manager.Close()
	wg.Wait()

	logger.Info("Station stopped")
}
