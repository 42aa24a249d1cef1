package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tapop105/internal/api"
	"tapop105/internal/config"
	"tapop105/internal/coordinator"
	"tapop105/internal/ha"
	"tapop105/internal/metrics"
	"tapop105/internal/mqtt"
	"tapop105/internal/platform"
	_ "tapop105/internal/platform/binarysensor"
	"tapop105/internal/platform/mqttdiscovery"
	_ "tapop105/internal/platform/plugswitch"
	_ "tapop105/internal/platform/sensor"
	"tapop105/internal/tapocli"

	"go.uber.org/zap"
)

const (
	setupRetryMin = 10 * time.Second
	setupRetryMax = 5 * time.Minute
)

// plug is one config entry brought up by serve.
type plug struct {
	entry  config.Entry
	client *tapocli.Client
	coord  *coordinator.Coordinator
	logger *zap.Logger

	mu        sync.Mutex
	platforms []platform.Platform
}

func (p *plug) setPlatforms(platforms []platform.Platform) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.platforms = platforms
}

func (p *plug) getPlatforms() []platform.Platform {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.Platform(nil), p.platforms...)
}

func serveCmd(settings config.Settings, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger.Info("Starting Tapo P105 bridge",
		zap.String("config_dir", settings.ConfigDir),
		zap.String("helper", settings.HelperPath),
		zap.Duration("poll_interval", settings.PollInterval),
		zap.Bool("read_only", settings.ReadOnly))
	if settings.ReadOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to plugs, Home Assistant or MQTT")
	}

	loader := config.NewLoader(settings.ConfigDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("Failed to load config entries", zap.Error(err))
		return 1
	}
	entries := loader.Entries()
	if len(entries) == 0 {
		logger.Warn("No plugs configured, run the setup command first", zap.String("path", loader.Path()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	runner := newRunner(settings.HelperPath)

	// Create HA client
	var haClient ha.HAClient
	if settings.HAEnabled() {
		client := ha.NewClient(settings.HAURL, settings.HAToken, logger)
		if err := client.Connect(ctx); err != nil {
			logger.Error("Failed to connect to Home Assistant", zap.Error(err))
			return 1
		}
		defer client.Disconnect()
		logger.Info("Connected to Home Assistant")
		haClient = client
	} else {
		logger.Info("HA_URL not set, Home Assistant helper mirroring disabled")
	}

	var publisher platform.Publisher
	var mqttClient *mqtt.Client
	if settings.MQTTEnabled() {
		client, err := mqtt.Connect(mqtt.Config{
			Broker:            settings.MQTTBroker,
			Username:          settings.MQTTUsername,
			Password:          settings.MQTTPassword,
			AvailabilityTopic: mqttdiscovery.BridgeAvailabilityTopic(),
		}, logger)
		if err != nil {
			logger.Error("Failed to connect to MQTT broker", zap.Error(err))
			return 1
		}
		defer client.Close()
		mqttClient = client
		publisher = client
	}

	plugs := make([]*plug, 0, len(entries))
	devices := make([]api.Device, 0, len(entries))
	for _, entry := range entries {
		p := newPlug(entry, settings, runner, m, logger)
		plugs = append(plugs, p)
		devices = append(devices, api.Device{
			ID:     entry.Slug(),
			Title:  entry.Title,
			Source: p.coord,
			Switch: p.client,
		})
	}

	var wg sync.WaitGroup
	for _, p := range plugs {
		wg.Add(1)
		go func(p *plug) {
			defer wg.Done()
			p.setup(ctx, settings, haClient, publisher)
		}(p)
	}

	resync := func(reason string) {
		for _, p := range plugs {
			if err := platform.ResyncAll(ctx, p.getPlatforms()); err != nil {
				p.logger.Warn("Resync failed", zap.String("reason", reason), zap.Error(err))
			}
		}
	}
	if haClient != nil {
		haClient.OnReconnect(func() { resync("home assistant reconnected") })
	}
	if mqttClient != nil {
		mqttClient.OnConnect(func() { resync("mqtt reconnected") })
	}

	server := api.NewServer(devices, m, logger, settings.HTTPPort, settings.ReadOnly)
	if err := server.Start(); err != nil {
		logger.Error("Failed to start HTTP API server", zap.Error(err))
		return 1
	}

	logger.Info("Application running. Press Ctrl+C to exit.", zap.Int("plugs", len(plugs)))

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop HTTP API server", zap.Error(err))
	}
	wg.Wait()
	for i := len(plugs) - 1; i >= 0; i-- {
		plugs[i].shutdown()
	}
	return 0
}

func newPlug(entry config.Entry, settings config.Settings, runner tapocli.Runner, m *metrics.Metrics, logger *zap.Logger) *plug {
	name := entry.Slug()
	observer := m.Device(name)

	client := tapocli.NewClient(entry.Credentials(), runner, logger, tapocli.Options{
		Timeout:  settings.HelperTimeout,
		Observer: observer,
	})
	coord := coordinator.New(name, client, logger, nil, settings.PollInterval)
	coord.SetObserver(observer)

	return &plug{
		entry:  entry,
		client: client,
		coord:  coord,
		logger: logger.With(zap.String("device", name)),
	}
}

// setup waits for the first successful poll, then creates and starts the
// entry's platforms. A plug that is unreachable at startup is retried with
// backoff until ctx ends.
func (p *plug) setup(ctx context.Context, settings config.Settings, haClient ha.HAClient, publisher platform.Publisher) {
	// Keeps the coordinator polling even when no platform listens.
	p.coord.Subscribe(p.logTransition())
	p.coord.Start()

	delay := setupRetryMin
	for {
		err := p.coord.FirstRefresh(ctx)
		if err == nil {
			break
		}
		p.logger.Warn("Plug not ready, retrying",
			zap.String("kind", tapocli.KindOf(err).String()),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > setupRetryMax {
			delay = setupRetryMax
		}
	}

	platforms, err := platform.CreateAll(&platform.Context{
		Entry:           p.entry,
		Coordinator:     p.coord,
		Device:          p.client,
		HAClient:        haClient,
		MQTT:            publisher,
		DiscoveryPrefix: settings.MQTTDiscoveryPrefix,
		Logger:          p.logger,
		ReadOnly:        settings.ReadOnly,
	})
	if err != nil {
		p.logger.Error("Failed to create platforms", zap.Error(err))
		return
	}
	if err := platform.StartAll(ctx, platforms); err != nil {
		p.logger.Error("Failed to start platforms", zap.Error(err))
		return
	}
	p.setPlatforms(platforms)

	names := make([]string, 0, len(platforms))
	for _, pl := range platforms {
		names = append(names, pl.Name())
	}
	p.logger.Info("Plug ready", zap.Strings("platforms", names))
}

func (p *plug) logTransition() coordinator.Listener {
	var last *bool
	return func(update coordinator.Update) {
		if update.Err != nil {
			return
		}
		on := update.Status.IsOn()
		if last != nil && *last != on {
			p.logger.Info("Plug switched", zap.Bool("device_on", on))
		}
		last = &on
	}
}

func (p *plug) shutdown() {
	platform.StopAll(p.getPlatforms())
	p.setPlatforms(nil)
	p.coord.Stop()
}
