// Package app wires configuration, storage, transports and the engine into
// a running server process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/config"
	"github.com/BrandonDHaskell/Vesta/server/internal/grpcapi"
	"github.com/BrandonDHaskell/Vesta/server/internal/httpapi"
	"github.com/BrandonDHaskell/Vesta/server/internal/influx"
	"github.com/BrandonDHaskell/Vesta/server/internal/logger"
	"github.com/BrandonDHaskell/Vesta/server/internal/mqtt"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/rules"
	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/service"
)

const (
	shutdownTimeout = 5 * time.Second
	healthInterval  = 10 * time.Second
)

// Options are command-line overrides on top of the config file.
type Options struct {
	ConfigPath string
	HTTPAddr   string
}

// Run starts the server and blocks until ctx is cancelled or a listener
// fails.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.HTTPAddr != "" {
		cfg.HTTP.Addr = opts.HTTPAddr
	}

	logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer logger.Sync()

	ctx = logger.WithName(ctx, "vesta-server")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.close()

	dd, err := openDedupe(ctx, cfg, logger.Logger())
	if err != nil {
		return fmt.Errorf("open dedupe store: %w", err)
	}
	defer dd.close()

	health := grpcapi.NewHealthServer()
	if st.ping != nil {
		health.AddCheck("storage", st.ping)
	}
	if dd.ping != nil {
		health.AddCheck("dedupe", dd.ping)
	}

	registry := service.NewDeviceRegistry(st.states, st.devices, st.recipients, service.RegistryConfig{
		Strict: cfg.Ingest.Strict,
	})

	var (
		notifier service.Notifier = logNotifier{}
		actuator service.Actuator
		client   *mqtt.Client
		qos      = byte(cfg.MQTT.QoS)
	)
	if cfg.MQTT.Enabled {
		client, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connect mqtt: %w", err)
		}
		defer func() { _ = client.Close() }()

		notifier = mqtt.NewNotifier(client, client.Topics(), qos)
		actuator = mqtt.NewFanActuator(client, client.Topics(), qos)
		health.AddCheck("mqtt", client.HealthCheck)
	}

	dispatcher := service.NewDispatcher(service.DispatchConfig{
		DedupeWindow:    cfg.Alert.DedupeWindow,
		LockedOutWindow: cfg.Alert.LockedOutWindow,
		FanWindow:       cfg.Alert.FanWindow,
		MaxAttempts:     cfg.Alert.RetryAttempts,
		Backoff:         cfg.Alert.RetryBackoff,
		MaxBackoff:      cfg.Alert.RetryMaxBackoff,
		Workers:         cfg.Alert.Workers,
		QueueSize:       cfg.Alert.QueueSize,
	}, dd.store, registry, notifier)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if dd.pruner != nil {
		dd.pruner.Start(ctx)
		defer dd.pruner.Stop()
	}

	deps := service.EngineDeps{
		Registry: registry,
		States:   st.states,
		Audit:    service.NewAuditLog(st.doorLog),
		Alerts:   dispatcher,
		Actuator: actuator,
	}

	recorder, err := influx.Connect(ctx, cfg.Influx)
	switch {
	case err == nil:
		defer recorder.Close()
		deps.Recorder = recorder
	case errors.Is(err, influx.ErrDisabled):
	default:
		// Telemetry is optional; the engine runs without it.
		logger.WarnKV(ctx, "influxdb unavailable, gas telemetry disabled", "error", err)
	}

	engine := service.NewEngine(service.EngineConfig{
		Lock: rules.LockPolicy{
			Threshold:       cfg.Lock.FailedAttemptThreshold,
			LockoutDuration: cfg.Lock.LockoutDuration,
		},
		Gas:           rules.GasPolicy{Low: cfg.Gas.TLow, High: cfg.Gas.THigh},
		SkewTolerance: cfg.Ingest.SkewTolerance,
	}, deps)

	if client != nil {
		reports := mqtt.NewReportSubscriber(ctx, client, engine, client.Topics(), qos)
		if err := reports.Start(); err != nil {
			return fmt.Errorf("subscribe reports: %w", err)
		}
	}

	srv := httpapi.NewServer(httpapi.Dependencies{Addr: cfg.HTTP.Addr, Engine: engine})

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) {
		errOnce.Do(func() { runErr = err })
		cancel()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.InfoKV(ctx, "http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail(fmt.Errorf("http server: %w", err))
		}
	}()

	if cfg.GRPC.Addr != "" {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := health.Listen(ctx, cfg.GRPC.Addr); err != nil {
				fail(err)
			}
		}()
		go func() {
			defer wg.Done()
			health.Monitor(ctx, healthInterval)
		}()
	}

	logger.InfoKV(ctx, "vesta server started",
		"env", cfg.Env,
		"database", cfg.Database.Backend,
		"dedupe", cfg.Alert.DedupeBackend,
		"mqtt", cfg.MQTT.Enabled,
		"influxdb", deps.Recorder != nil,
	)

	<-ctx.Done()
	logger.InfoKV(ctx, "shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WarnKV(ctx, "http shutdown", "error", err)
	}

	wg.Wait()
	logger.InfoKV(ctx, "vesta server stopped", "alerts", dispatcher.Stats())

	return runErr
}
