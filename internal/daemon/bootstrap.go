// SPDX-License-Identifier: MIT

// Package daemon assembles the realtime service from its configuration and
// owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/crmrealtime/internal/api"
	"github.com/ManuGH/crmrealtime/internal/auth"
	"github.com/ManuGH/crmrealtime/internal/config"
	"github.com/ManuGH/crmrealtime/internal/health"
	"github.com/ManuGH/crmrealtime/internal/log"
	"github.com/ManuGH/crmrealtime/internal/realtime/bus"
	"github.com/ManuGH/crmrealtime/internal/realtime/gateway"
	"github.com/ManuGH/crmrealtime/internal/realtime/longpoll"
	"github.com/ManuGH/crmrealtime/internal/realtime/publish"
	"github.com/ManuGH/crmrealtime/internal/telemetry"
)

// Runtime is the assembled service.
type Runtime struct {
	Bus      bus.Bus
	Gateway  *gateway.Gateway
	LongPoll *longpoll.Handler
	Health   *health.Manager
	Manager  Manager
	App      *App
}

// Bootstrap wires every component described by cfg. On error, anything
// already opened is released.
func Bootstrap(ctx context.Context, cfg config.AppConfig) (rt *Runtime, err error) {
	logger := log.WithComponent("daemon")

	var cleanup []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			_ = cleanup[i](context.WithoutCancel(ctx))
		}
	}()

	provider := initTelemetry(ctx, cfg, logger)
	cleanup = append(cleanup, provider.Shutdown)

	b, err := bus.Open(ctx, busConfig(cfg.Bus))
	if err != nil {
		return nil, fmt.Errorf("open event bus: %w", err)
	}
	cleanup = append(cleanup, func(context.Context) error { return b.Close() })

	validator, watchTokens, err := newValidator(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	gw := gateway.New(b, validator, gatewayConfig(cfg.Gateway))
	lp := longpoll.New(b, validator, longPollConfig(cfg.LongPoll))

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewBusChecker(b))
	switch cfg.Auth.Mode {
	case config.AuthModeStatic:
		hm.RegisterChecker(health.NewFileChecker("auth_tokens", cfg.Auth.Static.File))
	case config.AuthModeJWT:
		if cfg.Auth.JWT.PublicKeyFile != "" {
			hm.RegisterChecker(health.NewFileChecker("jwt_public_key", cfg.Auth.JWT.PublicKeyFile))
		}
	}

	apiCfg := api.Config{
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		PollRateLimit:  cfg.LongPoll.RateLimit,
		MountMetrics:   cfg.Metrics.Listen == "",
	}
	if cfg.Telemetry.Enabled {
		apiCfg.TracingService = cfg.Log.Service
	}
	srv := api.New(apiCfg, api.Deps{
		Bus:      b,
		Backend:  cfg.Bus.Backend,
		Gateway:  gw,
		LongPoll: lp,
		Health:   hm,
	})

	deps := Deps{
		Logger:     logger,
		APIHandler: srv.Handler(),
	}
	if cfg.Metrics.Listen != "" {
		deps.MetricsHandler = api.MetricsHandler()
		deps.MetricsAddr = cfg.Metrics.Listen
	}
	mgr, err := NewManager(cfg.Server, deps)
	if err != nil {
		return nil, err
	}

	mgr.RegisterDrainHook("longpoll", func(context.Context) error {
		lp.Drain()
		return nil
	})
	mgr.RegisterDrainHook("gateway", gw.Shutdown)
	mgr.RegisterShutdownHook("telemetry", provider.Shutdown)
	mgr.RegisterShutdownHook("event_bus", func(context.Context) error {
		if err := b.Close(); err != nil && !errors.Is(err, bus.ErrClosed) {
			return err
		}
		return nil
	})

	var workers []Worker
	if watchTokens != nil {
		// Best-effort: a failed watcher leaves the loaded tokens in place.
		workers = append(workers, Worker{Name: "auth_token_watcher", Run: func(ctx context.Context) error {
			if err := watchTokens(ctx); err != nil {
				logger.Warn().Err(err).Str(log.FieldEvent, "auth.watcher_start_failed").Msg("failed to watch token file")
			}
			return nil
		}})
	}
	if cfg.Ingest.Kafka.Enabled {
		reader, err := publish.NewKafkaReader(publish.KafkaConfig{
			Brokers: cfg.Ingest.Kafka.Brokers,
			Topic:   cfg.Ingest.Kafka.Topic,
			GroupID: cfg.Ingest.Kafka.GroupID,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka ingest: %w", err)
		}
		bridge := publish.NewKafkaBridge(reader, b).WithDefaultRegion(cfg.Bus.DefaultRegion)
		workers = append(workers, Worker{Name: "kafka_ingest", Run: bridge.Run})
	}

	logger.Info().
		Str("backend", cfg.Bus.Backend).
		Str("auth_mode", cfg.Auth.Mode).
		Bool("kafka_ingest", cfg.Ingest.Kafka.Enabled).
		Bool("tracing", cfg.Telemetry.Enabled).
		Msg("realtime service assembled")

	return &Runtime{
		Bus:      b,
		Gateway:  gw,
		LongPoll: lp,
		Health:   hm,
		Manager:  mgr,
		App:      NewApp(logger, mgr, workers...),
	}, nil
}

// initTelemetry never fails the boot: an unreachable collector only loses spans.
func initTelemetry(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) *telemetry.Provider {
	telCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	}
	provider, err := telemetry.NewProvider(ctx, telCfg)
	if err != nil {
		logger.Warn().Err(err).Msg("Telemetry initialization failed, continuing without tracing")
		provider, _ = telemetry.NewProvider(ctx, telemetry.Config{})
		return provider
	}
	if telCfg.Enabled {
		logger.Info().
			Str("service", telCfg.ServiceName).
			Str("endpoint", telCfg.Endpoint).
			Float64("sampling_rate", telCfg.SamplingRate).
			Msg("Telemetry initialized")
	}
	return provider
}

// newValidator returns the configured token validator and, for a watched
// static token file, the function that keeps it current.
func newValidator(cfg config.AuthConfig) (auth.Validator, func(context.Context) error, error) {
	switch cfg.Mode {
	case config.AuthModeStatic:
		v, err := auth.NewStaticValidator(cfg.Static.File)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Static.Watch {
			return v, v.Watch, nil
		}
		return v, nil, nil
	case config.AuthModeJWT:
		jwtCfg := auth.JWTConfig{
			Secret: cfg.JWT.Secret,
			Issuer: cfg.JWT.Issuer,
			Leeway: cfg.JWT.Leeway,
		}
		if cfg.JWT.PublicKeyFile != "" {
			v, err := auth.NewJWTValidatorFromFile(cfg.JWT.PublicKeyFile, jwtCfg)
			return v, nil, err
		}
		v, err := auth.NewJWTValidator(jwtCfg)
		return v, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

func busConfig(c config.BusConfig) bus.Config {
	return bus.Config{
		Backend:          c.Backend,
		ReplayWindow:     c.ReplayWindow,
		SubscriberBuffer: c.SubscriberBuffer,
		Redis: bus.RedisConfig{
			Addr:             c.Redis.Addr,
			Password:         c.Redis.Password,
			DB:               c.Redis.DB,
			Prefix:           c.Redis.Prefix,
			OpTimeout:        c.Redis.OpTimeout,
			ReplayTTL:        c.Redis.ReplayTTL,
			BreakerThreshold: c.Redis.BreakerThreshold,
			BreakerReset:     c.Redis.BreakerReset,
		},
	}
}

func gatewayConfig(c config.GatewayConfig) gateway.Config {
	return gateway.Config{
		SendBuffer:     c.SendBuffer,
		OverflowPolicy: c.OverflowPolicy,
		PingInterval:   c.PingInterval,
		PongTimeout:    c.PongTimeout,
		WriteTimeout:   c.WriteTimeout,
		DedupeWindow:   c.DedupeWindow,
		DedupeSize:     c.DedupeSize,
		MaxPatterns:    c.MaxPatterns,
		RateLimit:      c.RateLimit,
		RateBurst:      c.RateBurst,
		ReadLimit:      c.ReadLimit,
		AllowedOrigins: c.AllowedOrigins,
	}
}

func longPollConfig(c config.LongPollConfig) longpoll.Config {
	return longpoll.Config{
		DefaultTimeout: c.DefaultTimeout,
		MaxTimeout:     c.MaxTimeout,
		Linger:         c.Linger,
		MaxBatch:       c.MaxBatch,
	}
}
