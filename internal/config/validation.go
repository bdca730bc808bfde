// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "github.com/ManuGH/crmrealtime/internal/validate"

// Validate validates an AppConfig using the centralized validation package.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.ListenAddr("server.listen", cfg.Server.Listen)
	v.PositiveDuration("server.shutdownTimeout", cfg.Server.ShutdownTimeout)
	if cfg.Metrics.Listen != "" {
		v.ListenAddr("metrics.listen", cfg.Metrics.Listen)
		v.Distinct("metrics.listen", cfg.Metrics.Listen, "server.listen", cfg.Server.Listen)
	}
	v.LogLevel("log.level", cfg.Log.Level)

	// Bus
	v.OneOf("bus.backend", cfg.Bus.Backend, []string{BackendMemory, BackendRedis})
	v.Positive("bus.replayWindow", cfg.Bus.ReplayWindow)
	v.Positive("bus.subscriberBuffer", cfg.Bus.SubscriberBuffer)
	if cfg.Bus.Backend == BackendRedis {
		v.NotEmpty("bus.redis.addr", cfg.Bus.Redis.Addr)
		v.NotEmpty("bus.redis.prefix", cfg.Bus.Redis.Prefix)
		v.Range("bus.redis.db", cfg.Bus.Redis.DB, 0, 15)
		v.PositiveDuration("bus.redis.opTimeout", cfg.Bus.Redis.OpTimeout)
		v.PositiveDuration("bus.redis.replayTTL", cfg.Bus.Redis.ReplayTTL)
		v.Positive("bus.redis.breakerThreshold", cfg.Bus.Redis.BreakerThreshold)
		v.PositiveDuration("bus.redis.breakerReset", cfg.Bus.Redis.BreakerReset)
	}

	// Gateway
	v.Positive("gateway.sendBuffer", cfg.Gateway.SendBuffer)
	v.OneOf("gateway.overflowPolicy", cfg.Gateway.OverflowPolicy, []string{OverflowDropOldest, OverflowDisconnect})
	v.PositiveDuration("gateway.pingInterval", cfg.Gateway.PingInterval)
	v.PositiveDuration("gateway.pongTimeout", cfg.Gateway.PongTimeout)
	v.PositiveDuration("gateway.writeTimeout", cfg.Gateway.WriteTimeout)
	v.PositiveDuration("gateway.dedupeWindow", cfg.Gateway.DedupeWindow)
	v.Positive("gateway.dedupeSize", cfg.Gateway.DedupeSize)
	v.Positive("gateway.maxPatterns", cfg.Gateway.MaxPatterns)
	v.Positive("gateway.rateBurst", cfg.Gateway.RateBurst)
	v.PositiveFloat("gateway.rateLimit", cfg.Gateway.RateLimit)
	v.PositiveSize("gateway.readLimit", cfg.Gateway.ReadLimit)

	// Long-poll
	v.PositiveDuration("longpoll.defaultTimeout", cfg.LongPoll.DefaultTimeout)
	v.PositiveDuration("longpoll.maxTimeout", cfg.LongPoll.MaxTimeout)
	v.AtLeast("longpoll.maxTimeout", cfg.LongPoll.MaxTimeout, "longpoll.defaultTimeout", cfg.LongPoll.DefaultTimeout)
	v.Positive("longpoll.maxBatch", cfg.LongPoll.MaxBatch)
	v.PositiveDuration("longpoll.linger", cfg.LongPoll.Linger)
	v.NonNegative("longpoll.rateLimit", cfg.LongPoll.RateLimit)

	// Auth
	v.OneOf("auth.mode", cfg.Auth.Mode, []string{AuthModeJWT, AuthModeStatic})
	switch cfg.Auth.Mode {
	case AuthModeJWT:
		hasSecret := cfg.Auth.JWT.Secret != ""
		hasKey := cfg.Auth.JWT.PublicKeyFile != ""
		switch {
		case !hasSecret && !hasKey:
			v.AddError("auth.jwt", "secret or publicKeyFile is required", "")
		case hasSecret && hasKey:
			v.AddError("auth.jwt", "secret and publicKeyFile are mutually exclusive", "")
		case hasKey:
			v.File("auth.jwt.publicKeyFile", cfg.Auth.JWT.PublicKeyFile)
		}
		v.NonNegativeDuration("auth.jwt.leeway", cfg.Auth.JWT.Leeway)
	case AuthModeStatic:
		v.File("auth.static.file", cfg.Auth.Static.File)
	}

	// Ingest
	if cfg.Ingest.Kafka.Enabled {
		v.NotEmptyList("ingest.kafka.brokers", cfg.Ingest.Kafka.Brokers)
		v.NotEmpty("ingest.kafka.topic", cfg.Ingest.Kafka.Topic)
		v.NotEmpty("ingest.kafka.groupID", cfg.Ingest.Kafka.GroupID)
	}

	// Telemetry
	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Fraction("telemetry.samplingRate", cfg.Telemetry.SamplingRate)
	}

	return v.Err()
}
