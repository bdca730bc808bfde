// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// mergeEnvConfig overlays environment variables on cfg. Every value read
// defaults to what the file or the built-in defaults already set.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	// Server
	cfg.Server.Listen = l.envString("CRMRT_LISTEN", cfg.Server.Listen)
	cfg.Server.ShutdownTimeout = l.envDuration("CRMRT_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Metrics.Listen = l.envString("CRMRT_METRICS_LISTEN", cfg.Metrics.Listen)
	cfg.Log.Level = l.envString("CRMRT_LOG_LEVEL", cfg.Log.Level)

	// Bus
	cfg.Bus.Backend = l.envString("CRMRT_BUS_BACKEND", cfg.Bus.Backend)
	cfg.Bus.ReplayWindow = l.envInt("CRMRT_BUS_REPLAY_WINDOW", cfg.Bus.ReplayWindow)
	cfg.Bus.SubscriberBuffer = l.envInt("CRMRT_BUS_SUBSCRIBER_BUFFER", cfg.Bus.SubscriberBuffer)
	cfg.Bus.DefaultRegion = l.envString("CRMRT_DEFAULT_REGION", cfg.Bus.DefaultRegion)
	cfg.Bus.Redis.Addr = l.envString("CRMRT_REDIS_ADDR", cfg.Bus.Redis.Addr)
	cfg.Bus.Redis.Password = l.envString("CRMRT_REDIS_PASSWORD", cfg.Bus.Redis.Password)
	cfg.Bus.Redis.DB = l.envInt("CRMRT_REDIS_DB", cfg.Bus.Redis.DB)
	cfg.Bus.Redis.Prefix = l.envString("CRMRT_REDIS_PREFIX", cfg.Bus.Redis.Prefix)

	// Gateway
	cfg.Gateway.SendBuffer = l.envInt("CRMRT_WS_SEND_BUFFER", cfg.Gateway.SendBuffer)
	cfg.Gateway.OverflowPolicy = l.envString("CRMRT_WS_OVERFLOW_POLICY", cfg.Gateway.OverflowPolicy)
	cfg.Gateway.PingInterval = l.envDuration("CRMRT_WS_PING_INTERVAL", cfg.Gateway.PingInterval)
	cfg.Gateway.PongTimeout = l.envDuration("CRMRT_WS_PONG_TIMEOUT", cfg.Gateway.PongTimeout)
	cfg.Gateway.DedupeWindow = l.envDuration("CRMRT_DEDUPE_WINDOW", cfg.Gateway.DedupeWindow)
	cfg.Gateway.DedupeSize = l.envInt("CRMRT_DEDUPE_SIZE", cfg.Gateway.DedupeSize)
	cfg.Gateway.AllowedOrigins = l.envList("CRMRT_WS_ALLOWED_ORIGINS", cfg.Gateway.AllowedOrigins)

	// Long-poll
	cfg.LongPoll.DefaultTimeout = l.envDuration("CRMRT_POLL_DEFAULT_TIMEOUT", cfg.LongPoll.DefaultTimeout)
	cfg.LongPoll.MaxTimeout = l.envDuration("CRMRT_POLL_MAX_TIMEOUT", cfg.LongPoll.MaxTimeout)
	cfg.LongPoll.RateLimit = l.envInt("CRMRT_POLL_RATE_LIMIT", cfg.LongPoll.RateLimit)

	// Auth
	cfg.Auth.Mode = l.envString("CRMRT_AUTH_MODE", cfg.Auth.Mode)
	cfg.Auth.JWT.Secret = l.envString("CRMRT_JWT_SECRET", cfg.Auth.JWT.Secret)
	cfg.Auth.JWT.PublicKeyFile = l.envString("CRMRT_JWT_PUBLIC_KEY_FILE", cfg.Auth.JWT.PublicKeyFile)
	cfg.Auth.JWT.Issuer = l.envString("CRMRT_JWT_ISSUER", cfg.Auth.JWT.Issuer)
	cfg.Auth.Static.File = l.envString("CRMRT_AUTH_TOKENS_FILE", cfg.Auth.Static.File)
	cfg.Auth.Static.Watch = l.envBool("CRMRT_AUTH_TOKENS_WATCH", cfg.Auth.Static.Watch)

	// Ingest
	cfg.Ingest.Kafka.Enabled = l.envBool("CRMRT_KAFKA_ENABLED", cfg.Ingest.Kafka.Enabled)
	cfg.Ingest.Kafka.Brokers = l.envList("CRMRT_KAFKA_BROKERS", cfg.Ingest.Kafka.Brokers)
	cfg.Ingest.Kafka.Topic = l.envString("CRMRT_KAFKA_TOPIC", cfg.Ingest.Kafka.Topic)
	cfg.Ingest.Kafka.GroupID = l.envString("CRMRT_KAFKA_GROUP_ID", cfg.Ingest.Kafka.GroupID)

	// Telemetry
	cfg.Telemetry.Enabled = l.envBool("CRMRT_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("CRMRT_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("CRMRT_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("CRMRT_OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}
