// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Bus backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Gateway overflow policies.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"
)

// Auth modes.
const (
	AuthModeJWT    = "jwt"
	AuthModeStatic = "static"
)

// AppConfig is the complete service configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Bus       BusConfig       `yaml:"bus"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	LongPoll  LongPollConfig  `yaml:"longpoll"`
	Auth      AuthConfig      `yaml:"auth"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
}

// MetricsConfig: an empty Listen mounts /metrics on the API listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

type BusConfig struct {
	Backend          string      `yaml:"backend"`
	ReplayWindow     int         `yaml:"replayWindow"`
	SubscriberBuffer int         `yaml:"subscriberBuffer"`
	DefaultRegion    string      `yaml:"defaultRegion"`
	Redis            RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr             string        `yaml:"addr"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	Prefix           string        `yaml:"prefix"`
	OpTimeout        time.Duration `yaml:"opTimeout"`
	ReplayTTL        time.Duration `yaml:"replayTTL"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

type GatewayConfig struct {
	SendBuffer     int           `yaml:"sendBuffer"`
	OverflowPolicy string        `yaml:"overflowPolicy"`
	PingInterval   time.Duration `yaml:"pingInterval"`
	PongTimeout    time.Duration `yaml:"pongTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	DedupeWindow   time.Duration `yaml:"dedupeWindow"`
	DedupeSize     int           `yaml:"dedupeSize"`
	MaxPatterns    int           `yaml:"maxPatterns"`
	RateLimit      float64       `yaml:"rateLimit"`
	RateBurst      int           `yaml:"rateBurst"`
	ReadLimit      int64         `yaml:"readLimit"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

type LongPollConfig struct {
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`
	MaxTimeout     time.Duration `yaml:"maxTimeout"`
	MaxBatch       int           `yaml:"maxBatch"`
	Linger         time.Duration `yaml:"linger"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

type AuthConfig struct {
	Mode   string           `yaml:"mode"`
	JWT    JWTConfig        `yaml:"jwt"`
	Static StaticAuthConfig `yaml:"static"`
}

type JWTConfig struct {
	Secret        string        `yaml:"secret"`
	PublicKeyFile string        `yaml:"publicKeyFile"`
	Issuer        string        `yaml:"issuer"`
	Leeway        time.Duration `yaml:"leeway"`
}

type StaticAuthConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

type IngestConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupID"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Listen:          ":8090",
			ShutdownTimeout: 15 * time.Second,
			ReadTimeout:     10 * time.Second,
			IdleTimeout:     120 * time.Second,
		},
		Log: LogConfig{Level: "info", Service: "crmrealtime"},
		Bus: BusConfig{
			Backend:          BackendMemory,
			ReplayWindow:     1024,
			SubscriberBuffer: 256,
			Redis: RedisConfig{
				Addr:             "localhost:6379",
				Prefix:           "crmrt",
				OpTimeout:        3 * time.Second,
				ReplayTTL:        10 * time.Minute,
				BreakerThreshold: 5,
				BreakerReset:     30 * time.Second,
			},
		},
		Gateway: GatewayConfig{
			SendBuffer:     256,
			OverflowPolicy: OverflowDropOldest,
			PingInterval:   25 * time.Second,
			PongTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			DedupeWindow:   60 * time.Second,
			DedupeSize:     1024,
			MaxPatterns:    100,
			RateLimit:      20,
			RateBurst:      40,
			ReadLimit:      64 << 10,
		},
		LongPoll: LongPollConfig{
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     60 * time.Second,
			MaxBatch:       100,
			Linger:         50 * time.Millisecond,
			RateLimit:      120,
		},
		Auth: AuthConfig{
			Mode: AuthModeJWT,
			JWT:  JWTConfig{Leeway: 30 * time.Second},
		},
		Ingest: IngestConfig{
			Kafka: KafkaConfig{Topic: "crm.events", GroupID: "crmrealtime"},
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Insecure:     true,
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}
