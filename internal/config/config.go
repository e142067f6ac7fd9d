package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/appshare1603/VanLive/internal/domain"
)

type Config struct {
	// HTTP
	HTTPPort          string        `env:"HTTP_PORT" envDefault:"8001"`
	MaxBodyBytes      int64         `env:"MAX_BODY_BYTES" envDefault:"65536"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"20s"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`

	// Ring buffer + dispatch
	RingCapacity        int           `env:"RING_CAPACITY" envDefault:"500"`
	SubscriberQueueSize int           `env:"SUBSCRIBER_QUEUE_SIZE" envDefault:"64"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`

	// Alert thresholds (global defaults)
	GasPpmMax          float64 `env:"GAS_PPM_MAX" envDefault:"350"`
	StarterBatteryMinV float64 `env:"STARTER_BATTERY_MIN_V" envDefault:"11.8"`
	LevelToleranceDeg  float64 `env:"LEVEL_TOLERANCE_DEG" envDefault:"1.5"`
	ThresholdsFile     string  `env:"THRESHOLDS_FILE"`

	// Postgres (vehicle_thresholds)
	ThresholdsDBEnabled      bool          `env:"THRESHOLDS_DB_ENABLED" envDefault:"false"`
	ThresholdRefreshInterval time.Duration `env:"THRESHOLD_REFRESH_INTERVAL" envDefault:"60s"`
	DBHost                   string        `env:"DB_HOST" envDefault:"localhost"`
	DBPort                   string        `env:"DB_PORT" envDefault:"5432"`
	DBUser                   string        `env:"DB_USER" envDefault:"vanlive"`
	DBPassword               string        `env:"DB_PASSWORD" envDefault:"vanlive"`
	DBName                   string        `env:"DB_NAME" envDefault:"vanlive"`
	DBSSLMode                string        `env:"DB_SSLMODE" envDefault:"disable"`
	DBMaxConns               int           `env:"DB_MAX_CONNS" envDefault:"4"`

	// Redis
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Auth + rate limiting
	AuthEnabled         bool     `env:"AUTH_ENABLED" envDefault:"false"`
	AuthCacheTTLSeconds int      `env:"AUTH_CACHE_TTL_SECONDS" envDefault:"300"`
	ValidAPIKeys        []string `env:"VALID_API_KEYS" envSeparator:","`
	RateLimitPerMinute  int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`

	// MQTT ingestion
	MQTTEnabled     bool          `env:"MQTT_ENABLED" envDefault:"false"`
	MQTTBroker      string        `env:"MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	MQTTClientID    string        `env:"MQTT_CLIENT_ID" envDefault:"vanlive-ingestion"`
	MQTTUsername    string        `env:"MQTT_USERNAME"`
	MQTTPassword    string        `env:"MQTT_PASSWORD"`
	MQTTTopic       string        `env:"MQTT_TOPIC" envDefault:"vanlive/+/telemetry"`
	MQTTQoS         byte          `env:"MQTT_QOS" envDefault:"1"`
	MQTTTimeout     time.Duration `env:"MQTT_TIMEOUT" envDefault:"10s"`
	MQTTChannelSize int           `env:"MQTT_CHANNEL_SIZE" envDefault:"1024"` // per worker
	MQTTWorkers     int           `env:"MQTT_WORKERS" envDefault:"2"`

	// Weather collaborator
	WeatherEnabled         bool          `env:"WEATHER_ENABLED" envDefault:"false"`
	WeatherBaseURL         string        `env:"WEATHER_BASE_URL" envDefault:"https://api.open-meteo.com/v1/forecast"`
	WeatherLatitude        float64       `env:"WEATHER_LATITUDE" envDefault:"47.37"`
	WeatherLongitude       float64       `env:"WEATHER_LONGITUDE" envDefault:"8.54"`
	WeatherRefreshInterval time.Duration `env:"WEATHER_REFRESH_INTERVAL" envDefault:"10m"`
	WeatherMaxAge          time.Duration `env:"WEATHER_MAX_AGE" envDefault:"30m"`
	WeatherTimeout         time.Duration `env:"WEATHER_TIMEOUT" envDefault:"5s"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.ValidAPIKeys = compactKeys(cfg.ValidAPIKeys)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.RingCapacity <= 0 {
		errs = append(errs, fmt.Errorf("RING_CAPACITY must be positive, got %d", c.RingCapacity))
	}
	if c.SubscriberQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("SUBSCRIBER_QUEUE_SIZE must be positive, got %d", c.SubscriberQueueSize))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("WRITE_TIMEOUT must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.AuthEnabled && len(c.ValidAPIKeys) == 0 && !c.RedisEnabled {
		errs = append(errs, errors.New("AUTH_ENABLED requires VALID_API_KEYS or REDIS_ENABLED"))
	}
	if c.MQTTEnabled {
		if c.MQTTQoS > 2 {
			errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTTQoS))
		}
		if c.MQTTWorkers <= 0 || c.MQTTChannelSize <= 0 {
			errs = append(errs, errors.New("MQTT_WORKERS and MQTT_CHANNEL_SIZE must be positive"))
		}
	}
	if c.WeatherEnabled && (c.WeatherRefreshInterval <= 0 || c.WeatherMaxAge <= 0) {
		errs = append(errs, errors.New("WEATHER_REFRESH_INTERVAL and WEATHER_MAX_AGE must be positive"))
	}
	if c.ThresholdsDBEnabled && c.ThresholdRefreshInterval <= 0 {
		errs = append(errs, errors.New("THRESHOLD_REFRESH_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// Thresholds returns the global defaults configured through the environment.
func (c *Config) Thresholds() domain.Thresholds {
	return domain.Thresholds{
		GasPpmMax:          c.GasPpmMax,
		StarterBatteryMinV: c.StarterBatteryMinV,
		LevelToleranceDeg:  c.LevelToleranceDeg,
	}
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func compactKeys(keys []string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
