package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	libconfig "parkgate/backend/libs/config"
	"parkgate/backend/services/gate-service/internal/clients"
	"parkgate/backend/services/gate-service/internal/fee"
)

// Config defines gate service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"GATE_HTTP_PORT"`
	} `yaml:"http"`
	JWT struct {
		Secret string `yaml:"secret" env:"GATE_JWT_SECRET"`
	} `yaml:"jwt"`
	Backend struct {
		URL            string              `yaml:"url" env:"GATE_BACKEND_URL"`
		TimeoutSeconds int                 `yaml:"timeoutSeconds" env:"GATE_BACKEND_TIMEOUT"`
		TokenLeeway    time.Duration       `yaml:"tokenLeeway" env:"GATE_BACKEND_TOKEN_LEEWAY"`
		Credentials    clients.Credentials `yaml:"credentials"`
		Retry          clients.RetryPolicy `yaml:"retry"`
	} `yaml:"backend"`
	Database struct {
		// DSN is optional; without it payments are kept in memory.
		DSN          string `yaml:"dsn" env:"GATE_POSTGRES_DSN"`
		MaxOpenConns int    `yaml:"maxOpenConns" env:"GATE_POSTGRES_MAX_OPEN_CONNS"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"GATE_REDIS_ADDR"`
		Password string `yaml:"password" env:"GATE_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"GATE_REDIS_DB"`
		TTL      int    `yaml:"ttlSeconds" env:"GATE_REDIS_TTL"`
	} `yaml:"redis"`
	Tariff fee.Policy `yaml:"tariff"`
	Lifecycle struct {
		ReservationHold time.Duration `yaml:"reservationHold" env:"GATE_RESERVATION_HOLD"`
		ExpiryInterval  time.Duration `yaml:"expiryInterval" env:"GATE_EXPIRY_INTERVAL"`
	} `yaml:"lifecycle"`
	Scanner struct {
		// DeviceKeyHash is the bcrypt hash of the key gate cameras present.
		DeviceKeyHash string        `yaml:"deviceKeyHash" env:"GATE_SCANNER_DEVICE_KEY_HASH"`
		Debounce      time.Duration `yaml:"debounce" env:"GATE_SCANNER_DEBOUNCE"`
		WriteTimeout  time.Duration `yaml:"writeTimeout" env:"GATE_SCANNER_WRITE_TIMEOUT"`
	} `yaml:"scanner"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration before file and environment overrides.
func Default() *Config {
	cfg := &Config{Tariff: fee.DefaultPolicy()}
	cfg.HTTP.Port = "8085"
	cfg.Backend.TimeoutSeconds = 10
	cfg.Backend.TokenLeeway = 30 * time.Second
	cfg.Backend.Retry = clients.RetryPolicy{
		MaxTries:        3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
	cfg.Redis.TTL = 86400
	cfg.Lifecycle.ReservationHold = 2 * time.Hour
	cfg.Lifecycle.ExpiryInterval = time.Minute
	cfg.Scanner.Debounce = 3 * time.Second
	cfg.Scanner.WriteTimeout = 5 * time.Second
	return cfg
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt secret required")
	}
	if strings.TrimSpace(c.Backend.URL) == "" {
		return errors.New("config: backend url required")
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: backend url %q is not absolute", c.Backend.URL)
	}
	if err := c.Tariff.Validate(); err != nil {
		return fmt.Errorf("config: tariff: %w", err)
	}
	if c.Lifecycle.ExpiryInterval < 0 || c.Lifecycle.ReservationHold < 0 {
		return errors.New("config: lifecycle durations must be non-negative")
	}
	if c.Scanner.Debounce < 0 {
		return errors.New("config: scanner debounce must be non-negative")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// BackendTimeout returns http client timeout.
func (c *Config) BackendTimeout() time.Duration {
	if c.Backend.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// BookingTTL returns how long a recoverable booking is cached.
func (c *Config) BookingTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Redis.TTL) * time.Second
}

// HasCredentials reports whether the backend requires a bearer token.
func (c *Config) HasCredentials() bool {
	creds := c.Backend.Credentials
	return creds.RefreshToken != "" || (creds.Username != "" && creds.Password != "")
}
