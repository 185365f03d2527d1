package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type DB struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

func (d DB) Validate() error {
	switch d.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if d.DSN == "" {
			return errors.New("db.dsn is required for the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("db.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, d.Driver)
	}
}

type Auth struct {
	JWTSecret string `yaml:"jwtSecret"`
}

type AMQP struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type Tracing struct {
	Endpoint string `yaml:"endpoint"`
}

type Logging struct {
	Env       string `yaml:"env"`
	Service   string `yaml:"service"`
	Version   string `yaml:"version"`
	Backend   string `yaml:"backend"`
	AddSource bool   `yaml:"addSource"`
	Debug     bool   `yaml:"debug"`
}

// WS tunes the socket transport.
type WS struct {
	SendBuffer      int           `yaml:"sendBuffer"`
	PingInterval    time.Duration `yaml:"pingInterval"`
	MaxMessageBytes int64         `yaml:"maxMessageBytes"`
	EventsPerSecond float64       `yaml:"eventsPerSecond"`
	Burst           int           `yaml:"burst"`
}

type Config struct {
	HTTP        HTTP    `yaml:"http"`
	DB          DB      `yaml:"db"`
	Auth        Auth    `yaml:"auth"`
	AMQP        AMQP    `yaml:"amqp"`
	Tracing     Tracing `yaml:"tracing"`
	Logging     Logging `yaml:"logging"`
	WS          WS      `yaml:"ws"`
	DebugRoutes bool    `yaml:"debugRoutes"`
}

// Validate fills defaults and rejects missing required keys.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8083"
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.DB.Driver == "" {
		c.DB.Driver = DriverPostgres
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "im.events"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "im-service"
	}
	if c.WS.SendBuffer <= 0 {
		c.WS.SendBuffer = 64
	}
	if c.WS.PingInterval <= 0 {
		c.WS.PingInterval = 30 * time.Second
	}
	if c.WS.MaxMessageBytes <= 0 {
		c.WS.MaxMessageBytes = 64 << 10
	}
	if c.WS.EventsPerSecond <= 0 {
		c.WS.EventsPerSecond = 20
	}
	if c.WS.Burst <= 0 {
		c.WS.Burst = 40
	}

	if err := c.DB.Validate(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required")
	}
	return nil
}

// Load reads the optional YAML file named by CONFIG_PATH (default
// ./config.yaml), applies environment overrides and validates the result.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}

	cfg, err := LoadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || explicit {
			return nil, err
		}
		cfg = &Config{}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML config without validating it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		cfg.HTTP.Addr = ":" + v
	}
	if v, ok := lookup("HTTP_ADDR"); ok && v != "" {
		cfg.HTTP.Addr = v
	}
	setString(&cfg.DB.DSN, lookup, "DB_DSN")
	setString(&cfg.DB.Driver, lookup, "DB_DRIVER")
	setString(&cfg.Auth.JWTSecret, lookup, "JWT_SECRET")
	setString(&cfg.AMQP.URL, lookup, "AMQP_URL")
	setString(&cfg.AMQP.Exchange, lookup, "AMQP_EXCHANGE")
	setString(&cfg.Tracing.Endpoint, lookup, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Logging.Env, lookup, "LOG_ENV")
	setString(&cfg.Logging.Backend, lookup, "LOG_BACKEND")

	if err := setBool(&cfg.Logging.Debug, lookup, "LOG_DEBUG"); err != nil {
		return err
	}
	return setBool(&cfg.DebugRoutes, lookup, "DEBUG_ROUTES")
}

func setString(dst *string, lookup lookupFunc, key string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, lookup lookupFunc, key string) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
