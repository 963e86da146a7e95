package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/generation-mix-ingest/internal/mix/sources"
	"github.com/i474232898/generation-mix-ingest/internal/store"
)

const configPathEnv = "CONFIG_FILE"

type AppConfig struct {
	Port     string `yaml:"port" validate:"required,numeric"`
	LogLevel string `yaml:"logLevel"`

	Store  StoreConfig  `yaml:"store"`
	NESO   NESOConfig   `yaml:"neso"`
	Ingest IngestConfig `yaml:"ingest"`
	Redis  RedisConfig  `yaml:"redis"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver" validate:"oneof=sqlite postgres memory"`
	SQLitePath string `yaml:"sqlitePath" validate:"required_if=Driver sqlite"`
	DSN        string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

type NESOConfig struct {
	BaseURL     string        `yaml:"baseURL" validate:"required,url"`
	ResourceID  string        `yaml:"resourceID" validate:"required"`
	HTTPTimeout time.Duration `yaml:"httpTimeout" validate:"gt=0"`
	MaxRetries  int           `yaml:"maxRetries" validate:"gte=0,lte=10"`
}

type IngestConfig struct {
	// BackfillWindow is how far back the first run on an empty store reaches.
	BackfillWindow time.Duration `yaml:"backfillWindow" validate:"gt=0"`

	// Validation bounds; 0 = unbounded.
	MaxFuelMW          float64 `yaml:"maxFuelMW" validate:"gte=0"`
	MaxCarbonIntensity float64 `yaml:"maxCarbonIntensity" validate:"gte=0"`

	// Schedule (cron expression) wins over Interval when both are set.
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	Schedule string        `yaml:"schedule"`

	RunTimeout time.Duration `yaml:"runTimeout" validate:"gt=0"`
	RunHistory int           `yaml:"runHistory" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	CacheTTL time.Duration `yaml:"cacheTTL" validate:"gte=0"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientID"`
	Topic    string `yaml:"topic" validate:"required_with=Broker"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *AppConfig {
	return &AppConfig{
		Port:     "8080",
		LogLevel: "info",
		Store: StoreConfig{
			Driver:     store.DriverSQLite,
			SQLitePath: "data/generation.db",
		},
		NESO: NESOConfig{
			BaseURL:     sources.DefaultNESOBaseURL,
			ResourceID:  sources.DefaultNESOResourceID,
			HTTPTimeout: 60 * time.Second,
			MaxRetries:  2,
		},
		Ingest: IngestConfig{
			BackfillWindow: 30 * 24 * time.Hour,
			Interval:       30 * time.Minute,
			RunTimeout:     2 * time.Minute,
			RunHistory:     50,
		},
		Redis: RedisConfig{
			CacheTTL: 5 * time.Minute,
		},
		MQTT: MQTTConfig{
			ClientID: "genmix-ingest",
			Topic:    "genmix/ingest/runs",
		},
	}
}

// Load reads configuration from defaults, an optional YAML file named by CONFIG_FILE,
// and the environment, in increasing order of precedence.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := Defaults()

	if path := os.Getenv(configPathEnv); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	cfg.Port = getenvDefault("PORT", cfg.Port)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)

	cfg.Store.Driver = getenvDefault("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.SQLitePath = getenvDefault("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.DSN = getenvDefault("DATABASE_DSN", cfg.Store.DSN)

	cfg.NESO.BaseURL = getenvDefault("NESO_BASE_URL", cfg.NESO.BaseURL)
	cfg.NESO.ResourceID = getenvDefault("NESO_RESOURCE_ID", cfg.NESO.ResourceID)

	cfg.Ingest.Schedule = getenvDefault("INGEST_SCHEDULE", cfg.Ingest.Schedule)

	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.MQTT.Broker = getenvDefault("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Topic = getenvDefault("MQTT_TOPIC", cfg.MQTT.Topic)

	ints := []struct {
		key string
		dst *int
	}{
		{"FETCH_MAX_RETRIES", &cfg.NESO.MaxRetries},
		{"RUN_HISTORY", &cfg.Ingest.RunHistory},
	}
	for _, i := range ints {
		v, err := getenvInt(i.key, *i.dst)
		if err != nil {
			return err
		}
		*i.dst = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", &cfg.NESO.HTTPTimeout},
		{"BACKFILL_WINDOW", &cfg.Ingest.BackfillWindow},
		{"INGEST_INTERVAL", &cfg.Ingest.Interval},
		{"RUN_TIMEOUT", &cfg.Ingest.RunTimeout},
		{"CACHE_TTL", &cfg.Redis.CacheTTL},
	}
	for _, d := range durations {
		v, err := getenvDuration(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"MAX_FUEL_MW", &cfg.Ingest.MaxFuelMW},
		{"MAX_CARBON_INTENSITY", &cfg.Ingest.MaxCarbonIntensity},
	}
	for _, f := range floats {
		v, err := getenvFloat(f.key, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

// Validate checks struct constraints and the cron schedule.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Ingest.Schedule != "" {
		if _, err := cron.ParseStandard(c.Ingest.Schedule); err != nil {
			return fmt.Errorf("invalid INGEST_SCHEDULE: %w", err)
		}
	} else if c.Ingest.Interval <= 0 {
		return fmt.Errorf("invalid config: one of INGEST_SCHEDULE or INGEST_INTERVAL is required")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
