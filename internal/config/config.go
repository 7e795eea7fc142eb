package config

import (
	"os"
	"strings"
	"time"

	"github.com/musaver/admintaxmahir-sub002/internal/application/importing"
)

// Config is loaded from the environment with github.com/caarlos0/env.
type Config struct {
	Port                 string `env:"PORT" envDefault:"8080"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL          string `env:"DATABASE_URL,required,notEmpty"`
	RunMigrationsOnStart bool   `env:"RUN_MIGRATIONS_ON_START" envDefault:"false"`
	BlobDir              string `env:"BLOB_DIR" envDefault:"./data/blobs"`

	Redis  RedisConfig  `envPrefix:"REDIS_"`
	Import ImportConfig `envPrefix:"IMPORT_"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type ImportConfig struct {
	Workers        int           `env:"WORKERS" envDefault:"10"`
	MaxConcurrent  int           `env:"MAX_CONCURRENT" envDefault:"10"`
	SlotsKey       string        `env:"SLOTS_KEY" envDefault:"imports:slots"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"100"`
	Stream         string        `env:"STREAM" envDefault:"imports:requested"`
	Group          string        `env:"GROUP" envDefault:"import-workers"`
	Consumer       string        `env:"CONSUMER"`
	BlockTimeout   time.Duration `env:"BLOCK_TIMEOUT" envDefault:"5s"`
	ClaimIdle      time.Duration `env:"CLAIM_IDLE" envDefault:"5m"`
	MaxDeliveries  int64         `env:"MAX_DELIVERIES" envDefault:"5"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"`
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"60s"`
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.Port == "" {
		c.Port = "8080"
	}
	c.Import.Sanitize()
}

func (c *ImportConfig) Sanitize() {
	if c.Workers <= 0 || c.Workers > importing.MaxConcurrentImports {
		c.Workers = importing.MaxConcurrentImports
	}
	if c.MaxConcurrent <= 0 || c.MaxConcurrent > importing.MaxConcurrentImports {
		c.MaxConcurrent = importing.MaxConcurrentImports
	}
	if c.SlotsKey == "" {
		c.SlotsKey = "imports:slots"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = importing.DefaultMaxUploadBytes
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	if c.ClaimIdle < time.Second {
		c.ClaimIdle = time.Second
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.Consumer == "" {
		c.Consumer = defaultConsumerName()
	}
}

// defaultConsumerName keeps consumers distinct when several replicas share a
// consumer group.
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "import-worker"
	}
	return host
}
