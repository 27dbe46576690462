// Package config reads pdrop settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. PDROP_SIGNAL_URL.
const Prefix = "PDROP"

type Config struct {
	SignalURL   string   `envconfig:"SIGNAL_URL" default:"ws://localhost:8080" validate:"required,url"`
	ListenAddr  string   `envconfig:"LISTEN_ADDR" default:":8080" validate:"required"`
	// STUNServers left empty means the built-in public servers.
	STUNServers []string `envconfig:"STUN_SERVERS" validate:"dive,required"`

	DownloadDir  string `envconfig:"DOWNLOAD_DIR" default:"." validate:"required"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"pdrop.db" validate:"required"`

	ChunkSize      int           `envconfig:"CHUNK_SIZE" default:"16384" validate:"min=1,max=262144"`
	InFlightWindow int           `envconfig:"IN_FLIGHT_WINDOW" default:"1" validate:"min=1"`
	AckTimeout     time.Duration `envconfig:"ACK_TIMEOUT" default:"30s" validate:"gte=0"`
	DownloadPacing time.Duration `envconfig:"DOWNLOAD_PACING" default:"100ms" validate:"gte=0"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
}

var validate = validator.New()

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
