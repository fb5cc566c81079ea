// Package config reads the engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries everything main needs to wire the engine. Empty MongoURI
// and RedisAddr select the in-memory stores, which is how tests and local
// machine-simulator runs operate.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"vendcore"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"vendcore"`
	RedisAddr     string `env:"REDIS_ADDR"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	GatewaySuccessRate float64 `env:"GATEWAY_SUCCESS_RATE" envDefault:"0.7"`

	SweeperEnabled  bool          `env:"PAYMENT_SWEEPER_ENABLED" envDefault:"false"`
	SweeperInterval time.Duration `env:"PAYMENT_SWEEPER_INTERVAL" envDefault:"1m"`
}

// Parse reads the configuration from environment variables.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.GatewaySuccessRate < 0 || cfg.GatewaySuccessRate > 1 {
		return nil, fmt.Errorf("GATEWAY_SUCCESS_RATE must be within [0, 1], got %v", cfg.GatewaySuccessRate)
	}
	if cfg.SweeperEnabled && cfg.SweeperInterval <= 0 {
		return nil, fmt.Errorf("PAYMENT_SWEEPER_INTERVAL must be positive, got %v", cfg.SweeperInterval)
	}
	return cfg, nil
}
