// loader.go implements the configuration loading lifecycle:
//  1. Enforce UTC so period arithmetic never drifts with the host timezone.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Populate the Config struct from the environment via envconfig.
//  4. Validate with go-playground/validator and fail fast on any violation.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"metergate/internal/types"
)

// Load builds and validates the process configuration.
func Load() (*Config, error) {
	time.Local = time.UTC

	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to process environment: %w", err)
	}

	v := validator.New()
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// StripePrices parses the plan-to-price-ID mapping. Called once at wiring
// time; the JSON shape was already checked by validation.
func (b BillingConfig) StripePrices() (map[types.PlanCode]string, error) {
	prices := make(map[types.PlanCode]string)
	if err := json.Unmarshal([]byte(b.StripePriceIDs), &prices); err != nil {
		return nil, fmt.Errorf("config: malformed STRIPE_PRICE_IDS_JSON: %w", err)
	}
	return prices, nil
}
