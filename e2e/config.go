package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// REDIS_URL points at the store shared by every simulated client
	RedisURL string `envconfig:"REDIS_URL"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
	// E2E_WAIT bounds every wait for a propagated change
	Wait string `envconfig:"E2E_WAIT" default:"5s"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
