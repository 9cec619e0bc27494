package internal

import (
	"chat-sync/errors"
	"fmt"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DriverBadger = "badger"
	DriverRedis  = "redis"
)

type Config struct {
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`
	StoreDriver string `env:"STORE_DRIVER,default=badger"`

	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/chat-sync"`
	RedisURL       string `env:"REDIS_URL"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=chatsync"`

	AuthSecret        string        `env:"AUTH_SECRET,required=true"`
	AuthToken         string        `env:"AUTH_TOKEN"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	RoomCodeAttempts int           `env:"ROOM_CODE_ATTEMPTS,default=8"`
	LeaveTimeout     time.Duration `env:"LEAVE_TIMEOUT,default=5s"`
	RestartInterval  time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	SinkTimeout      time.Duration `env:"SINK_TIMEOUT,default=1s"`
	EventBufferSize  int           `env:"EVENT_BUFFER_SIZE,default=256"`
	MetricInterval   time.Duration `env:"METRIC_INTERVAL,default=5s"`

	LowCapacityThreshold int `env:"LOW_CAPACITY_THRESHOLD,default=16"`
	MetricsAddr      string        `env:"METRICS_ADDR"`
	Colours          bool          `env:"COLOURS,default=true"`
}

// LoadConfig reads the optional .env file then the environment, which wins.
func LoadConfig(files ...string) (Config, error) {
	var config Config
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return config, fmt.Errorf("dotenv error: %w", err)
	}
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return config, fmt.Errorf("config error: %w", err)
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverBadger:
		if c.BadgerFilepath == "" {
			return fmt.Errorf("%w: BADGER_FILEPATH is required", errors.ErrValidation)
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: REDIS_URL is required", errors.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownDriver, c.StoreDriver)
	}
	if c.RoomCodeAttempts <= 0 {
		return fmt.Errorf("%w: ROOM_CODE_ATTEMPTS must be positive", errors.ErrValidation)
	}
	return nil
}
