package internal

import (
	"chat-sync/errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("AUTH_SECRET", "secret")

	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))

	req.NoError(err)
	req.Equal(DriverBadger, config.StoreDriver)
	req.Equal(8, config.RoomCodeAttempts)
	req.Equal(5*time.Second, config.LeaveTimeout)
	req.Equal(24*time.Hour, config.AuthTokenDuration)
}

func TestLoadConfig_DotEnvThenEnvironment(t *testing.T) {
	req := require.New(t)
	file := filepath.Join(t.TempDir(), ".env")
	req.NoError(os.WriteFile(file, []byte("AUTH_SECRET=from-file\nSTORE_DRIVER=redis\nREDIS_URL=redis://localhost:6379/0\n"), 0o600))
	// Given a variable already exported
	t.Setenv("REDIS_KEY_PREFIX", "exported")
	t.Setenv("AUTH_SECRET", "exported-secret")
	t.Cleanup(func() {
		_ = os.Unsetenv("STORE_DRIVER")
		_ = os.Unsetenv("REDIS_URL")
	})

	config, err := LoadConfig(file)

	// Then the file fills the gaps without overriding the environment
	req.NoError(err)
	req.Equal(DriverRedis, config.StoreDriver)
	req.Equal("redis://localhost:6379/0", config.RedisURL)
	req.Equal("exported", config.RedisKeyPrefix)
	req.Equal("exported-secret", config.AuthSecret)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		target error
	}{
		{"Unknown driver", Config{StoreDriver: "mongo", RoomCodeAttempts: 1}, errors.ErrUnknownDriver},
		{"Redis without url", Config{StoreDriver: DriverRedis, RoomCodeAttempts: 1}, errors.ErrValidation},
		{"No attempts", Config{StoreDriver: DriverBadger, BadgerFilepath: "x"}, errors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.config.Validate(), tt.target)
		})
	}
}
