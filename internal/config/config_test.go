package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("super-secret"))

	t.Run("valid", func(t *testing.T) {
		cfg, err := NewConfig("localhost:8000", "host=localhost", secret, []string{"http://localhost:3000"})
		require.NoError(t, err)

		assert.Equal(t, "localhost:8000", cfg.ServerAddr)
		assert.Equal(t, "host=localhost", cfg.DatabaseDSN)
		assert.Equal(t, []byte("super-secret"), cfg.SigningKey)
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
		assert.Equal(t, 7*24*time.Hour, cfg.ActivityRetention)
	})

	t.Run("missing server address", func(t *testing.T) {
		_, err := NewConfig("", "host=localhost", secret, nil)
		assert.Error(t, err)
	})

	t.Run("missing dsn", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", "", secret, nil)
		assert.Error(t, err)
	})

	t.Run("missing signing secret", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", "host=localhost", "", nil)
		assert.Error(t, err)
	})

	t.Run("signing secret is not base64", func(t *testing.T) {
		_, err := NewConfig("localhost:8000", "host=localhost", "not base64!!", nil)
		assert.Error(t, err)
	})
}
