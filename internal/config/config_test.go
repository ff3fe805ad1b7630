package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	require.NoError(t, Load(""))
	c := Get()

	assert.Equal(t, "UTC", c.AppTimezone)
	assert.Equal(t, "http://localhost:5173", c.FrontendBaseUrl)
	assert.Equal(t, 10*time.Second, c.DeliveryGraceDelay)
	assert.Equal(t, 2*time.Minute, c.DeliveryRetryDelay)
	assert.Equal(t, 3, c.DeliveryMaxRetries)
	assert.False(t, c.AccessBypassTimelock)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_TIMEZONE=Europe/Berlin\nDELIVERY_MAX_RETRIES=5\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("APP_TIMEZONE")
		os.Unsetenv("DELIVERY_MAX_RETRIES")
	})

	require.NoError(t, Load(path))
	c := Get()
	assert.Equal(t, 5, c.DeliveryMaxRetries)

	loc, err := c.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoad_MissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.Error(t, err)
}

func TestLocation_Invalid(t *testing.T) {
	c := &Config{AppTimezone: "Mars/Olympus"}
	_, err := c.Location()
	assert.Error(t, err)
}
