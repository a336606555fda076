package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.CustomerLookupTimeout)
	assert.Equal(t, 5*time.Second, cfg.OrderCallTimeout)
	assert.Equal(t, 10*time.Minute, cfg.CancelWindow)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "order.lifecycle", cfg.KafkaTopicOrders)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9000\"\ncancel_window: 5m\nstore_driver: memory\n"), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CANCEL_WINDOW", "15m")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 15*time.Minute, cfg.CancelWindow)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg
	bad.StoreDriver = "mysql"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.PostgresDSN = ""
	assert.Error(t, bad.Validate())

	bad.StoreDriver = DriverMemory
	assert.NoError(t, bad.Validate())
}
