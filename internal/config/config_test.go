package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
business:
  loyalty_threshold: 8
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(1), cfg.Server.WorkerID)
	assert.Equal(t, 8, cfg.Business.LoyaltyThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Business.QRTokenTTL())
	assert.Equal(t, time.Minute, cfg.Business.ProductCacheTTL())
	assert.Equal(t, "coffeeshop.order.events", cfg.Kafka.Topic.OrderEvents)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
business:
  qr_token_ttl_minutes: 10
`)
	t.Setenv("COFFEESHOP_BUSINESS_QR_TOKEN_TTL_MINUTES", "3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, cfg.Business.QRTokenTTL())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
business:
  loyalty_threshold: 0
`)

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "loyalty_threshold")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Business.MaxRetryCount = 0
	assert.ErrorContains(t, cfg.Validate(), "max_retry_count")

	cfg = Default()
	cfg.Business.QRTokenTTLMinutes = -1
	assert.ErrorContains(t, cfg.Validate(), "qr_token_ttl_minutes")
}
