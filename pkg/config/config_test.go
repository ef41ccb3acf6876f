package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setInsurerEnv(t *testing.T) {
	t.Setenv("INSURER_BASE_URL", "https://insurer.test/vclaim-rest")
	t.Setenv("INSURER_CONSUMER_ID", "1234")
	t.Setenv("INSURER_CONSUMER_SECRET", "s3cr3t")
}

func TestLoad_InsurerConfig(t *testing.T) {
	setInsurerEnv(t)
	t.Setenv("INSURER_USER_KEY", "uk-1")
	t.Setenv("INSURER_TIMEOUT", "3s")
	t.Setenv("INSURER_MAX_ATTEMPTS", "4")
	t.Setenv("INSURER_INELIGIBLE_CODES", "201, 202,,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://insurer.test/vclaim-rest", cfg.Insurer.BaseURL)
	assert.Equal(t, "1234", cfg.Insurer.ConsumerID)
	assert.Equal(t, "s3cr3t", cfg.Insurer.ConsumerSecret)
	assert.Equal(t, "uk-1", cfg.Insurer.UserKey)
	assert.Equal(t, 3*time.Second, cfg.Insurer.Timeout)
	assert.Equal(t, 4, cfg.Insurer.MaxAttempts)
	assert.Equal(t, []string{"201", "202"}, cfg.Insurer.IneligibleCodes)
}

func TestLoad_Defaults(t *testing.T) {
	setInsurerEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Eligibility.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Eligibility.VerifyTimeout)
	assert.Equal(t, 10, cfg.Eligibility.OverrideMinReason)
	assert.Equal(t, 3, cfg.Insurer.MaxAttempts)
	assert.True(t, cfg.Insurer.BreakerEnabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.RedisAddr())
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_MissingInsurerCredentials(t *testing.T) {
	t.Setenv("INSURER_BASE_URL", "")
	t.Setenv("INSURER_CONSUMER_ID", "")
	t.Setenv("INSURER_CONSUMER_SECRET", "")

	cfg, err := Load()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSURER_CONSUMER_ID")
	assert.Contains(t, err.Error(), "INSURER_CONSUMER_SECRET")
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setInsurerEnv(t)
	t.Setenv("ELIGIBILITY_CACHE_TTL", "one day")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Eligibility.CacheTTL)
}

func TestInsurerConfig_Location(t *testing.T) {
	setInsurerEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", cfg.Insurer.Location().String())

	// An unknown zone falls back to UTC+7
	bad := InsurerConfig{TimeZone: "Mars/Olympus"}
	_, offset := time.Date(2024, 3, 10, 0, 0, 0, 0, bad.Location()).Zone()
	assert.Equal(t, 7*60*60, offset)
}
