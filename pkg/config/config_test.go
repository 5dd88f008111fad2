package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/wallet")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REDIS_URL", "localhost:6379")
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)
	for _, k := range []string{"WALLET_CURRENCY", "MIN_TOPUP_AMOUNT", "ALLOW_NEGATIVE_BALANCE", "MAX_ACTIVE_KEYS", "TOPUP_RATE_PER_MINUTE", "ENV"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()

	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, "1", cfg.MinTopUpAmount.String())
	assert.False(t, cfg.AllowNegativeBalance)
	assert.Equal(t, 5, cfg.MaxActiveKeys)
	assert.Equal(t, 10, cfg.TopUpRatePerMinute)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WALLET_CURRENCY", "ngn")
	t.Setenv("MIN_TOPUP_AMOUNT", "5.50")
	t.Setenv("ALLOW_NEGATIVE_BALANCE", "true")
	t.Setenv("TOPUP_RATE_PER_MINUTE", "3")

	cfg := LoadConfig()

	assert.Equal(t, "NGN", cfg.Currency)
	assert.Equal(t, "5.5", cfg.MinTopUpAmount.String())
	assert.True(t, cfg.AllowNegativeBalance)
	assert.Equal(t, 3, cfg.TopUpRatePerMinute)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"missing required", "JWT_SECRET", ""},
		{"non-positive minimum", "MIN_TOPUP_AMOUNT", "0"},
		{"bad boolean", "ALLOW_NEGATIVE_BALANCE", "maybe"},
		{"bad integer", "MAX_ACTIVE_KEYS", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			require.Panics(t, func() { LoadConfig() })
		})
	}
}
