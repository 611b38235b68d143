package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/internal/config"
	"github.com/notifyhub/notifyhub/internal/domain"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"NODE_ID": "n1"})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, config.BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5*time.Minute, cfg.WSInactivityTimeout)
	assert.False(t, cfg.WSFrameAuth)
	assert.Equal(t, "n1", cfg.NodeID)
	assert.Equal(t, domain.PriorityUrgent, cfg.QuietHoursBypass())
	assert.Equal(t, domain.RetryPolicy{
		MaxAttempts: 3,
		Strategy:    domain.BackoffExponential,
		BaseDelay:   5 * time.Second,
		MaxDelay:    10 * time.Minute,
	}, cfg.RetryPolicy())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"STORE_BACKEND":      "postgres",
		"DATABASE_URL":       "postgres://u:p@localhost:5432/notifyhub",
		"RETRY_STRATEGY":     "linear",
		"WS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"DELIVERY_WORKERS":   "4",
		"DISPATCH_INTERVAL":  "250ms",
		"WS_FRAME_AUTH":      "true",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WSAllowedOrigins)
	assert.Equal(t, 4, cfg.DeliveryWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.DispatchInterval)
	assert.True(t, cfg.WSFrameAuth)
	assert.Equal(t, domain.BackoffLinear, cfg.RetryPolicy().Strategy)
	assert.NotEmpty(t, cfg.NodeID, "falls back to the hostname")
}

func TestLoadFrom_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url": {"STORE_BACKEND": "postgres"},
		"unknown backend":      {"STORE_BACKEND": "mongo"},
		"bad strategy":         {"RETRY_STRATEGY": "random"},
		"bad bypass":           {"QUIET_HOURS_BYPASS_PRIORITY": "asap"},
		"bad duration":         {"DISPATCH_INTERVAL": "soon"},
		"zero workers":         {"DELIVERY_WORKERS": "0"},
		"bad log format":       {"LOG_FORMAT": "xml"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFrom(vars)
			require.Error(t, err)
		})
	}
}
