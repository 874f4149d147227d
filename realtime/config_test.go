package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollerConfigValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultPollerConfig().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*PollerConfig)
	}{
		{"zero min interval", func(c *PollerConfig) { c.MinInterval = 0 }},
		{"negative max interval", func(c *PollerConfig) { c.MaxInterval = -time.Second }},
		{"zero initial interval", func(c *PollerConfig) { c.InitialInterval = 0 }},
		{"min above initial", func(c *PollerConfig) { c.MinInterval = c.InitialInterval + time.Second }},
		{"initial above max", func(c *PollerConfig) { c.InitialInterval = c.MaxInterval + time.Second }},
		{"multiplier below one", func(c *PollerConfig) { c.BackoffMultiplier = 0.5 }},
		{"negative jitter", func(c *PollerConfig) { c.JitterRange = -time.Second }},
		{"zero failure threshold", func(c *PollerConfig) { c.FailureThreshold = 0 }},
		{"zero lifetime error ceiling", func(c *PollerConfig) { c.MaxLifetimeErrors = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultPollerConfig()
			tt.mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestAlertPollerConfigValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultAlertPollerConfig().Validate())
	})

	t.Run("zero interval", func(t *testing.T) {
		config := DefaultAlertPollerConfig()
		config.Interval = 0
		assert.Error(t, config.Validate())
	})

	t.Run("negative jitter", func(t *testing.T) {
		config := DefaultAlertPollerConfig()
		config.JitterRange = -time.Second
		assert.Error(t, config.Validate())
	})
}

func TestStreamConfigValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultStreamConfig().Validate())
	})

	t.Run("max delay below base delay", func(t *testing.T) {
		config := DefaultStreamConfig()
		config.MaxDelay = config.BaseDelay / 2
		assert.Error(t, config.Validate())
	})

	t.Run("zero reconnect attempts", func(t *testing.T) {
		config := DefaultStreamConfig()
		config.MaxReconnectAttempts = 0
		assert.Error(t, config.Validate())
	})
}
