package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromRetryConfig_AppliesValues(t *testing.T) {
	cfg := FromRetryConfig(5, 100, 2000, 3.0, 0.1)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 2*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 3.0, cfg.Multiplier)
	assert.Equal(t, 0.1, cfg.JitterFraction)
}

func TestFromRetryConfig_ZeroValuesFallBackToDefaults(t *testing.T) {
	cfg := FromRetryConfig(0, 0, 0, 0, 0)
	def := DefaultRetryConfig()
	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, def.InitialBackoff, cfg.InitialBackoff)
	assert.Equal(t, def.MaxBackoff, cfg.MaxBackoff)
	assert.Equal(t, def.Multiplier, cfg.Multiplier)
	assert.Equal(t, 0.0, cfg.JitterFraction)
}
