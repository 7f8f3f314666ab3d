package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raaihank/phi-guard/internal/config"
)

func TestRateLimiter(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: false, RequestsPerMin: 1, Burst: 1})
		for i := 0; i < 10; i++ {
			assert.True(t, rl.Allow("10.0.0.1"))
		}
		assert.Equal(t, 0, rl.Clients())
	})

	t.Run("BurstThenRefill", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 3})
		rl.now = func() time.Time { return now }

		assert.True(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))

		// Other clients have their own bucket
		assert.True(t, rl.Allow("10.0.0.2"))

		// One token per second
		now = now.Add(time.Second)
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))
	})

	t.Run("Cleanup", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1})
		rl.now = func() time.Time { return now }

		rl.Allow("old")
		now = now.Add(2 * time.Hour)
		rl.Allow("new")

		rl.CleanupOldBuckets(time.Hour)
		assert.Equal(t, 1, rl.Clients())
	})
}
