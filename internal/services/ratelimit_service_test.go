package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adisharma29/tripcompass-sub000/test/helpers"
)

func TestRateLimiter_Allow(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	limiter := NewRateLimiter(adapter)

	t.Run("allows up to the limit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			allowed, err := limiter.Allow("under-limit", 3, time.Hour)
			require.NoError(t, err)
			assert.True(t, allowed, "hit %d should be allowed", i+1)
		}
	})

	t.Run("denies past the limit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := limiter.Allow("over-limit", 3, time.Hour)
			require.NoError(t, err)
		}

		allowed, err := limiter.Allow("over-limit", 3, time.Hour)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("keys are independent", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := limiter.Allow("busy-key", 3, time.Hour)
			require.NoError(t, err)
		}

		allowed, err := limiter.Allow("quiet-key", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	mr, adapter := helpers.SetupTestRedis(t)
	limiter := NewRateLimiter(adapter)

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow("windowed", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow("windowed", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(time.Minute + time.Second)

	allowed, err = limiter.Allow("windowed", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "counter should reset after the window")
}

func TestRateLimiter_BackendUnavailable(t *testing.T) {
	mr, adapter := helpers.SetupTestRedis(t)
	limiter := NewRateLimiter(adapter)
	mr.Close()

	allowed, err := limiter.Allow("any-key", 3, time.Hour)
	assert.ErrorIs(t, err, ErrLimiterUnavailable)
	assert.False(t, allowed)
}

func TestRateLimiterKeys(t *testing.T) {
	assert.Equal(t, "otp:phone:+15550001111", OTPPhoneKey("+15550001111"))
	assert.Equal(t, "otp:ip:abc123", OTPIPKey("abc123"))
	assert.Equal(t, "otp:email:staff@example.com", OTPEmailKey("staff@example.com"))
	assert.Equal(t, "room:7:204", RoomRequestKey(7, "204"))
}
