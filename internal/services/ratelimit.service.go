package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/prom"
	"github.com/adisharma29/tripcompass-sub000/pkg/redis"
)

// ErrLimiterUnavailable signals that the cache backend could not answer.
// Callers fall back to a database count over the same window.
var ErrLimiterUnavailable = errors.New("rate limiter backend unavailable")

// RateLimiter is a fixed-window counter backed by Redis. The first hit in a
// window creates the counter with the window as TTL; later hits increment it.
type RateLimiter struct {
	cache redis.RedisAdapter
}

func NewRateLimiter(cache redis.RedisAdapter) *RateLimiter {
	return &RateLimiter{cache: cache}
}

// Allow reports whether the caller identified by key is under limit for the
// current window. A backend failure returns ErrLimiterUnavailable rather
// than a verdict.
func (l *RateLimiter) Allow(key string, limit int, window time.Duration) (bool, error) {
	count, err := l.cache.Incr("ratelimit:" + key)
	if err != nil {
		logger.Warn("rate limiter cache unavailable", "key", key, "error", err)
		prom.IncRateLimitBackendFallback()
		return false, ErrLimiterUnavailable
	}

	if count == 1 {
		if err := l.cache.Expire("ratelimit:"+key, window); err != nil {
			logger.Warn("failed to set rate limit window", "key", key, "error", err)
		}
	}

	return count <= int64(limit), nil
}

// OTPPhoneKey is the limiter key for OTP sends to a phone number.
func OTPPhoneKey(phone string) string { return fmt.Sprintf("otp:phone:%s", phone) }

// OTPIPKey is the limiter key for OTP sends from a client IP hash.
func OTPIPKey(ipHash string) string { return fmt.Sprintf("otp:ip:%s", ipHash) }

// OTPEmailKey is the limiter key for OTP sends to an email address.
func OTPEmailKey(email string) string { return fmt.Sprintf("otp:email:%s", email) }

// RoomRequestKey is the limiter key for guest requests from a room.
func RoomRequestKey(hotelID int64, roomNumber string) string {
	return fmt.Sprintf("room:%d:%s", hotelID, roomNumber)
}
