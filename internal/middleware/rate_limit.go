package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"
)

// TransferRateLimit limits transfer submissions per client IP. It runs before
// the signature is checked, so it must not key on anything the body claims.
// Counters live in Redis when available so the limit holds across instances;
// otherwise an in-process limiter is used.
func TransferRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	if cache == nil {
		return limiter.New(limiter.Config{
			Max:          maxPerMin,
			Expiration:   time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string { return c.IP() },
			LimitReached: func(c *fiber.Ctx) error {
				return fiber.NewError(http.StatusTooManyRequests, "too many transfer requests, try again later")
			},
		})
	}
	return func(c *fiber.Ctx) error {
		key := "rl:transfer:" + c.IP()
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(60))
			return fiber.NewError(http.StatusTooManyRequests, "too many transfer requests, try again later")
		}
		return c.Next()
	}
}
