package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func rateLimitedApp(cache *redis.Client, max int) *fiber.App {
	app := fiber.New(fiber.Config{ProxyHeader: fiber.HeaderXForwardedFor})
	app.Post("/transactions", TransferRateLimit(cache, max), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func submit(t *testing.T, app *fiber.App, ip, from string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/transactions", strings.NewReader(`{"from":"`+from+`"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderXForwardedFor, ip)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestTransferRateLimitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()
	app := rateLimitedApp(cache, 2)

	for i := 0; i < 2; i++ {
		if status := submit(t, app, "10.0.0.1", "qrpay_a"); status != fiber.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, status)
		}
	}
	if status := submit(t, app, "10.0.0.1", "qrpay_b"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 regardless of claimed sender, got %d", status)
	}
	if ttl := mr.TTL("rl:transfer:10.0.0.1"); ttl <= 0 {
		t.Fatalf("expected counter to expire, ttl %v", ttl)
	}
}

func TestTransferRateLimitIgnoresClaimedSender(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	for name, app := range map[string]*fiber.App{
		"redis":     rateLimitedApp(cache, 3),
		"in-memory": rateLimitedApp(nil, 3),
	} {
		t.Run(name, func(t *testing.T) {
			// Unsigned junk naming alice as sender only burns the flooding
			// client's own budget.
			for i := 0; i < 5; i++ {
				submit(t, app, "203.0.113.7", "qrpay_alice")
			}
			if status := submit(t, app, "198.51.100.2", "qrpay_alice"); status != fiber.StatusOK {
				t.Fatalf("genuine sender blocked by another client's requests: %d", status)
			}
		})
	}
}

func TestTransferRateLimitInMemory(t *testing.T) {
	app := rateLimitedApp(nil, 1)

	if status := submit(t, app, "10.0.0.1", "qrpay_a"); status != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if status := submit(t, app, "10.0.0.1", "qrpay_a"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", status)
	}
}
