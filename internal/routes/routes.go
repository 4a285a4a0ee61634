package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/qrpay/qrpay/internal/auth"
	"github.com/qrpay/qrpay/internal/config"
	"github.com/qrpay/qrpay/internal/ledger"
	"github.com/qrpay/qrpay/internal/middleware"
	"github.com/qrpay/qrpay/internal/notification"
	"github.com/qrpay/qrpay/internal/pqcrypto"
	"github.com/qrpay/qrpay/internal/transfer"
	"github.com/qrpay/qrpay/internal/wallet"
)

const (
	memoryReplayEntries = 1_000_000
	commitTimeout       = 5 * time.Second
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Events notification.MessageWriter
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	verifier, err := pqcrypto.ByName(d.Cfg.SignatureScheme)
	if err != nil {
		return err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  d.Cfg.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Idempotency-Key, X-Request-ID",
		ExposeHeaders: "X-Request-ID, Idempotent-Replayed, Retry-After",
	}))
	if d.Cfg.IsDev() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	} else {
		app.Use(middleware.Audit(d.Logger))
	}
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d, verifier.Algorithm())

	// Services and handlers
	ledgerOpts := ledger.Options{
		InitialBalance: d.Cfg.InitialBalance,
		MaxRetries:     d.Cfg.LedgerMaxRetries,
	}
	var store ledger.Store
	if d.DB != nil {
		pg := ledger.NewPostgres(d.DB, ledgerOpts)
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pg.Migrate(migrateCtx); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
		store = pg
	} else {
		store = ledger.NewInMemory(ledgerOpts)
	}

	// Pairs are kept twice as long as the window in which a nonce is
	// accepted, so a nonce cannot expire while it is still acceptable.
	replayTTL := 2 * d.Cfg.ReplayWindow
	var replay transfer.ReplayGuard
	if d.Cache != nil {
		replay = transfer.NewRedisReplayGuard(d.Cache, replayTTL)
	} else {
		replay = transfer.NewMemoryReplayGuard(memoryReplayEntries, replayTTL)
	}

	var notifier notification.Notifier
	if d.Events != nil {
		notifier = notification.NewKafkaNotifier(d.Events, d.Logger)
	} else {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	walletSvc, err := wallet.NewService(store, verifier, pqcrypto.NewMLKEM768())
	if err != nil {
		return err
	}
	engine := transfer.NewEngine(store, walletSvc, verifier, replay, notifier, d.Logger, transfer.Config{
		ReplayWindow:  d.Cfg.ReplayWindow,
		CommitTimeout: commitTimeout,
	})
	authSvc, err := auth.NewService(d.Cfg.ChallengeSecret, d.Cfg.ChallengeTTL, walletSvc, verifier)
	if err != nil {
		return err
	}

	walletHandler := wallet.NewHandler(walletSvc)
	transferHandler := transfer.NewHandler(engine)
	authHandler := auth.NewHandler(authSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"algorithm":  verifier.Algorithm(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, walletHandler)
	RegisterTransactionRoutes(api, transferHandler, middleware.TransferRateLimit(d.Cache, d.Cfg.RateLimitPerMinute))
	RegisterAuthRoutes(api, authHandler)

	return nil
}
