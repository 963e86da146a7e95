package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/generation-mix-ingest/internal/api/http"
	"github.com/i474232898/generation-mix-ingest/internal/cache"
	"github.com/i474232898/generation-mix-ingest/internal/config"
	"github.com/i474232898/generation-mix-ingest/internal/logging"
	"github.com/i474232898/generation-mix-ingest/internal/mix"
	"github.com/i474232898/generation-mix-ingest/internal/mix/sources"
	"github.com/i474232898/generation-mix-ingest/internal/notify"
	"github.com/i474232898/generation-mix-ingest/internal/scheduler"
	"github.com/i474232898/generation-mix-ingest/internal/store"
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion and exit")
	flag.Parse()

	// set by -once; deferred first so every other cleanup runs before exit
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.New(ctx, store.Config{
		Driver:     cfg.Store.Driver,
		SQLitePath: cfg.Store.SQLitePath,
		DSN:        cfg.Store.DSN,
	})
	if err != nil {
		lg.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer backend.Close()

	// Shared HTTP client for outbound source calls.
	httpClient := &http.Client{
		Timeout: cfg.NESO.HTTPTimeout,
	}
	source := sources.NewNESOSource(httpClient, sources.NESOConfig{
		BaseURL:    cfg.NESO.BaseURL,
		ResourceID: cfg.NESO.ResourceID,
		MaxRetries: cfg.NESO.MaxRetries,
	})

	engine := mix.NewEngine(backend, source, mix.EngineConfig{
		BackfillWindow: cfg.Ingest.BackfillWindow,
		Bounds: mix.Bounds{
			MaxFuelMW:          cfg.Ingest.MaxFuelMW,
			MaxCarbonIntensity: cfg.Ingest.MaxCarbonIntensity,
		},
	}, lg.Named("engine"))

	var (
		observers  []mix.RunObserver
		rangeCache httpapi.Cache
	)

	if cfg.Redis.Addr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			lg.Warn("redis unavailable; summary cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			rc := cache.NewRedisCache(rdb, cfg.Redis.CacheTTL, lg.Named("cache"))
			rangeCache = rc
			observers = append(observers, rc)
		}
	}

	if cfg.MQTT.Broker != "" {
		pub, err := notify.NewPublisher(notify.Options{
			BrokerURL: cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Topic:     cfg.MQTT.Topic,
		}, lg.Named("mqtt"))
		if err != nil {
			lg.Warn("mqtt unavailable; run notifications disabled", zap.Error(err))
		} else {
			defer pub.Close()
			observers = append(observers, pub)
		}
	}

	// Core service orchestrating engine, store and observers.
	service := mix.NewService(engine, backend, cfg.Ingest.RunHistory, lg.Named("service"), observers...)

	if *once {
		exitCode = runOnce(ctx, service, cfg, lg)
		return
	}

	sched := scheduler.New(scheduler.Config{
		Schedule:   cfg.Ingest.Schedule,
		Interval:   cfg.Ingest.Interval,
		RunTimeout: cfg.Ingest.RunTimeout,
	}, service, lg.Named("scheduler"))
	if err := sched.Start(); err != nil {
		lg.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "generation-mix-ingest",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.Ingest.RunTimeout + 10*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "generation-mix-ingest",
		})
	})

	httpapi.RegisterRoutes(app, service, rangeCache)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			lg.Error("fiber server stopped", zap.Error(err))
		}
	}()
	lg.Info("listening", zap.String("port", cfg.Port), zap.String("store", cfg.Store.Driver))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		lg.Error("error during shutdown", zap.Error(err))
	}
}

// runOnce performs a single ingestion, the way a cron-invoked job would, and returns
// the process exit code. Observers fire exactly as they do for scheduled runs.
func runOnce(ctx context.Context, service *mix.Service, cfg *config.AppConfig, lg *zap.Logger) int {
	ctx, cancel := context.WithTimeout(ctx, cfg.Ingest.RunTimeout)
	defer cancel()

	report, err := service.Ingest(ctx, time.Now())
	if err != nil {
		lg.Error("ingestion failed", zap.String("run_id", report.ID), zap.Error(err))
		return 1
	}
	lg.Info("ingestion finished",
		zap.String("run_id", report.ID),
		zap.Stringer("result", report.Result),
		zap.String("store", cfg.Store.Driver),
		zap.Duration("elapsed", report.Duration),
	)
	return 0
}
