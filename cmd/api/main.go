package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tablewatch/internal/api"
	"tablewatch/internal/booking"
	"tablewatch/internal/cache"
	"tablewatch/internal/config"
	"tablewatch/internal/database"
	"tablewatch/internal/dispatch"
	"tablewatch/internal/domain"
	"tablewatch/internal/logging"
	"tablewatch/internal/metrics"
	"tablewatch/internal/notify"
	"tablewatch/internal/provider"
	"tablewatch/internal/scanner"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	locations, err := config.LoadLocations("configs/locations.yaml")
	if err != nil {
		logger.Error().Err(err).Msg("load locations")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	availabilityCache := buildCache(redisClient, cacheTTL, &logger)

	providerClient := provider.NewClient(cfg.Provider, logger)

	// manual scans share the worker's full pipeline so a triggered cycle
	// books and notifies exactly like a scheduled one
	worker := dispatch.NewWorker(db, buildTransports(cfg, &logger), redisClient, dispatch.RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}, logger)
	go worker.Start(ctx)

	notifier := notify.New(
		db,
		worker,
		time.Duration(cfg.Notify.DedupWindowMinutes)*time.Minute,
		cfg.Notify.BookingURL,
		cfg.Notify.AdminEmail,
		logger,
	)
	booker := booking.NewOrchestrator(providerClient, logger)
	scn := scanner.New(db, providerClient, booker, notifier, locations, scanner.Config{
		RescanBuffer: time.Duration(cfg.Scan.RescanBufferMinutes) * time.Minute,
		FetchWorkers: cfg.Scan.FetchWorkers,
	}, logger)

	httpServer := api.NewHTTPServer(cfg.API, db, locations, providerClient, availabilityCache, scn, notifier, cacheTTL, logger)

	startMetrics(ctx, cfg, &logger)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Int("locations", len(locations)).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(baseLogger, "api-main")

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func buildCache(redisClient *redis.Client, ttl time.Duration, logger *zerolog.Logger) domain.Cache {
	memory := cache.NewMemoryCache(ttl)
	if redisClient == nil {
		logger.Info().Msg("availability cache running in-memory only")
		return memory
	}
	return cache.NewFailoverCache(cache.NewRedisCache(redisClient, ttl), memory, logger)
}

func buildTransports(cfg *config.Config, logger *zerolog.Logger) dispatch.Transports {
	var transports dispatch.Transports

	if cfg.Notify.Email.Enabled {
		transports.Email = notify.NewSMTPSender(cfg.Notify.Email)
	}
	if cfg.Notify.SMS.Enabled {
		transports.SMS = notify.NewTwilioSender(cfg.Notify.SMS)
	}
	if cfg.Notify.Telegram.Enabled {
		sender, err := notify.NewTelegramSender(cfg.Notify.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram")
		} else {
			transports.Telegram = sender
		}
	}

	return transports
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
