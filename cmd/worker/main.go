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

	"tablewatch/internal/booking"
	"tablewatch/internal/config"
	"tablewatch/internal/database"
	"tablewatch/internal/dispatch"
	"tablewatch/internal/logging"
	"tablewatch/internal/metrics"
	"tablewatch/internal/models"
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

	locations, err := loadLocations(&logger)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	providerClient := provider.NewClient(cfg.Provider, logger)

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

	startMetrics(ctx, cfg, &logger)

	sched := scanner.NewScheduler(logger)
	sched.Add(scanner.Job{
		Name:         "scan_urgent",
		Interval:     time.Duration(cfg.Scan.UrgentIntervalMinutes) * time.Minute,
		InitialDelay: 30 * time.Second,
		Run: func(ctx context.Context) {
			if _, err := scn.Scan(ctx, scanner.TierUrgent, time.Now().UTC()); err != nil {
				logger.Error().Err(err).Msg("urgent scan failed")
			}
		},
	})
	sched.Add(scanner.Job{
		Name:         "scan_normal",
		Interval:     time.Duration(cfg.Scan.NormalIntervalMinutes) * time.Minute,
		InitialDelay: 60 * time.Second,
		Run: func(ctx context.Context) {
			if _, err := scn.Scan(ctx, scanner.TierNormal, time.Now().UTC()); err != nil {
				logger.Error().Err(err).Msg("normal scan failed")
			}
		},
	})
	sched.Add(scanner.Job{
		Name:     "expire_watches",
		Interval: time.Duration(cfg.Scan.ExpireIntervalHours) * time.Hour,
		Run: func(ctx context.Context) {
			n, err := db.ExpireStale(ctx, time.Now().UTC())
			if err != nil {
				logger.Error().Err(err).Msg("expire pass failed")
				return
			}
			if n > 0 {
				metrics.AddExpired(int(n))
				logger.Info().Int64("expired", n).Msg("expired stale watches")
			}
		},
	})
	sched.Add(scanner.Job{
		Name:     "cleanup_queue",
		Interval: time.Duration(cfg.Scan.QueueCleanupHours) * time.Hour,
		Run: func(ctx context.Context) {
			cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Scan.QueueRetentionDays)
			n, err := db.PurgeOutbound(ctx, cutoff)
			if err != nil {
				logger.Error().Err(err).Msg("queue cleanup failed")
				return
			}
			if n > 0 {
				logger.Info().Int64("purged", n).Msg("purged outbound queue")
			}
		},
	})

	logger.Info().
		Int("locations", len(locations)).
		Int("urgent_interval_min", cfg.Scan.UrgentIntervalMinutes).
		Int("normal_interval_min", cfg.Scan.NormalIntervalMinutes).
		Msg("worker started")

	sched.Start(ctx)

	logger.Info().Msg("worker stopped")
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
	logger := logging.Component(baseLogger, "worker-main")

	return cfg, logger, closer, nil
}

func loadLocations(logger *zerolog.Logger) ([]models.Location, error) {
	locations, err := config.LoadLocations("configs/locations.yaml")
	if err != nil {
		logger.Error().Err(err).Msg("load locations")
		return nil, err
	}
	return locations, nil
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

func buildTransports(cfg *config.Config, logger *zerolog.Logger) dispatch.Transports {
	var transports dispatch.Transports

	if cfg.Notify.Email.Enabled {
		transports.Email = notify.NewSMTPSender(cfg.Notify.Email)
		logger.Info().Str("host", cfg.Notify.Email.Host).Msg("email channel enabled")
	}
	if cfg.Notify.SMS.Enabled {
		transports.SMS = notify.NewTwilioSender(cfg.Notify.SMS)
		logger.Info().Msg("sms channel enabled")
	}
	if cfg.Notify.Telegram.Enabled {
		sender, err := notify.NewTelegramSender(cfg.Notify.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram")
		} else {
			transports.Telegram = sender
			logger.Info().Msg("telegram channel enabled")
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
