package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"garagehub/internal/api"
	"garagehub/internal/broker"
	"garagehub/internal/config"
	"garagehub/internal/database"
	"garagehub/internal/domain"
	"garagehub/internal/events"
	"garagehub/internal/google"
	"garagehub/internal/logging"
	"garagehub/internal/metrics"
	"garagehub/internal/models"
	"garagehub/internal/notify"
	"garagehub/internal/promo"
	"garagehub/internal/repository"
	"garagehub/internal/service"
	"garagehub/internal/tracking"
	"garagehub/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
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
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	location := cfg.Display.Location()
	eventBus := events.NewEventBus()

	if cfg.Broker.Enabled {
		publisher, err := broker.Dial(cfg.Broker.URL, cfg.Broker.Exchange, &logger)
		if err != nil {
			logger.Warn().Err(err).Msg("broker unavailable, events stay in-process")
		} else {
			publisher.Attach(eventBus)
			logger.Info().Strs("events", events.AllEventTypes()).Str("exchange", cfg.Broker.Exchange).Msg("forwarding events to broker")
			defer publisher.Close()
		}
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	store, checks := initSnapshotStore(cfg, redisClient, &logger)
	checks["database"] = db.PingContext

	taskWorker := initWorker(ctx, cfg, db, redisClient, location, &logger)
	go taskWorker.Start(ctx)

	bookingService := service.NewBookingService(db, eventBus, taskWorker, notifyStatuses(cfg, &logger), location, &logger)
	trackingService := service.NewTrackingService(db, store, eventBus, tracking.Params{
		Interval:           cfg.Tracking.Interval,
		AverageSpeedKmh:    cfg.Tracking.AverageSpeedKmh,
		StepFraction:       cfg.Tracking.StepFraction,
		ArrivalThresholdKm: cfg.Tracking.ArrivalThresholdKm,
		Retention:          cfg.Tracking.ViewRetention,
	}, &logger)
	defer trackingService.Shutdown()
	eventBus.Subscribe(events.EventBookingStatusChanged, trackingService.HandleStatusChanged)

	mechanicService := service.NewMechanicService(
		db, store, eventBus, cfg.Tracking.LocationRateLimit, cfg.Tracking.LocationRateWindow, &logger)

	rotator := initPromos(ctx, cfg, &logger)
	if rotator != nil {
		defer rotator.Stop()
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Bookings:  bookingService,
		Tracking:  trackingService,
		Mechanics: mechanicService,
		Promos:    rotator,
		Checks:    checks,
	}, location, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
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
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SeedMechanics(ctx, cfg.Mechanics); err != nil {
		db.Close()
		return nil, err
	}

	if enRoute, err := db.GetBookingsByStatus(ctx, models.StatusEnRoute); err == nil && len(enRoute) > 0 {
		logger.Info().Int("count", len(enRoute)).Msg("bookings en route at startup")
	}
	if failed, err := db.GetFailedSyncTasks(ctx); err == nil && len(failed) > 0 {
		logger.Warn().Int("count", len(failed)).Msg("failed sync tasks need attention")
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initSnapshotStore prefers redis with an in-memory fallback. The returned
// checks feed /healthz.
func initSnapshotStore(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) (domain.SnapshotStore, map[string]api.HealthCheck) {
	checks := make(map[string]api.HealthCheck)
	memory := repository.NewMemorySnapshotStore(cfg.Tracking.SnapshotTTL)
	if client == nil {
		return memory, checks
	}

	failover := repository.NewFailoverSnapshotStore(
		repository.NewRedisSnapshotStore(client, cfg.Tracking.SnapshotTTL), memory, logger)
	checks["snapshot_store"] = func(context.Context) error {
		if failover.Degraded() {
			return errors.New("redis unavailable, serving from memory")
		}
		return nil
	}
	return failover, checks
}

func initWorker(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	location *time.Location,
	logger *zerolog.Logger,
) *worker.TaskWorker {
	var notifier domain.Notifier
	if cfg.Telegram.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, customer notifications disabled")
		} else {
			bot.Debug = cfg.Telegram.Debug
			logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier ready")
			notifier = notify.NewTelegramNotifier(bot, location, logger)
		}
	}

	var sheetsWriter domain.SheetsWriter
	if sheetsService := initGoogleSheets(ctx, cfg, logger); sheetsService != nil {
		sheetsWriter = sheetsService
	}

	return worker.NewTaskWorker(db, notifier, sheetsWriter, redisClient, worker.PolicyFromConfig(cfg.Worker), worker.Options{
		QueueKey:      cfg.Worker.QueueKey,
		DeadLetterKey: cfg.Worker.DeadLetterKey,
		PollInterval:  cfg.Worker.RequeueEvery,
		BatchSize:     cfg.Worker.RequeueBatch,
	}, logger)
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if !cfg.Google.Enabled() {
		return nil
	}

	sheetsService, err := google.NewSheetsService(ctx,
		cfg.Google.GoogleCredentialsFile,
		cfg.Google.BookingSpreadSheetID,
		cfg.Google.SheetName,
	)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}

	if err := sheetsService.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheetsService.EnsureHeader(ctx); err != nil {
		email, _ := google.ServiceAccountEmail(cfg.Google.GoogleCredentialsFile)
		logger.Warn().Err(err).Str("share_with", email).Msg("google sheets not writable, continuing without sheets")
		return nil
	}
	if err := sheetsService.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

func notifyStatuses(cfg *config.Config, logger *zerolog.Logger) []models.BookingStatus {
	statuses := make([]models.BookingStatus, 0, len(cfg.Worker.NotifyStatuses))
	for _, raw := range cfg.Worker.NotifyStatuses {
		status, ok := models.ParseBookingStatus(raw)
		if !ok {
			logger.Warn().Str("status", raw).Msg("unknown status in worker.notify_statuses")
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func initPromos(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *promo.Rotator {
	path := os.Getenv("BANNERS_PATH")
	if path == "" {
		path = cfg.Promo.BannersPath
	}
	if path == "" {
		return nil
	}

	banners, err := promo.LoadBanners(path)
	if err != nil {
		logger.Warn().Err(err).Str("banners_path", path).Msg("promo banners not loaded")
		return nil
	}

	rotator := promo.NewRotator(banners, cfg.Promo.RotationInterval, logger)
	rotator.Start(ctx)
	return rotator
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

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
