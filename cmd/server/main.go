package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"ridepool/internal/app"
	"ridepool/internal/config"
	"ridepool/internal/handler"
	"ridepool/internal/logging"
	"ridepool/internal/realtime"
	internalRedis "ridepool/internal/redis"
	"ridepool/internal/repository/postgres"
	"ridepool/internal/routing"
	"ridepool/internal/service"
)

// idempotencyTTL is how long a completed response is replayed.
const idempotencyTTL = 24 * time.Hour

func main() {
	cfg := config.Load()

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// New Relic comes first so the database driver can be instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	if cfg.Database.AutoMigrate {
		if err := app.RunMigrations(cfg.Database, logger); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	srv := wireServer(db, redisClient, nrApp, cfg, logger)

	resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	indexed, err := srv.rides.RebuildIndex(resumeCtx)
	if err != nil {
		logger.Error("failed to rebuild ride geo index", "error", err)
	} else {
		logger.Info("rebuilt ride geo index", "rides", indexed)
	}
	resumed, err := srv.groups.ResumeCountdowns(resumeCtx)
	resumeCancel()
	if err != nil {
		logger.Error("failed to resume countdowns", "error", err)
	} else if resumed > 0 {
		logger.Info("resumed group countdowns", "groups", resumed)
	}

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	srv.scheduler.Stop()
	if srv.mirror != nil {
		if err := srv.mirror.Close(); err != nil {
			logger.Warn("failed to close kafka mirror", "error", err)
		}
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
}

// server holds the pieces main needs to run and stop.
type server struct {
	http      *http.Server
	rides     *service.RideService
	groups    *service.GroupService
	scheduler *service.Scheduler
	mirror    *realtime.KafkaMirror
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, logger *slog.Logger) *server {
	// Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient, cfg.Routing.CacheTTL)

	// Repositories.
	userRepo := postgres.NewUserRepository(db)
	rideRepo := postgres.NewRideRepository(db)
	groupRepo := postgres.NewGroupRepository(db)

	// Realtime delivery: websocket hub, optionally mirrored to Kafka.
	hub := realtime.NewHub(logger)
	var publisher realtime.Publisher = hub
	var mirror *realtime.KafkaMirror
	if cfg.Kafka.Enabled {
		mirror = realtime.NewKafkaMirror(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		publisher = realtime.Fanout{hub, mirror}
		logger.Info("mirroring events to kafka", "topic", cfg.Kafka.Topic)
	}

	// Routing.
	var transport http.RoundTripper
	if nrApp != nil {
		transport = newrelic.NewRoundTripper(nil)
	}
	directions := routing.NewDirectionsClient(cfg.Routing, transport, logger)
	oracle := routing.NewCachingOracle(directions, cacheStore, logger)
	sequencer := routing.NewSequencer(oracle)

	// Services.
	scheduler := service.NewScheduler()
	notifier := service.NewNotificationService(publisher, logger)
	matchingService := service.NewMatchingService(locationStore, cacheStore, rideRepo, cfg.Matching, logger)
	rideService := service.NewRideService(rideRepo, groupRepo, locationStore, cacheStore, oracle, logger)
	groupService := service.NewGroupService(service.GroupServiceDeps{
		Groups:    groupRepo,
		Rides:     rideRepo,
		Users:     userRepo,
		Locker:    service.NewRedisGroupLocker(lockStore, cfg.Group.LockTTL, cfg.Group.LockWait, logger),
		Planner:   sequencer,
		Notifier:  notifier,
		Scheduler: scheduler,
		Locations: locationStore,
		RideCache: cacheStore,
		Config:    cfg.Group,
		Logger:    logger,
	})

	// Handlers.
	router := app.NewRouter(app.RouterDeps{
		RideHandler:   handler.NewRideHandler(rideService, matchingService),
		GroupHandler:  handler.NewGroupHandler(groupService),
		UserHandler:   handler.NewUserHandler(userRepo),
		SocketHandler: handler.NewSocketHandler(hub, groupService, cfg.WebSocket, logger),
		Responses:     internalRedis.NewIdempotencyStore(redisClient, idempotencyTTL),
		NewRelicApp:   nrApp,
		Logger:        logger,
		UserHeader:    cfg.Auth.UserHeader,
	})

	return &server{
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		rides:     rideService,
		groups:    groupService,
		scheduler: scheduler,
		mirror:    mirror,
	}
}
