package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"randomchat/backend/internal/api/handler"
	"randomchat/backend/internal/api/middleware"
	"randomchat/backend/internal/chathub"
	"randomchat/backend/internal/config"
	"randomchat/backend/internal/delivery"
	"randomchat/backend/internal/logger"
	"randomchat/backend/internal/metrics"
	"randomchat/backend/internal/pubsub"
	"randomchat/backend/internal/storage"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupDependencies(cfg *config.Config) (*gorm.DB, *redis.Client) {
	// 1. PostgreSQL
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxConns)

	// 2. Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		if cfg.Delivery.Backend == config.BackendRedis {
			log.Fatalf("Failed to connect Redis: %v", err)
		}
		log.Printf("Warning: Redis unavailable, continuing with %s push backend: %v", cfg.Delivery.Backend, err)
		_ = rdb.Close()
		rdb = nil
	}

	// 3. Migrations
	if err := storage.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Database and Redis connections established, migrations complete.")
	return db, rdb
}

func newBroker(cfg *config.Config, db *gorm.DB, rdb *redis.Client, l *logger.Logger) pubsub.Broker {
	switch cfg.Delivery.Backend {
	case config.BackendPostgres:
		return pubsub.NewPostgresBroker(db, cfg.PostgresDSN(), l)
	case config.BackendMemory:
		return pubsub.NewMemoryBroker()
	default:
		return pubsub.NewRedisBroker(rdb, l)
	}
}

// readiness pings every backing service the health check depends on.
type readiness struct {
	store *storage.Service
	redis *redis.Client
}

func (r readiness) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return err
	}
	if r.redis != nil {
		return r.redis.Ping(ctx).Err()
	}
	return nil
}

func main() {
	log.Println("Starting random chat backend...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLog := logger.New(logger.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.Format == "json"})
	logger.SetGlobal(appLog)
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 1. Dependencies
	db, rdb := setupDependencies(cfg)
	store := storage.NewStorageService(db)
	broker := newBroker(cfg, db, rdb, appLog)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	// 2. Chat hub services
	runner := delivery.NewRunner(cfg.Delivery.SubscribeTimeout, cfg.Delivery.PollInterval, appLog)
	coordinator := chathub.NewDeliveryCoordinator(broker, store, runner, m, appLog)
	hub := chathub.NewManagerService(coordinator, m, appLog)
	presence := chathub.NewPresenceService(store, appLog)
	matcher := chathub.NewMatcherService(store, cfg.Matchmaking.CandidateBatch, m, appLog)
	sessions := chathub.NewSessionService(store, coordinator, m, appLog)

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterOptions{
		Limit: rate.Limit(cfg.Security.RateLimit),
		Burst: cfg.Security.RateLimitBurst,
	})
	stopCleanup := make(chan struct{})
	go limiter.Cleanup(time.Minute, stopCleanup)

	// 3. Routing
	h := handler.NewHandler(
		presence,
		matcher,
		sessions,
		hub,
		middleware.NewTokenService(cfg.JWT.Secret, cfg.JWT.Expiry),
		readiness{store: store, redis: rdb},
		cfg.Security.AllowedOrigins,
	)
	r := handler.NewRouter(h, handler.RouterConfig{
		APIPrefix:      cfg.Server.APIPrefix,
		AllowedOrigins: cfg.Security.AllowedOrigins,
		RateLimiter:    limiter,
		Metrics:        m,
		Logger:         appLog,
	})

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		appLog.Info("http server listening", "addr", server.Addr, "push_backend", cfg.Delivery.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 4. Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"server": func(ctx context.Context) error {
				close(stopCleanup)
				err := server.Shutdown(ctx)
				stopHub()
				errs := []error{err, broker.Close()}
				if rdb != nil {
					errs = append(errs, rdb.Close())
				}
				if sqlDB, dbErr := db.DB(); dbErr == nil {
					errs = append(errs, sqlDB.Close())
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	appLog.Info("server exited", "code", exitCode)
	os.Exit(exitCode)
}
