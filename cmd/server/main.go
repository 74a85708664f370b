package main

import (
	"context"
	"errors"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/adapters/handler/http"
	redislock "github.com/Blint-Studio/sistema-elecciones-sub001/internal/adapters/lock/redis"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/adapters/repository/postgres"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/config"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/services"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/logging"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepTimeout = 10 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("failed to reach database", zap.Error(err))
	}

	tallyRepo := postgres.NewTallyRepository(db)
	aggregateRepo := postgres.NewAggregateRepository(db)
	tableRepo := postgres.NewTableRepository(db)

	var locker ports.Locker
	health := http.HealthCheck(db.PingContext)
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		locker = redislock.NewLocker(rdb, cfg.RepairLockTTL)
		health = func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		}
	default:
		locker = postgres.NewAdvisoryLocker(db)
	}

	validator := services.NewTallyValidator(tableRepo, tallyRepo, cfg.Categories)
	reconciler := services.NewReconciler(tallyRepo, aggregateRepo, logger, services.ReconcilerConfig{
		Workers: cfg.ReconcileWorkers,
		Retry:   services.DefaultRetryConfig(),
	})
	tallyService := services.NewTallyService(tallyRepo, tableRepo, validator, reconciler, logger)
	repairService := services.NewRepairService(tableRepo, reconciler, locker, logger, services.RepairConfig{
		MaxTablesCreated: cfg.MaxTablesCreated,
	})

	handler := http.NewHandler(
		http.NewTallyHandler(tallyService, logger),
		http.NewAdminHandler(reconciler, repairService, logger),
		health,
		logger,
	)
	server := &stdhttp.Server{Addr: cfg.Addr, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var scheduler *cron.Cron
	if cfg.ReconcileCron != "" {
		scheduler = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
		_, err := scheduler.AddFunc(cfg.ReconcileCron, func() {
			sctx, cancel := context.WithTimeout(ctx, sweepTimeout)
			defer cancel()
			if _, err := reconciler.ReconcileAll(sctx); err != nil {
				logger.Error("scheduled reconcile sweep failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("invalid RECONCILE_CRON", zap.String("spec", cfg.ReconcileCron), zap.Error(err))
		}
		scheduler.Start()
		logger.Info("reconcile sweep scheduled", zap.String("spec", cfg.ReconcileCron))
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("lock_backend", cfg.LockBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("gracefully shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
