package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/qs3c/promo_credit_server/config"
	"github.com/qs3c/promo_credit_server/internal/api"
	"github.com/qs3c/promo_credit_server/internal/api/handler"
	"github.com/qs3c/promo_credit_server/internal/database"
	"github.com/qs3c/promo_credit_server/internal/pkg/lock"
	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
	"github.com/qs3c/promo_credit_server/internal/pkg/metrics"
	"github.com/qs3c/promo_credit_server/internal/pkg/pubsub"
	"github.com/qs3c/promo_credit_server/internal/repository"
	"github.com/qs3c/promo_credit_server/internal/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		zl.Fatal("failed to connect database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			zl.Fatal("failed to migrate database", zap.Error(err))
		}
	}
	zl.Info("database connected", zap.String("driver", cfg.Database.Driver))

	// 初始化 Redis（分布式锁或事件发布需要）
	var rdb *redis.Client
	if cfg.Redis.Enabled || cfg.Lock.Backend == "redis" {
		rdb, err = database.NewRedis(&cfg.Redis)
		if err != nil {
			zl.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		zl.Info("redis connected")
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.Backend == "redis" {
		locker = lock.NewRedisLocker(rdb, cfg.Lock.TTL, cfg.Lock.RetryInterval, zl)
	}

	var publisher *pubsub.Publisher
	if rdb != nil {
		publisher = pubsub.NewPublisher(rdb)
	}

	var (
		observer *metrics.Observer
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		observer, err = metrics.NewObserver(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
		if err != nil {
			zl.Fatal("failed to register metrics", zap.Error(err))
		}
		gatherer = prometheus.DefaultGatherer
	}

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	promotionRepo := repository.NewPromotionRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	uow := repository.NewUnitOfWork(db)

	// 初始化 Service
	guard := service.NewUserAccessGuard(userRepo, cfg.Access)
	ledgerService := service.NewLedgerService(ledgerRepo, orgRepo, uow, locker, guard, publisher, observer, zl)
	promotionService := service.NewPromotionService(packageRepo, promotionRepo, orgRepo, ledgerService, guard, cfg.Promotion, observer, zl)

	// 初始化 Router
	router := api.NewRouter(
		handler.NewPromotionHandler(promotionService, zl),
		handler.NewCreditHandler(ledgerService, zl),
		handler.NewHealthHandler(db, rdb),
		gatherer,
		cfg,
		zl,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router.Setup()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		zl.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server shutdown failed", zap.Error(err))
	}
}
