package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/promo_credit_server/config"
	"github.com/qs3c/promo_credit_server/internal/database"
	"github.com/qs3c/promo_credit_server/internal/pkg/cron"
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

	// 初始化 Redis（可选）
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.NewRedis(&cfg.Redis)
		if err != nil {
			zl.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	var observer *metrics.Observer
	if cfg.Metrics.Enabled {
		observer, err = metrics.NewObserver(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
		if err != nil {
			zl.Fatal("failed to register metrics", zap.Error(err))
		}
	}

	orgRepo := repository.NewOrganizationRepository(db)
	guard := service.NewUserAccessGuard(repository.NewUserRepository(db), cfg.Access)
	ledgerService := service.NewLedgerService(repository.NewLedgerRepository(db), orgRepo, repository.NewUnitOfWork(db),
		lock.NewLocalLocker(), guard, nil, observer, zl)
	promotionService := service.NewPromotionService(repository.NewPackageRepository(db), repository.NewPromotionRepository(db),
		orgRepo, ledgerService, guard, cfg.Promotion, observer, zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// 生命周期定时任务
	g.Go(func() error {
		sweeper := cron.NewService(promotionService, cfg.Scheduler, zl)
		if err := sweeper.Start(); err != nil {
			return err
		}
		<-ctx.Done()
		sweeper.Stop()
		return nil
	})

	// 账本事件日志
	if rdb != nil {
		g.Go(func() error {
			subscriber := pubsub.NewSubscriber(rdb)
			err := subscriber.Subscribe(ctx, func(event *pubsub.LedgerEvent) {
				zl.Info("ledger event",
					zap.Int64("transaction_id", event.TransactionID),
					zap.Int64("organization_id", event.OrganizationID),
					zap.String("kind", event.Kind),
					zap.Int64("amount", event.Amount),
					zap.Int64("balance_after", event.BalanceAfter))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	zl.Info("worker started", zap.Bool("event_tail", rdb != nil))
	if err := g.Wait(); err != nil {
		zl.Error("worker stopped with error", zap.Error(err))
		return
	}
	zl.Info("worker shutdown complete")
}
