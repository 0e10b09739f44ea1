package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/qs3c/promo_credit_server/config"
	"github.com/qs3c/promo_credit_server/internal/database"
	"github.com/qs3c/promo_credit_server/internal/model/dto"
	"github.com/qs3c/promo_credit_server/internal/pkg/lock"
	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
	"github.com/qs3c/promo_credit_server/internal/repository"
	"github.com/qs3c/promo_credit_server/internal/service"
)

var (
	configPath = flag.String("config", "config.yaml", "config file path")
	orgID      = flag.Int64("org", 0, "audit a single organization (0 = all)")
	repair     = flag.Bool("repair", false, "complete half-applied cancellations before reporting")
)

func main() {
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

	db, err := database.Open(&cfg.Database)
	if err != nil {
		zl.Fatal("failed to connect database", zap.Error(err))
	}

	orgRepo := repository.NewOrganizationRepository(db)
	promotionRepo := repository.NewPromotionRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	guard := service.NewUserAccessGuard(repository.NewUserRepository(db), cfg.Access)
	ledgerService := service.NewLedgerService(ledgerRepo, orgRepo, repository.NewUnitOfWork(db),
		lock.NewLocalLocker(), guard, nil, nil, zl)
	promotionService := service.NewPromotionService(repository.NewPackageRepository(db), promotionRepo,
		orgRepo, ledgerService, guard, cfg.Promotion, nil, zl)
	audit := service.NewAuditService(orgRepo, promotionRepo, ledgerRepo, promotionService, zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reports, err := run(ctx, audit, orgRepo, zl)
	if err != nil {
		zl.Error("audit failed", zap.Error(err))
		zl.Sync()
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		zl.Error("failed to write report", zap.Error(err))
	}

	issues := 0
	for _, r := range reports {
		issues += len(r.Issues)
	}
	zl.Info("audit finished", zap.Int("organizations", len(reports)), zap.Int("issues", issues))
	zl.Sync()

	if issues > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, audit *service.AuditService, orgRepo *repository.OrganizationRepository, zl *zap.Logger) ([]*dto.AuditReport, error) {
	ids := []int64{*orgID}
	if *orgID == 0 {
		var err error
		if ids, err = orgRepo.ListIDs(); err != nil {
			return nil, err
		}
	}

	reports := make([]*dto.AuditReport, 0, len(ids))
	for _, id := range ids {
		if *repair {
			n, err := audit.Repair(ctx, id)
			if err != nil {
				return reports, err
			}
			if n > 0 {
				zl.Info("repaired cancellations", zap.Int64("organization_id", id), zap.Int("count", n))
			}
		}
		report, err := audit.Audit(ctx, id)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
