package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/config"
	"github.com/qs3c/promo_credit_server/internal/model"
	"github.com/qs3c/promo_credit_server/internal/pkg/lock"
	"github.com/qs3c/promo_credit_server/internal/pkg/metrics"
	"github.com/qs3c/promo_credit_server/internal/pkg/pubsub"
	"github.com/qs3c/promo_credit_server/internal/repository"
	"github.com/qs3c/promo_credit_server/internal/testutil"
)

type testEnv struct {
	db         *gorm.DB
	cfg        *config.Config
	registry   *prometheus.Registry
	ledgerRepo *repository.LedgerRepository
	ledger     *LedgerService
	promotions *PromotionService
	audit      *AuditService
	now        time.Time
}

type envOption func(*envDeps)

type envDeps struct {
	publisher *pubsub.Publisher
	locker    lock.Locker
	mysql     bool
}

func withPublisher(p *pubsub.Publisher) envOption {
	return func(d *envDeps) {
		d.publisher = p
	}
}

func withLocker(l lock.Locker) envOption {
	return func(d *envDeps) {
		d.locker = l
	}
}

// withMySQL 使用真实 MySQL，多连接下事务可并发执行
func withMySQL() envOption {
	return func(d *envDeps) {
		d.mysql = true
	}
}

func setupServices(t *testing.T, opts ...envOption) (*testEnv, func()) {
	t.Helper()

	deps := &envDeps{locker: lock.NewLocalLocker()}
	for _, opt := range opts {
		opt(deps)
	}

	var db *gorm.DB
	if deps.mysql {
		db = testutil.SetupTestDBWithMySQL(t)
	} else {
		db = testutil.SetupTestDB(t)
	}

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	reg := prometheus.NewRegistry()
	observer, err := metrics.NewObserver(cfg.Metrics.Namespace, reg)
	require.NoError(t, err)

	userRepo := repository.NewUserRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)
	pkgRepo := repository.NewPackageRepository(db)
	promotionRepo := repository.NewPromotionRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	uow := repository.NewUnitOfWork(db)

	guard := NewUserAccessGuard(userRepo, cfg.Access)
	ledger := NewLedgerService(ledgerRepo, orgRepo, uow, deps.locker, guard, deps.publisher, observer, nil)
	promotions := NewPromotionService(pkgRepo, promotionRepo, orgRepo, ledger, guard, cfg.Promotion, observer, nil)

	env := &testEnv{
		db:         db,
		cfg:        cfg,
		registry:   reg,
		ledgerRepo: ledgerRepo,
		ledger:     ledger,
		promotions: promotions,
		audit:      NewAuditService(orgRepo, promotionRepo, ledgerRepo, promotions, nil),
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	promotions.now = func() time.Time { return env.now }

	return env, func() {
		testutil.CleanupTestDB(t, db)
	}
}

// fundedOrg 创建带余额的组织及其推广管理者
func (e *testEnv) fundedOrg(t *testing.T, balance int64) (*model.Organization, *model.User) {
	t.Helper()

	org := testutil.TestOrganization(t, e.db)
	if balance != 0 {
		testutil.TestCredit(t, e.db, org.ID, balance)
	}
	return org, testutil.TestSponsor(t, e.db, org.ID)
}

func (e *testEnv) balance(t *testing.T, orgID int64) int64 {
	t.Helper()

	sum, err := e.ledgerRepo.SumByOrganization(orgID)
	require.NoError(t, err)
	return sum
}

func (e *testEnv) entries(t *testing.T, orgID int64) []*model.CreditTransaction {
	t.Helper()

	all, err := e.ledgerRepo.ListAllByOrganization(orgID)
	require.NoError(t, err)
	return all
}

func (e *testEnv) refundCount(t *testing.T, promotionID int64) int64 {
	t.Helper()

	count, err := e.ledgerRepo.CountByPromotion(promotionID, model.CreditKindRefund)
	require.NoError(t, err)
	return count
}

func (e *testEnv) promotion(t *testing.T, id int64) *model.Promotion {
	t.Helper()

	var p model.Promotion
	require.NoError(t, e.db.First(&p, id).Error)
	return &p
}
