package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/config"
	"github.com/qs3c/promo_credit_server/internal/model"
	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
	"github.com/qs3c/promo_credit_server/internal/pkg/metrics"
	"github.com/qs3c/promo_credit_server/internal/repository"
)

const activePackagesCacheKey = "active"

// PurchaseInput 购买推广参数，PackageRef 为套餐ID或slug
type PurchaseInput struct {
	OrganizationID int64
	PackageRef     string
	CallerID       int64
	StartAt        *time.Time
	RequestID      string
}

// PurchaseResult 购买结果，Balance 为扣费后的余额
type PurchaseResult struct {
	Promotion *model.Promotion
	Balance   int64
	Replayed  bool
}

// CancelInput 取消推广参数
type CancelInput struct {
	PromotionID int64
	CallerID    int64
	Reason      string
	RequestID   string
}

// CancelResult 取消结果
type CancelResult struct {
	CreditsRefunded int64
	NewBalance      int64
	Replayed        bool
}

// RefundKey 推广退款流水的幂等键，每个推广最多一次退款
func RefundKey(promotionID int64) string {
	return fmt.Sprintf("promotion:%d:refund", promotionID)
}

type PromotionService struct {
	pkgRepo       *repository.PackageRepository
	promotionRepo *repository.PromotionRepository
	orgRepo       *repository.OrganizationRepository
	ledger        *LedgerService
	guard         AccessGuard
	cfg           config.PromotionConfig
	packages      *expirable.LRU[string, []*model.PromotionPackage]
	observer      *metrics.Observer
	logger        *zap.Logger
	now           func() time.Time
}

func NewPromotionService(
	pkgRepo *repository.PackageRepository,
	promotionRepo *repository.PromotionRepository,
	orgRepo *repository.OrganizationRepository,
	ledger *LedgerService,
	guard AccessGuard,
	cfg config.PromotionConfig,
	observer *metrics.Observer,
	log *zap.Logger,
) *PromotionService {
	return &PromotionService{
		pkgRepo:       pkgRepo,
		promotionRepo: promotionRepo,
		orgRepo:       orgRepo,
		ledger:        ledger,
		guard:         guard,
		cfg:           cfg,
		packages:      expirable.NewLRU[string, []*model.PromotionPackage](cfg.PackageCacheSize, nil, cfg.PackageCacheTTL),
		observer:      observer,
		logger:        logger.OrNop(log),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ListActivePackages 获取上架套餐，短时缓存
func (s *PromotionService) ListActivePackages(ctx context.Context) ([]*model.PromotionPackage, error) {
	if pkgs, ok := s.packages.Get(activePackagesCacheKey); ok {
		return pkgs, nil
	}

	pkgs, err := s.pkgRepo.ListActive()
	if err != nil {
		return nil, err
	}

	s.packages.Add(activePackagesCacheKey, pkgs)
	return pkgs, nil
}

// Purchase 购买推广：创建推广并扣除积分，二者在同一事务内提交
func (s *PromotionService) Purchase(ctx context.Context, in *PurchaseInput) (*PurchaseResult, error) {
	started := time.Now()

	result, err := s.purchase(ctx, in)
	replayed := result != nil && result.Replayed
	s.observer.RecordOperation("purchase", outcomeOf(err, replayed), time.Since(started))
	if err != nil {
		return nil, err
	}

	s.logger.Info("promotion purchased",
		zap.Int64("organization_id", in.OrganizationID),
		zap.Int64("promotion_id", result.Promotion.ID),
		zap.Int64("cost", result.Promotion.CostInCredits),
		zap.Int64("balance", result.Balance),
		zap.Bool("replayed", replayed))
	return result, nil
}

func (s *PromotionService) purchase(ctx context.Context, in *PurchaseInput) (*PurchaseResult, error) {
	caller, err := s.guard.ResolveCaller(in.CallerID)
	if err != nil {
		return nil, err
	}
	if !s.guard.AuthorizeOrgAction(caller, in.OrganizationID) {
		return nil, ErrForbidden
	}

	if err := s.ledger.ensureOrganization(in.OrganizationID); err != nil {
		return nil, err
	}

	pkg, err := s.pkgRepo.FindByIDOrSlug(in.PackageRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	if !pkg.IsActive {
		return nil, ErrPackageNotFound
	}
	if pkg.DurationDays <= 0 || pkg.CostInCredits < 0 {
		return nil, &DataIntegrityError{Entity: "promotion_package", ID: pkg.ID, Reason: "invalid duration or cost"}
	}

	now := s.now()
	startAt, err := s.resolveStartAt(in.StartAt, now)
	if err != nil {
		return nil, err
	}
	key := s.purchaseKey(in, pkg.ID, now)

	unlock, err := s.ledger.lockOrganization(ctx, in.OrganizationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *PurchaseResult
	var debit *model.CreditTransaction
	err = s.ledger.inTx(ctx, func(tx *repository.TxRepositories) error {
		existing, err := tx.Ledger.GetByIdempotencyKey(in.OrganizationID, key)
		if err == nil {
			promotion, err := s.replayedPurchase(tx, existing)
			if err != nil {
				return err
			}
			result = &PurchaseResult{Promotion: promotion, Balance: existing.BalanceAfter, Replayed: true}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		status := model.PromotionStatusActive
		if startAt.After(now) {
			status = model.PromotionStatusPending
		}

		promotion := &model.Promotion{
			OrganizationID: in.OrganizationID,
			PackageID:      pkg.ID,
			Status:         status,
			StartAt:        startAt,
			EndAt:          startAt.Add(time.Duration(pkg.DurationDays) * 24 * time.Hour),
			DurationDays:   pkg.DurationDays,
			CostInCredits:  pkg.CostInCredits,
			AutoRenew:      pkg.AutoRenewalDefault,
			PurchasedBy:    caller.ID,
		}
		if err := tx.Promotions.Create(promotion); err != nil {
			return fmt.Errorf("failed to create promotion: %w", err)
		}

		entry, _, err := s.ledger.appendInTx(tx, &EntryInput{
			OrganizationID:     in.OrganizationID,
			Amount:             -pkg.CostInCredits,
			Kind:               model.CreditKindPurchase,
			RelatedPromotionID: &promotion.ID,
			IdempotencyKey:     key,
			Description:        "购买推广套餐 " + pkg.Name,
			CreatedBy:          caller.ID,
			At:                 now,
		})
		if err != nil {
			return err
		}

		promotion.Package = pkg
		debit = entry
		result = &PurchaseResult{Promotion: promotion, Balance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.ledger.afterCommit(ctx, debit, false)
	return result, nil
}

func (s *PromotionService) replayedPurchase(tx *repository.TxRepositories, entry *model.CreditTransaction) (*model.Promotion, error) {
	if entry.Kind != model.CreditKindPurchase || entry.RelatedPromotionID == nil {
		return nil, &DataIntegrityError{Entity: "credit_transaction", ID: entry.ID, Reason: "purchase key bound to a non-purchase entry"}
	}

	promotion, err := tx.Promotions.GetByIDWithPackage(*entry.RelatedPromotionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &DataIntegrityError{Entity: "credit_transaction", ID: entry.ID, Reason: "related promotion missing"}
		}
		return nil, err
	}
	return promotion, nil
}

// resolveStartAt 过去的开始时间按当前时间处理
func (s *PromotionService) resolveStartAt(requested *time.Time, now time.Time) (time.Time, error) {
	if requested == nil || !requested.After(now) {
		return now, nil
	}
	if requested.After(now.Add(s.cfg.MaxScheduleAhead)) {
		return time.Time{}, ErrInvalidStartTime
	}
	return requested.UTC(), nil
}

// purchaseKey 有请求号时按请求号去重，否则按时间窗口去重
func (s *PromotionService) purchaseKey(in *PurchaseInput, packageID int64, now time.Time) string {
	if in.RequestID != "" {
		return "purchase:" + in.RequestID
	}
	window := s.cfg.PurchaseDedupWindow
	if window <= 0 {
		window = time.Minute
	}
	return "purchase:" + strconv.FormatInt(in.OrganizationID, 10) +
		":" + strconv.FormatInt(packageID, 10) +
		":" + strconv.FormatInt(now.Truncate(window).Unix(), 10)
}

// Cancel 取消推广并按剩余时长退款
func (s *PromotionService) Cancel(ctx context.Context, in *CancelInput) (*CancelResult, error) {
	started := time.Now()

	result, err := s.cancel(ctx, in)
	replayed := result != nil && result.Replayed
	s.observer.RecordOperation("cancel", outcomeOf(err, replayed), time.Since(started))
	if err != nil {
		return nil, err
	}

	s.logger.Info("promotion cancelled",
		zap.Int64("promotion_id", in.PromotionID),
		zap.Int64("refunded", result.CreditsRefunded),
		zap.Int64("balance", result.NewBalance),
		zap.Bool("replayed", replayed))
	return result, nil
}

func (s *PromotionService) cancel(ctx context.Context, in *CancelInput) (*CancelResult, error) {
	promotion, err := s.promotionRepo.GetByID(in.PromotionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPromotionNotFound
		}
		return nil, err
	}

	caller, err := s.guard.ResolveCaller(in.CallerID)
	if err != nil {
		return nil, err
	}
	if !s.guard.AuthorizeOrgAction(caller, promotion.OrganizationID) {
		return nil, ErrForbidden
	}

	unlock, err := s.ledger.lockOrganization(ctx, promotion.OrganizationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	key := RefundKey(promotion.ID)

	var result *CancelResult
	var refund *model.CreditTransaction
	err = s.ledger.inTx(ctx, func(tx *repository.TxRepositories) error {
		current, err := tx.Promotions.GetByID(promotion.ID)
		if err != nil {
			return err
		}

		existing, err := tx.Ledger.GetByIdempotencyKey(current.OrganizationID, key)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		switch {
		case current.Status == model.PromotionStatusCancelled:
			if existing != nil && in.RequestID != "" && in.RequestID == current.CancelRequestID {
				result = &CancelResult{CreditsRefunded: existing.Amount, NewBalance: existing.BalanceAfter, Replayed: true}
				return nil
			}
			return ErrInvalidState
		case current.IsCancellable() && existing != nil:
			// 退款已入账但状态未更新
			if err := finishCancel(tx, current, existing, in.RequestID); err != nil {
				return err
			}
			result = &CancelResult{CreditsRefunded: existing.Amount, NewBalance: existing.BalanceAfter, Replayed: true}
			return nil
		case !current.IsCancellable(), !now.Before(current.EndAt):
			return ErrPromotionEnded
		}

		amount, err := ComputeRefund(current, now)
		if err != nil {
			return err
		}

		entry, _, err := s.ledger.appendInTx(tx, &EntryInput{
			OrganizationID:     current.OrganizationID,
			Amount:             amount,
			Kind:               model.CreditKindRefund,
			RelatedPromotionID: &current.ID,
			IdempotencyKey:     key,
			Description:        in.Reason,
			CreatedBy:          caller.ID,
			At:                 now,
		})
		if err != nil {
			return err
		}

		if err := finishCancel(tx, current, entry, in.RequestID); err != nil {
			return err
		}

		refund = entry
		result = &CancelResult{CreditsRefunded: amount, NewBalance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.ledger.afterCommit(ctx, refund, false)
	return result, nil
}

// finishCancel 以退款流水为准写入取消状态
func finishCancel(tx *repository.TxRepositories, promotion *model.Promotion, refund *model.CreditTransaction, requestID string) error {
	cancelledAt := refund.CreatedAt
	if !cancelledAt.Before(promotion.EndAt) {
		return &DataIntegrityError{Entity: "promotion", ID: promotion.ID, Reason: "refund recorded after end_at"}
	}

	ok, err := tx.Promotions.TransitionStatus(promotion.ID, model.CancellableStatuses, map[string]interface{}{
		"status":            model.PromotionStatusCancelled,
		"cancelled_at":      cancelledAt,
		"cancelled_by":      refund.CreatedBy,
		"cancel_reason":     refund.Description,
		"cancel_request_id": requestID,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}
	return nil
}

// RepairCancel 补全退款已入账但状态未更新的取消，返回是否修复
func (s *PromotionService) RepairCancel(ctx context.Context, promotionID int64) (bool, error) {
	promotion, err := s.promotionRepo.GetByID(promotionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrPromotionNotFound
		}
		return false, err
	}

	unlock, err := s.ledger.lockOrganization(ctx, promotion.OrganizationID)
	if err != nil {
		return false, err
	}
	defer unlock()

	repaired := false
	err = s.ledger.inTx(ctx, func(tx *repository.TxRepositories) error {
		current, err := tx.Promotions.GetByID(promotionID)
		if err != nil {
			return err
		}
		if !current.IsCancellable() {
			return nil
		}

		refund, err := tx.Ledger.GetByIdempotencyKey(current.OrganizationID, RefundKey(current.ID))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		// 多条退款需人工核对，不自动补全
		refunds, err := tx.Ledger.CountByPromotion(current.ID, model.CreditKindRefund)
		if err != nil {
			return err
		}
		if refunds > 1 {
			return &DataIntegrityError{Entity: "promotion", ID: current.ID, Reason: fmt.Sprintf("%d refund entries", refunds)}
		}

		if err := finishCancel(tx, current, refund, ""); err != nil {
			return err
		}
		repaired = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if repaired {
		s.logger.Warn("repaired half-applied cancellation", zap.Int64("promotion_id", promotionID))
	}
	return repaired, nil
}

// Get 获取推广详情
func (s *PromotionService) Get(ctx context.Context, promotionID, callerID int64) (*model.Promotion, error) {
	promotion, err := s.promotionRepo.GetByIDWithPackage(promotionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPromotionNotFound
		}
		return nil, err
	}

	caller, err := s.guard.ResolveCaller(callerID)
	if err != nil {
		return nil, err
	}
	if !s.guard.AuthorizeOrgAction(caller, promotion.OrganizationID) {
		return nil, ErrForbidden
	}

	return promotion, nil
}

// ListByOrganization 分页获取组织的推广
func (s *PromotionService) ListByOrganization(ctx context.Context, organizationID, callerID int64, page, pageSize int) ([]*model.Promotion, int64, error) {
	if err := s.ledger.authorize(organizationID, callerID); err != nil {
		return nil, 0, err
	}
	return s.promotionRepo.ListByOrganization(organizationID, page, pageSize)
}

// ActivateDue 将到期开始的待生效推广置为生效
func (s *PromotionService) ActivateDue(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.ledger.uow.Do(ctx, func(tx *repository.TxRepositories) error {
		var err error
		count, err = tx.Promotions.ActivateDue(now)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.observer.RecordSweep("activate", count)
	if count > 0 {
		s.logger.Info("promotions activated", zap.Int64("count", count))
	}
	return count, nil
}

// ExpireDue 将已结束的推广置为过期，已取消的不受影响
func (s *PromotionService) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.ledger.uow.Do(ctx, func(tx *repository.TxRepositories) error {
		var err error
		count, err = tx.Promotions.ExpireDue(now)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.observer.RecordSweep("expire", count)
	if count > 0 {
		s.logger.Info("promotions expired", zap.Int64("count", count))
	}
	return count, nil
}
