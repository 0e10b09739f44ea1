package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/internal/model"
	"github.com/qs3c/promo_credit_server/internal/pkg/lock"
	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
	"github.com/qs3c/promo_credit_server/internal/pkg/metrics"
	"github.com/qs3c/promo_credit_server/internal/pkg/pubsub"
	"github.com/qs3c/promo_credit_server/internal/repository"
)

// EntryInput 追加账本流水的参数
type EntryInput struct {
	OrganizationID     int64
	Amount             int64
	Kind               string
	RelatedPromotionID *int64
	IdempotencyKey     string
	Description        string
	CreatedBy          int64
	At                 time.Time // 为空时使用写入时间
}

// AdjustInput 管理员调整积分
type AdjustInput struct {
	OrganizationID int64
	Amount         int64
	Reason         string
	RequestID      string
	CallerID       int64
}

// LedgerService 组织积分账本
// 同一组织的写入在组织锁内串行执行，余额永不为负
type LedgerService struct {
	ledgerRepo *repository.LedgerRepository
	orgRepo    *repository.OrganizationRepository
	uow        *repository.UnitOfWork
	locker     lock.Locker
	guard      AccessGuard
	publisher  *pubsub.Publisher
	observer   *metrics.Observer
	logger     *zap.Logger
}

func NewLedgerService(
	ledgerRepo *repository.LedgerRepository,
	orgRepo *repository.OrganizationRepository,
	uow *repository.UnitOfWork,
	locker lock.Locker,
	guard AccessGuard,
	publisher *pubsub.Publisher,
	observer *metrics.Observer,
	log *zap.Logger,
) *LedgerService {
	return &LedgerService{
		ledgerRepo: ledgerRepo,
		orgRepo:    orgRepo,
		uow:        uow,
		locker:     locker,
		guard:      guard,
		publisher:  publisher,
		observer:   observer,
		logger:     logger.OrNop(log),
	}
}

// GetBalance 组织当前余额
func (s *LedgerService) GetBalance(ctx context.Context, organizationID int64) (int64, error) {
	var balance int64
	err := s.uow.Do(ctx, func(tx *repository.TxRepositories) error {
		var err error
		balance, err = tx.Ledger.SumByOrganization(organizationID)
		return err
	})
	return balance, err
}

// Balance 调用者查看组织余额
func (s *LedgerService) Balance(ctx context.Context, organizationID, callerID int64) (int64, error) {
	if err := s.authorize(organizationID, callerID); err != nil {
		return 0, err
	}
	return s.GetBalance(ctx, organizationID)
}

// AppendEntry 追加一条流水，幂等键已存在时返回原流水
func (s *LedgerService) AppendEntry(ctx context.Context, in *EntryInput) (*model.CreditTransaction, bool, error) {
	unlock, err := s.lockOrganization(ctx, in.OrganizationID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var entry *model.CreditTransaction
	var replayed bool
	err = s.inTx(ctx, func(tx *repository.TxRepositories) error {
		var err error
		entry, replayed, err = s.appendInTx(tx, in)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	s.afterCommit(ctx, entry, replayed)
	return entry, replayed, nil
}

// appendInTx 在调用方事务内追加流水，调用方须持有组织锁
func (s *LedgerService) appendInTx(tx *repository.TxRepositories, in *EntryInput) (*model.CreditTransaction, bool, error) {
	if in.IdempotencyKey == "" {
		return nil, false, errors.New("ledger entry requires an idempotency key")
	}

	existing, err := tx.Ledger.GetByIdempotencyKey(in.OrganizationID, in.IdempotencyKey)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	balance, err := tx.Ledger.SumByOrganization(in.OrganizationID)
	if err != nil {
		return nil, false, err
	}

	if in.Amount < 0 && balance+in.Amount < 0 {
		return nil, false, &InsufficientCreditsError{
			OrganizationID: in.OrganizationID,
			Balance:        balance,
			Required:       -in.Amount,
		}
	}

	entry := &model.CreditTransaction{
		OrganizationID:     in.OrganizationID,
		Amount:             in.Amount,
		Kind:               in.Kind,
		RelatedPromotionID: in.RelatedPromotionID,
		IdempotencyKey:     in.IdempotencyKey,
		BalanceAfter:       balance + in.Amount,
		Description:        in.Description,
		CreatedBy:          in.CreatedBy,
		CreatedAt:          in.At,
	}
	if err := tx.Ledger.Append(entry); err != nil {
		return nil, false, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return entry, false, nil
}

// inTx 执行事务，唯一索引冲突时重试一次，第二次执行会走重放分支
func (s *LedgerService) inTx(ctx context.Context, fn func(tx *repository.TxRepositories) error) error {
	err := s.uow.Do(ctx, fn)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		s.logger.Warn("idempotency key collided, retrying as replay")
		err = s.uow.Do(ctx, fn)
	}
	return err
}

func (s *LedgerService) lockOrganization(ctx context.Context, organizationID int64) (func(), error) {
	unlock, err := s.locker.Lock(ctx, lock.OrganizationKey(organizationID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock organization %d: %w", organizationID, err)
	}
	return unlock, nil
}

// afterCommit 提交后记录指标并发布事件，重放不重复发布
func (s *LedgerService) afterCommit(ctx context.Context, entry *model.CreditTransaction, replayed bool) {
	if entry == nil || replayed {
		return
	}

	s.observer.RecordCredits(entry.Kind, entry.Amount)

	err := s.publisher.PublishLedgerEvent(ctx, &pubsub.LedgerEvent{
		TransactionID:      entry.ID,
		OrganizationID:     entry.OrganizationID,
		Amount:             entry.Amount,
		Kind:               entry.Kind,
		RelatedPromotionID: entry.RelatedPromotionID,
		BalanceAfter:       entry.BalanceAfter,
		OccurredAt:         entry.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("failed to publish ledger event",
			zap.Int64("transaction_id", entry.ID),
			zap.Error(err))
	}
}

// ListTransactions 分页获取组织流水
func (s *LedgerService) ListTransactions(ctx context.Context, organizationID, callerID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	if err := s.authorize(organizationID, callerID); err != nil {
		return nil, 0, err
	}

	var entries []*model.CreditTransaction
	var total int64
	err := s.uow.Do(ctx, func(tx *repository.TxRepositories) error {
		var err error
		entries, total, err = tx.Ledger.ListByOrganization(organizationID, page, pageSize)
		return err
	})
	return entries, total, err
}

// Adjust 平台管理员调整组织积分
func (s *LedgerService) Adjust(ctx context.Context, in *AdjustInput) (*model.CreditTransaction, bool, error) {
	started := time.Now()

	entry, replayed, err := s.adjust(ctx, in)
	s.observer.RecordOperation("adjust", outcomeOf(err, replayed), time.Since(started))
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("credits adjusted",
		zap.Int64("organization_id", in.OrganizationID),
		zap.Int64("amount", entry.Amount),
		zap.Int64("balance_after", entry.BalanceAfter),
		zap.Int64("caller_id", in.CallerID),
		zap.Bool("replayed", replayed))
	return entry, replayed, nil
}

func (s *LedgerService) adjust(ctx context.Context, in *AdjustInput) (*model.CreditTransaction, bool, error) {
	if in.Amount == 0 {
		return nil, false, ErrInvalidAmount
	}
	// 请求号是幂等键，缺失时所有调整会共用同一个键
	if strings.TrimSpace(in.RequestID) == "" {
		return nil, false, ErrInvalidRequestID
	}

	caller, err := s.guard.ResolveCaller(in.CallerID)
	if err != nil {
		return nil, false, err
	}
	if !s.guard.IsElevated(caller) {
		return nil, false, ErrForbidden
	}

	if err := s.ensureOrganization(in.OrganizationID); err != nil {
		return nil, false, err
	}

	return s.AppendEntry(ctx, &EntryInput{
		OrganizationID: in.OrganizationID,
		Amount:         in.Amount,
		Kind:           model.CreditKindAdjustment,
		IdempotencyKey: "adjust:" + in.RequestID,
		Description:    in.Reason,
		CreatedBy:      caller.ID,
	})
}

func (s *LedgerService) authorize(organizationID, callerID int64) error {
	caller, err := s.guard.ResolveCaller(callerID)
	if err != nil {
		return err
	}
	if !s.guard.AuthorizeOrgAction(caller, organizationID) {
		return ErrForbidden
	}
	return s.ensureOrganization(organizationID)
}

func (s *LedgerService) ensureOrganization(organizationID int64) error {
	_, err := s.orgRepo.GetByID(organizationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrganizationNotFound
		}
		return err
	}
	return nil
}

// outcomeOf 指标结果标签
func outcomeOf(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomeSuccess
	case IsDomainError(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}
