package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/internal/model"
	"github.com/qs3c/promo_credit_server/internal/model/dto"
	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
	"github.com/qs3c/promo_credit_server/internal/repository"
)

// AuditService 校验账本与推广状态的一致性
type AuditService struct {
	orgRepo       *repository.OrganizationRepository
	promotionRepo *repository.PromotionRepository
	ledgerRepo    *repository.LedgerRepository
	promotions    *PromotionService
	logger        *zap.Logger
}

func NewAuditService(
	orgRepo *repository.OrganizationRepository,
	promotionRepo *repository.PromotionRepository,
	ledgerRepo *repository.LedgerRepository,
	promotions *PromotionService,
	log *zap.Logger,
) *AuditService {
	return &AuditService{
		orgRepo:       orgRepo,
		promotionRepo: promotionRepo,
		ledgerRepo:    ledgerRepo,
		promotions:    promotions,
		logger:        logger.OrNop(log),
	}
}

// AuditAll 审计全部组织
func (s *AuditService) AuditAll(ctx context.Context) ([]*dto.AuditReport, error) {
	ids, err := s.orgRepo.ListIDs()
	if err != nil {
		return nil, err
	}

	reports := make([]*dto.AuditReport, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := s.Audit(ctx, id)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Audit 审计单个组织
func (s *AuditService) Audit(ctx context.Context, organizationID int64) (*dto.AuditReport, error) {
	if _, err := s.orgRepo.GetByID(organizationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}

	entries, err := s.ledgerRepo.ListAllByOrganization(organizationID)
	if err != nil {
		return nil, err
	}
	promotions, err := s.promotionRepo.ListAllByOrganization(organizationID)
	if err != nil {
		return nil, err
	}

	report := &dto.AuditReport{
		OrganizationID: organizationID,
		Entries:        len(entries),
		Issues:         []*dto.AuditIssue{},
	}

	purchases := make(map[int64][]*model.CreditTransaction)
	refunds := make(map[int64][]*model.CreditTransaction)

	var running int64
	negative := false
	for _, e := range entries {
		running += e.Amount
		if e.BalanceAfter != running {
			report.Issues = append(report.Issues, &dto.AuditIssue{
				Type:           dto.AuditBalanceChain,
				OrganizationID: organizationID,
				TransactionID:  int64Ptr(e.ID),
				Detail:         fmt.Sprintf("balance_after %d, running sum %d", e.BalanceAfter, running),
			})
		}
		if running < 0 && !negative {
			negative = true
			report.Issues = append(report.Issues, &dto.AuditIssue{
				Type:           dto.AuditNegativeBalance,
				OrganizationID: organizationID,
				TransactionID:  int64Ptr(e.ID),
				Detail:         fmt.Sprintf("balance dropped to %d", running),
			})
		}

		if e.RelatedPromotionID == nil {
			continue
		}
		switch e.Kind {
		case model.CreditKindPurchase:
			purchases[*e.RelatedPromotionID] = append(purchases[*e.RelatedPromotionID], e)
		case model.CreditKindRefund:
			refunds[*e.RelatedPromotionID] = append(refunds[*e.RelatedPromotionID], e)
		}
	}
	report.Balance = running

	for _, p := range promotions {
		report.Issues = append(report.Issues, checkPromotion(p, purchases[p.ID], refunds[p.ID])...)
	}

	if len(report.Issues) > 0 {
		s.logger.Warn("ledger audit found issues",
			zap.Int64("organization_id", organizationID),
			zap.Int("issues", len(report.Issues)))
	}
	return report, nil
}

func checkPromotion(p *model.Promotion, purchases, refunds []*model.CreditTransaction) []*dto.AuditIssue {
	var issues []*dto.AuditIssue
	issue := func(kind, detail string) {
		issues = append(issues, &dto.AuditIssue{
			Type:           kind,
			OrganizationID: p.OrganizationID,
			PromotionID:    int64Ptr(p.ID),
			Detail:         detail,
		})
	}

	switch {
	case len(purchases) != 1:
		issue(dto.AuditPurchaseMismatch, fmt.Sprintf("%d purchase entries", len(purchases)))
	case purchases[0].Amount != -p.CostInCredits:
		issue(dto.AuditPurchaseMismatch, fmt.Sprintf("debited %d, cost %d", -purchases[0].Amount, p.CostInCredits))
	}

	if len(refunds) > 1 {
		issue(dto.AuditDuplicateRefund, fmt.Sprintf("%d refund entries", len(refunds)))
	}

	switch p.Status {
	case model.PromotionStatusCancelled:
		if len(refunds) == 0 {
			issue(dto.AuditMissingRefund, "cancelled without refund entry")
		}
	case model.PromotionStatusPending, model.PromotionStatusActive:
		if len(refunds) > 0 {
			issue(dto.AuditHalfAppliedCancel, "refund recorded but status is "+p.Status)
		}
	}
	return issues
}

// Repair 修复组织内半完成的取消，返回修复数量
func (s *AuditService) Repair(ctx context.Context, organizationID int64) (int, error) {
	report, err := s.Audit(ctx, organizationID)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, issue := range report.Issues {
		if issue.Type != dto.AuditHalfAppliedCancel || issue.PromotionID == nil {
			continue
		}
		ok, err := s.promotions.RepairCancel(ctx, *issue.PromotionID)
		if err != nil {
			return repaired, err
		}
		if ok {
			repaired++
		}
	}
	return repaired, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
