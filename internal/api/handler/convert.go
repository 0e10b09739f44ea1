package handler

import (
	"encoding/json"
	"time"

	"github.com/qs3c/promo_credit_server/internal/model"
	"github.com/qs3c/promo_credit_server/internal/model/dto"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toPackageItem(p *model.PromotionPackage) *dto.PackageItem {
	features := []string{}
	if p.Features != "" {
		_ = json.Unmarshal([]byte(p.Features), &features)
	}

	return &dto.PackageItem{
		ID:                 p.ID,
		Name:               p.Name,
		Slug:               p.Slug,
		DurationDays:       p.DurationDays,
		CostInCredits:      p.CostInCredits,
		SortOrder:          p.SortOrder,
		Features:           features,
		AutoRenewalDefault: p.AutoRenewalDefault,
	}
}

func toPromotionItem(p *model.Promotion) *dto.PromotionItem {
	item := &dto.PromotionItem{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		PackageID:      p.PackageID,
		Status:         p.Status,
		StartAt:        formatTime(p.StartAt),
		EndAt:          formatTime(p.EndAt),
		DurationDays:   p.DurationDays,
		CostInCredits:  p.CostInCredits,
		AutoRenew:      p.AutoRenew,
		CancelReason:   p.CancelReason,
		CreatedAt:      formatTime(p.CreatedAt),
	}
	if p.Package != nil {
		item.PackageName = p.Package.Name
	}
	if p.CancelledAt != nil {
		cancelledAt := formatTime(*p.CancelledAt)
		item.CancelledAt = &cancelledAt
	}
	return item
}

func toTransactionItem(e *model.CreditTransaction) *dto.TransactionItem {
	return &dto.TransactionItem{
		ID:                 e.ID,
		Amount:             e.Amount,
		Kind:               e.Kind,
		RelatedPromotionID: e.RelatedPromotionID,
		BalanceAfter:       e.BalanceAfter,
		Description:        e.Description,
		CreatedAt:          formatTime(e.CreatedAt),
	}
}
