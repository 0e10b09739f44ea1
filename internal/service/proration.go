package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/qs3c/promo_credit_server/internal/model"
)

// ComputeRefund 按剩余时长比例计算退款，向下取整
//
//	now <= start: 全额退款
//	now >= end:   0
//	其余:         floor(cost * (end - now) / (end - start))
func ComputeRefund(p *model.Promotion, now time.Time) (int64, error) {
	if !p.EndAt.After(p.StartAt) {
		return 0, &DataIntegrityError{Entity: "promotion", ID: p.ID, Reason: "end_at must be after start_at"}
	}
	if p.CostInCredits < 0 {
		return 0, &DataIntegrityError{Entity: "promotion", ID: p.ID, Reason: "negative cost_in_credits"}
	}

	if !now.After(p.StartAt) {
		return p.CostInCredits, nil
	}
	if !now.Before(p.EndAt) {
		return 0, nil
	}

	term := decimal.NewFromInt(int64(p.EndAt.Sub(p.StartAt)))
	remaining := decimal.NewFromInt(int64(p.EndAt.Sub(now)))

	q, _ := decimal.NewFromInt(p.CostInCredits).Mul(remaining).QuoRem(term, 0)
	return q.IntPart(), nil
}
