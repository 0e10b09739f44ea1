package model

import (
	"time"
)

// 账本流水类型
const (
	CreditKindPurchase   = "purchase"
	CreditKindRefund     = "refund"
	CreditKindAdjustment = "adjustment"
)

// CreditTransaction 积分账本流水，只追加不修改
// amount 为负表示扣减，为正表示入账
type CreditTransaction struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	OrganizationID     int64     `gorm:"not null;uniqueIndex:idx_credit_org_key,priority:1;index" json:"organization_id"`
	Amount             int64     `gorm:"not null" json:"amount"`
	Kind               string    `gorm:"size:20;not null;index" json:"kind"`
	RelatedPromotionID *int64    `gorm:"index" json:"related_promotion_id,omitempty"`
	IdempotencyKey     string    `gorm:"size:191;not null;uniqueIndex:idx_credit_org_key,priority:2" json:"idempotency_key"`
	BalanceAfter       int64     `gorm:"not null" json:"balance_after"`
	Description        string    `gorm:"size:500" json:"description,omitempty"`
	CreatedBy          int64     `json:"created_by"`
	CreatedAt          time.Time `json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
