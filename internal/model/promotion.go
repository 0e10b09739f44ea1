package model

import (
	"time"
)

// 推广状态
const (
	PromotionStatusPending   = "pending"
	PromotionStatusActive    = "active"
	PromotionStatusCancelled = "cancelled"
	PromotionStatusExpired   = "expired"
)

// CancellableStatuses 可取消的状态
var CancellableStatuses = []string{PromotionStatusPending, PromotionStatusActive}

// Promotion 已购买的推广实例，价格与时长在购买时从套餐快照
type Promotion struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	OrganizationID  int64      `gorm:"not null;index" json:"organization_id"`
	PackageID       int64      `gorm:"not null;index" json:"package_id"`
	Status          string     `gorm:"size:20;not null;index" json:"status"`
	StartAt         time.Time  `gorm:"not null;index" json:"start_at"`
	EndAt           time.Time  `gorm:"not null;index" json:"end_at"`
	DurationDays    int        `gorm:"not null" json:"duration_days"`
	CostInCredits   int64      `gorm:"not null" json:"cost_in_credits"`
	AutoRenew       bool       `gorm:"default:false" json:"auto_renew"`
	PurchasedBy     int64      `gorm:"not null" json:"purchased_by"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy     *int64     `json:"cancelled_by,omitempty"`
	CancelReason    string     `gorm:"size:500" json:"cancel_reason,omitempty"`
	CancelRequestID string     `gorm:"size:100" json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Package *PromotionPackage `gorm:"foreignKey:PackageID" json:"package,omitempty"`
}

func (Promotion) TableName() string {
	return "promotions"
}

// IsCancellable 是否处于可取消状态
func (p *Promotion) IsCancellable() bool {
	return p.Status == PromotionStatusPending || p.Status == PromotionStatusActive
}
