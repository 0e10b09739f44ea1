package model

import (
	"time"
)

// PromotionPackage 推广套餐（目录项）
type PromotionPackage struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	Name               string    `gorm:"size:100;not null" json:"name"`
	Slug               string    `gorm:"size:100;uniqueIndex;not null" json:"slug"`
	DurationDays       int       `gorm:"not null" json:"duration_days"`
	CostInCredits      int64     `gorm:"not null;default:0" json:"cost_in_credits"`
	IsActive           bool      `gorm:"default:true;index" json:"is_active"`
	SortOrder          int       `gorm:"default:0;index" json:"sort_order"`
	Features           string    `gorm:"type:text" json:"features"` // JSON 数组
	AutoRenewalDefault bool      `gorm:"default:false" json:"auto_renewal_default"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (PromotionPackage) TableName() string {
	return "promotion_packages"
}
