package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/internal/model"
)

type PromotionRepository struct {
	db *gorm.DB
}

func NewPromotionRepository(db *gorm.DB) *PromotionRepository {
	return &PromotionRepository{db: db}
}

func (r *PromotionRepository) Create(promotion *model.Promotion) error {
	return r.db.Create(promotion).Error
}

func (r *PromotionRepository) GetByID(id int64) (*model.Promotion, error) {
	var promotion model.Promotion
	err := r.db.Where("id = ?", id).First(&promotion).Error
	if err != nil {
		return nil, err
	}
	return &promotion, nil
}

// GetByIDWithPackage 获取推广并预加载套餐
func (r *PromotionRepository) GetByIDWithPackage(id int64) (*model.Promotion, error) {
	var promotion model.Promotion
	err := r.db.Preload("Package").Where("id = ?", id).First(&promotion).Error
	if err != nil {
		return nil, err
	}
	return &promotion, nil
}

// TransitionStatus 仅当当前状态在 from 中时更新，返回是否更新成功
func (r *PromotionRepository) TransitionStatus(id int64, from []string, fields map[string]interface{}) (bool, error) {
	result := r.db.Model(&model.Promotion{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListByOrganization 分页获取组织的推广
func (r *PromotionRepository) ListByOrganization(organizationID int64, page, pageSize int) ([]*model.Promotion, int64, error) {
	var promotions []*model.Promotion
	var total int64

	query := r.db.Model(&model.Promotion{}).Where("organization_id = ?", organizationID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Preload("Package").
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&promotions).Error
	return promotions, total, err
}

// ListAllByOrganization 获取组织全部推广（审计用）
func (r *PromotionRepository) ListAllByOrganization(organizationID int64) ([]*model.Promotion, error) {
	var promotions []*model.Promotion
	err := r.db.Where("organization_id = ?", organizationID).Order("id ASC").Find(&promotions).Error
	return promotions, err
}

// ActivateDue 将已到开始时间的待生效推广置为生效
func (r *PromotionRepository) ActivateDue(now time.Time) (int64, error) {
	now = now.UTC() // 存储时间均为 UTC，sqlite 按字符串比较
	result := r.db.Model(&model.Promotion{}).
		Where("status = ? AND start_at <= ? AND end_at > ?", model.PromotionStatusPending, now, now).
		Update("status", model.PromotionStatusActive)
	return result.RowsAffected, result.Error
}

// ExpireDue 将已过结束时间且未取消的推广置为过期
func (r *PromotionRepository) ExpireDue(now time.Time) (int64, error) {
	now = now.UTC()
	result := r.db.Model(&model.Promotion{}).
		Where("status IN ? AND end_at <= ?", model.CancellableStatuses, now).
		Update("status", model.PromotionStatusExpired)
	return result.RowsAffected, result.Error
}
