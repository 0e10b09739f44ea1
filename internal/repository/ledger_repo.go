package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/internal/model"
)

// LedgerRepository 积分账本，只提供追加与查询
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append 追加一条流水
func (r *LedgerRepository) Append(entry *model.CreditTransaction) error {
	return r.db.Create(entry).Error
}

// SumByOrganization 组织余额 = 全部流水金额之和
func (r *LedgerRepository) SumByOrganization(organizationID int64) (int64, error) {
	var sum int64
	err := r.db.Model(&model.CreditTransaction{}).
		Where("organization_id = ?", organizationID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *LedgerRepository) GetByIdempotencyKey(organizationID int64, key string) (*model.CreditTransaction, error) {
	var entry model.CreditTransaction
	err := r.db.Where("organization_id = ? AND idempotency_key = ?", organizationID, key).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByOrganization 分页获取流水，最新在前
func (r *LedgerRepository) ListByOrganization(organizationID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var entries []*model.CreditTransaction
	var total int64

	query := r.db.Model(&model.CreditTransaction{}).Where("organization_id = ?", organizationID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&entries).Error
	return entries, total, err
}

// ListAllByOrganization 按写入顺序获取组织全部流水（审计用）
func (r *LedgerRepository) ListAllByOrganization(organizationID int64) ([]*model.CreditTransaction, error) {
	var entries []*model.CreditTransaction
	err := r.db.Where("organization_id = ?", organizationID).Order("id ASC").Find(&entries).Error
	return entries, err
}

// CountByPromotion 统计某推广某类流水数量
func (r *LedgerRepository) CountByPromotion(promotionID int64, kind string) (int64, error) {
	var count int64
	err := r.db.Model(&model.CreditTransaction{}).
		Where("related_promotion_id = ? AND kind = ?", promotionID, kind).
		Count(&count).Error
	return count, err
}
