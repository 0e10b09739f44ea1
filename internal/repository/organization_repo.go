package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/internal/model"
)

type OrganizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Create(org *model.Organization) error {
	return r.db.Create(org).Error
}

func (r *OrganizationRepository) GetByID(id int64) (*model.Organization, error) {
	var org model.Organization
	err := r.db.Where("id = ?", id).First(&org).Error
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// ListIDs 获取全部组织ID
func (r *OrganizationRepository) ListIDs() ([]int64, error) {
	var ids []int64
	err := r.db.Model(&model.Organization{}).Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}
