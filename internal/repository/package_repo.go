package repository

import (
	"errors"
	"strconv"

	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/internal/model"
)

type PackageRepository struct {
	db *gorm.DB
}

func NewPackageRepository(db *gorm.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) Create(pkg *model.PromotionPackage) error {
	return r.db.Create(pkg).Error
}

func (r *PackageRepository) GetByID(id int64) (*model.PromotionPackage, error) {
	var pkg model.PromotionPackage
	err := r.db.Where("id = ?", id).First(&pkg).Error
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// FindByIDOrSlug 按ID或slug查找套餐，纯数字时优先按ID匹配
func (r *PackageRepository) FindByIDOrSlug(ref string) (*model.PromotionPackage, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		pkg, err := r.GetByID(id)
		if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkg, err
		}
	}

	var pkg model.PromotionPackage
	err := r.db.Where("slug = ?", ref).First(&pkg).Error
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// ListActive 获取上架套餐，按 sort_order 排序
func (r *PackageRepository) ListActive() ([]*model.PromotionPackage, error) {
	var pkgs []*model.PromotionPackage
	err := r.db.Where("is_active = ?", true).
		Order("sort_order ASC").
		Order("id ASC").
		Find(&pkgs).Error
	return pkgs, err
}
