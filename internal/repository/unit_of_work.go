package repository

import (
	"context"

	"gorm.io/gorm"
)

// TxRepositories 绑定到同一事务的仓储
type TxRepositories struct {
	Organizations *OrganizationRepository
	Packages      *PackageRepository
	Promotions    *PromotionRepository
	Ledger        *LedgerRepository
}

// UnitOfWork 在一个数据库事务内执行多仓储写入
type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do fn 返回错误时整体回滚
func (u *UnitOfWork) Do(ctx context.Context, fn func(tx *TxRepositories) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&TxRepositories{
			Organizations: NewOrganizationRepository(tx),
			Packages:      NewPackageRepository(tx),
			Promotions:    NewPromotionRepository(tx),
			Ledger:        NewLedgerRepository(tx),
		})
	})
}
