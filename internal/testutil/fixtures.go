package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/internal/model"
)

var seq int64

func nextSeq() int64 {
	return atomic.AddInt64(&seq, 1)
}

// TestOrganization 创建测试组织
func TestOrganization(t *testing.T, db *gorm.DB, opts ...func(*model.Organization)) *model.Organization {
	t.Helper()

	n := nextSeq()
	org := &model.Organization{
		Name: fmt.Sprintf("Test Org %d", n),
		Slug: fmt.Sprintf("test-org-%d", n),
	}

	for _, opt := range opts {
		opt(org)
	}

	if err := db.Create(org).Error; err != nil {
		t.Fatalf("Failed to create test organization: %v", err)
	}

	return org
}

// TestUser 创建测试用户，默认为普通成员
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	user := &model.User{
		Username: fmt.Sprintf("testuser_%d", nextSeq()),
		Role:     model.RoleMember,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithRole 设置角色
func WithRole(role string) func(*model.User) {
	return func(u *model.User) {
		u.Role = role
	}
}

// WithOrganization 设置所属组织
func WithOrganization(orgID int64) func(*model.User) {
	return func(u *model.User) {
		u.OrganizationID = &orgID
	}
}

// TestSponsor 创建组织的推广管理者
func TestSponsor(t *testing.T, db *gorm.DB, orgID int64) *model.User {
	t.Helper()
	return TestUser(t, db, WithRole(model.RoleSponsor), WithOrganization(orgID))
}

// TestPackage 创建测试套餐，默认 10 天 40 积分
func TestPackage(t *testing.T, db *gorm.DB, opts ...func(*model.PromotionPackage)) *model.PromotionPackage {
	t.Helper()

	n := nextSeq()
	pkg := &model.PromotionPackage{
		Name:          fmt.Sprintf("Package %d", n),
		Slug:          fmt.Sprintf("package-%d", n),
		DurationDays:  10,
		CostInCredits: 40,
		IsActive:      true,
		Features:      `["homepage"]`,
	}

	for _, opt := range opts {
		opt(pkg)
	}

	if err := db.Create(pkg).Error; err != nil {
		t.Fatalf("Failed to create test package: %v", err)
	}

	// gorm 对 false 零值使用默认值 true，需单独更新
	if !pkg.IsActive {
		if err := db.Model(pkg).Update("is_active", false).Error; err != nil {
			t.Fatalf("Failed to deactivate test package: %v", err)
		}
	}

	return pkg
}

// WithCost 设置套餐价格
func WithCost(cost int64) func(*model.PromotionPackage) {
	return func(p *model.PromotionPackage) {
		p.CostInCredits = cost
	}
}

// WithDuration 设置套餐时长（天）
func WithDuration(days int) func(*model.PromotionPackage) {
	return func(p *model.PromotionPackage) {
		p.DurationDays = days
	}
}

// WithSlug 设置套餐slug
func WithSlug(slug string) func(*model.PromotionPackage) {
	return func(p *model.PromotionPackage) {
		p.Slug = slug
	}
}

// WithSortOrder 设置排序
func WithSortOrder(order int) func(*model.PromotionPackage) {
	return func(p *model.PromotionPackage) {
		p.SortOrder = order
	}
}

// WithInactive 下架套餐
func WithInactive() func(*model.PromotionPackage) {
	return func(p *model.PromotionPackage) {
		p.IsActive = false
	}
}

// TestPromotion 直接写入一条推广记录（不经过账本）
func TestPromotion(t *testing.T, db *gorm.DB, orgID int64, pkg *model.PromotionPackage, startAt time.Time, status string) *model.Promotion {
	t.Helper()

	promotion := &model.Promotion{
		OrganizationID: orgID,
		PackageID:      pkg.ID,
		Status:         status,
		StartAt:        startAt,
		EndAt:          startAt.AddDate(0, 0, pkg.DurationDays),
		DurationDays:   pkg.DurationDays,
		CostInCredits:  pkg.CostInCredits,
		PurchasedBy:    1,
	}

	if err := db.Create(promotion).Error; err != nil {
		t.Fatalf("Failed to create test promotion: %v", err)
	}

	return promotion
}

// TestCredit 为组织入账一笔积分，balance_after 按当前流水之和计算
func TestCredit(t *testing.T, db *gorm.DB, orgID int64, amount int64) *model.CreditTransaction {
	t.Helper()

	var balance int64
	if err := db.Model(&model.CreditTransaction{}).
		Where("organization_id = ?", orgID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&balance).Error; err != nil {
		t.Fatalf("Failed to sum test credits: %v", err)
	}

	entry := &model.CreditTransaction{
		OrganizationID: orgID,
		Amount:         amount,
		Kind:           model.CreditKindAdjustment,
		IdempotencyKey: fmt.Sprintf("test-credit:%d", nextSeq()),
		BalanceAfter:   balance + amount,
		Description:    "test credit",
	}

	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("Failed to create test credit: %v", err)
	}

	return entry
}
