package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/promo_credit_server/config"
	"github.com/qs3c/promo_credit_server/internal/repository"
)

// Caller 已认证的调用者
type Caller struct {
	ID             int64
	Role           string
	OrganizationID *int64
}

// AccessGuard 调用者解析与组织级授权
type AccessGuard interface {
	ResolveCaller(userID int64) (*Caller, error)
	AuthorizeOrgAction(caller *Caller, organizationID int64) bool
	IsElevated(caller *Caller) bool
}

// UserAccessGuard 基于本地用户表的授权实现
type UserAccessGuard struct {
	userRepo      *repository.UserRepository
	managerRoles  map[string]struct{}
	elevatedRoles map[string]struct{}
}

func NewUserAccessGuard(userRepo *repository.UserRepository, cfg config.AccessConfig) *UserAccessGuard {
	return &UserAccessGuard{
		userRepo:      userRepo,
		managerRoles:  roleSet(cfg.ManagerRoles),
		elevatedRoles: roleSet(cfg.ElevatedRoles),
	}
}

func roleSet(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// ResolveCaller 根据用户ID获取角色与所属组织
func (g *UserAccessGuard) ResolveCaller(userID int64) (*Caller, error) {
	user, err := g.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCallerUnknown
		}
		return nil, err
	}

	return &Caller{
		ID:             user.ID,
		Role:           user.Role,
		OrganizationID: user.OrganizationID,
	}, nil
}

// AuthorizeOrgAction 平台管理角色可操作任意组织，其余须为本组织的管理角色
func (g *UserAccessGuard) AuthorizeOrgAction(caller *Caller, organizationID int64) bool {
	if caller == nil {
		return false
	}
	if g.IsElevated(caller) {
		return true
	}
	if caller.OrganizationID == nil || *caller.OrganizationID != organizationID {
		return false
	}
	_, ok := g.managerRoles[caller.Role]
	return ok
}

func (g *UserAccessGuard) IsElevated(caller *Caller) bool {
	if caller == nil {
		return false
	}
	_, ok := g.elevatedRoles[caller.Role]
	return ok
}
