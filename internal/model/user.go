package model

import (
	"time"
)

// 用户角色
const (
	RoleMember    = "member"
	RoleSponsor   = "sponsor"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// User 认证系统用户在本服务的投影，仅保存角色与所属组织
type User struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Role           string    `gorm:"size:20;default:member" json:"role"`
	OrganizationID *int64    `gorm:"index" json:"organization_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
