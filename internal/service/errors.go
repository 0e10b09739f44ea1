package service

import (
	"errors"
	"fmt"
)

var (
	ErrPackageNotFound      = errors.New("推广套餐不存在")
	ErrPromotionNotFound    = errors.New("推广不存在")
	ErrOrganizationNotFound = errors.New("组织不存在")
	ErrForbidden            = errors.New("无权操作该组织")
	ErrCallerUnknown        = errors.New("调用者不存在")
	ErrInvalidState         = errors.New("推广当前状态不允许该操作")
	ErrPromotionEnded       = fmt.Errorf("推广已结束: %w", ErrInvalidState)
	ErrInsufficientCredits  = errors.New("积分余额不足")
	ErrInvalidStartTime     = errors.New("开始时间超出可预约范围")
	ErrInvalidAmount        = errors.New("调整金额不能为0")
	ErrInvalidRequestID     = errors.New("缺少请求号")
	ErrDataIntegrity        = errors.New("数据完整性错误")
)

// InsufficientCreditsError 扣减后余额将为负
type InsufficientCreditsError struct {
	OrganizationID int64
	Balance        int64
	Required       int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("积分余额不足: 组织 %d 余额 %d, 需要 %d", e.OrganizationID, e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// DataIntegrityError 存储的数据违反不变量
type DataIntegrityError struct {
	Entity string
	ID     int64
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("数据完整性错误: %s %d: %s", e.Entity, e.ID, e.Reason)
}

func (e *DataIntegrityError) Unwrap() error {
	return ErrDataIntegrity
}

// domainErrors 可预期的业务拒绝，其余错误按基础设施错误处理
var domainErrors = []error{
	ErrPackageNotFound,
	ErrPromotionNotFound,
	ErrOrganizationNotFound,
	ErrForbidden,
	ErrCallerUnknown,
	ErrInvalidState,
	ErrInsufficientCredits,
	ErrInvalidStartTime,
	ErrInvalidAmount,
	ErrInvalidRequestID,
}

// IsDomainError 是否为业务拒绝
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
