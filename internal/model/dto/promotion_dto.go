package dto

// PurchaseRequest 购买推广请求
// package 可以是套餐ID或slug
type PurchaseRequest struct {
	OrganizationID int64   `json:"organization_id" binding:"required,min=1"`
	Package        string  `json:"package" binding:"required,max=100"`
	StartAt        *string `json:"start_at,omitempty"` // RFC3339，为空则立即开始
	RequestID      string  `json:"request_id,omitempty" binding:"max=64"`
}

// CancelRequest 取消推广请求
type CancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// CancelResponse 取消推广响应
type CancelResponse struct {
	CreditsRefunded int64 `json:"credits_refunded"`
	NewBalance      int64 `json:"new_balance"`
	Replayed        bool  `json:"replayed"`
}

// PackageItem 套餐列表项
type PackageItem struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Slug               string   `json:"slug"`
	DurationDays       int      `json:"duration_days"`
	CostInCredits      int64    `json:"cost_in_credits"`
	SortOrder          int      `json:"sort_order"`
	Features           []string `json:"features"`
	AutoRenewalDefault bool     `json:"auto_renewal_default"`
}

// PromotionItem 推广详情
type PromotionItem struct {
	ID             int64   `json:"id"`
	OrganizationID int64   `json:"organization_id"`
	PackageID      int64   `json:"package_id"`
	PackageName    string  `json:"package_name,omitempty"`
	Status         string  `json:"status"`
	StartAt        string  `json:"start_at"`
	EndAt          string  `json:"end_at"`
	DurationDays   int     `json:"duration_days"`
	CostInCredits  int64   `json:"cost_in_credits"`
	AutoRenew      bool    `json:"auto_renew"`
	CancelledAt    *string `json:"cancelled_at,omitempty"`
	CancelReason   string  `json:"cancel_reason,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// PurchaseResponse 购买推广响应
type PurchaseResponse struct {
	Promotion *PromotionItem `json:"promotion"`
	Balance   int64          `json:"balance"`
	Replayed  bool           `json:"replayed"`
}
