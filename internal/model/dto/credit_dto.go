package dto

// BalanceInfo 组织积分余额
type BalanceInfo struct {
	OrganizationID int64 `json:"organization_id"`
	Balance        int64 `json:"balance"`
}

// TransactionItem 账本流水项
type TransactionItem struct {
	ID                 int64  `json:"id"`
	Amount             int64  `json:"amount"`
	Kind               string `json:"kind"`
	RelatedPromotionID *int64 `json:"related_promotion_id,omitempty"`
	BalanceAfter       int64  `json:"balance_after"`
	Description        string `json:"description,omitempty"`
	CreatedAt          string `json:"created_at"`
}

// AdjustCreditsRequest 管理员调整积分请求
type AdjustCreditsRequest struct {
	Amount    int64  `json:"amount" binding:"required"`
	Reason    string `json:"reason" binding:"required,min=1,max=500"`
	RequestID string `json:"request_id" binding:"required,max=64"`
}

// AdjustCreditsResponse 调整积分响应
type AdjustCreditsResponse struct {
	Transaction *TransactionItem `json:"transaction"`
	Replayed    bool             `json:"replayed"`
}
