package dto

// 审计问题类型
const (
	AuditNegativeBalance   = "negative_balance"
	AuditBalanceChain      = "balance_chain_mismatch"
	AuditMissingRefund     = "missing_refund"
	AuditDuplicateRefund   = "duplicate_refund"
	AuditPurchaseMismatch  = "purchase_amount_mismatch"
	AuditHalfAppliedCancel = "half_applied_cancel"
)

// AuditIssue 审计发现的问题
type AuditIssue struct {
	Type           string `json:"type"`
	OrganizationID int64  `json:"organization_id"`
	PromotionID    *int64 `json:"promotion_id,omitempty"`
	TransactionID  *int64 `json:"transaction_id,omitempty"`
	Detail         string `json:"detail"`
}

// AuditReport 单个组织的审计结果
type AuditReport struct {
	OrganizationID int64         `json:"organization_id"`
	Balance        int64         `json:"balance"`
	Entries        int           `json:"entries"`
	Issues         []*AuditIssue `json:"issues"`
}
