package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/promo_credit_server/internal/api/middleware"
	"github.com/qs3c/promo_credit_server/internal/model/dto"
	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
	"github.com/qs3c/promo_credit_server/internal/pkg/response"
	"github.com/qs3c/promo_credit_server/internal/service"
)

type CreditHandler struct {
	ledgerService *service.LedgerService
	logger        *zap.Logger
}

func NewCreditHandler(ledgerService *service.LedgerService, log *zap.Logger) *CreditHandler {
	return &CreditHandler{
		ledgerService: ledgerService,
		logger:        logger.OrNop(log),
	}
}

func organizationID(c *gin.Context) (int64, bool) {
	orgID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orgID <= 0 {
		response.ParamError(c, "无效的组织ID")
		return 0, false
	}
	return orgID, true
}

// GetBalance 获取组织积分余额
// GET /api/v1/organizations/:id/credits
func (h *CreditHandler) GetBalance(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	balance, err := h.ledgerService.Balance(c.Request.Context(), orgID, userID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	response.Success(c, &dto.BalanceInfo{
		OrganizationID: orgID,
		Balance:        balance,
	})
}

// ListTransactions 获取组织积分流水
// GET /api/v1/organizations/:id/credits/transactions
func (h *CreditHandler) ListTransactions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	page, pageSize := pagination(c)

	entries, total, err := h.ledgerService.ListTransactions(c.Request.Context(), orgID, userID, page, pageSize)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	items := make([]*dto.TransactionItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toTransactionItem(e))
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Adjust 管理员调整组织积分
// POST /api/v1/admin/organizations/:id/credits
func (h *CreditHandler) Adjust(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	var req dto.AdjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	entry, replayed, err := h.ledgerService.Adjust(c.Request.Context(), &service.AdjustInput{
		OrganizationID: orgID,
		Amount:         req.Amount,
		Reason:         req.Reason,
		RequestID:      req.RequestID,
		CallerID:       userID,
	})
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	response.Success(c, &dto.AdjustCreditsResponse{
		Transaction: toTransactionItem(entry),
		Replayed:    replayed,
	})
}
