package handler

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/promo_credit_server/internal/api/middleware"
	"github.com/qs3c/promo_credit_server/internal/model/dto"
	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
	"github.com/qs3c/promo_credit_server/internal/pkg/response"
	"github.com/qs3c/promo_credit_server/internal/service"
)

type PromotionHandler struct {
	promotionService *service.PromotionService
	logger           *zap.Logger
}

func NewPromotionHandler(promotionService *service.PromotionService, log *zap.Logger) *PromotionHandler {
	return &PromotionHandler{
		promotionService: promotionService,
		logger:           logger.OrNop(log),
	}
}

// ListPackages 获取可购买的推广套餐
// GET /api/v1/promotions/packages
func (h *PromotionHandler) ListPackages(c *gin.Context) {
	pkgs, err := h.promotionService.ListActivePackages(c.Request.Context())
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	items := make([]*dto.PackageItem, 0, len(pkgs))
	for _, p := range pkgs {
		items = append(items, toPackageItem(p))
	}

	response.Success(c, gin.H{
		"packages": items,
	})
}

// Purchase 购买推广
// POST /api/v1/promotions
func (h *PromotionHandler) Purchase(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	in := &service.PurchaseInput{
		OrganizationID: req.OrganizationID,
		PackageRef:     req.Package,
		CallerID:       userID,
		RequestID:      requestIDFrom(c, req.RequestID),
	}
	if req.StartAt != nil && *req.StartAt != "" {
		startAt, err := time.Parse(time.RFC3339, *req.StartAt)
		if err != nil {
			response.ParamError(c, "start_at 必须为 RFC3339 格式")
			return
		}
		in.StartAt = &startAt
	}

	result, err := h.promotionService.Purchase(c.Request.Context(), in)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	response.Success(c, &dto.PurchaseResponse{
		Promotion: toPromotionItem(result.Promotion),
		Balance:   result.Balance,
		Replayed:  result.Replayed,
	})
}

// Get 获取推广详情
// GET /api/v1/promotions/:id
func (h *PromotionHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	promotionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的推广ID")
		return
	}

	promotion, err := h.promotionService.Get(c.Request.Context(), promotionID, userID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	response.Success(c, toPromotionItem(promotion))
}

// Cancel 取消推广并退还剩余积分
// POST /api/v1/promotions/:id/cancel
func (h *PromotionHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	promotionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的推广ID")
		return
	}

	// 请求体可为空
	var req dto.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ParamError(c, err.Error())
		return
	}

	result, err := h.promotionService.Cancel(c.Request.Context(), &service.CancelInput{
		PromotionID: promotionID,
		CallerID:    userID,
		Reason:      req.Reason,
		RequestID:   requestIDFrom(c, ""),
	})
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	response.Success(c, &dto.CancelResponse{
		CreditsRefunded: result.CreditsRefunded,
		NewBalance:      result.NewBalance,
		Replayed:        result.Replayed,
	})
}

// ListByOrganization 获取组织的推广列表
// GET /api/v1/organizations/:id/promotions
func (h *PromotionHandler) ListByOrganization(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	orgID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的组织ID")
		return
	}

	page, pageSize := pagination(c)

	promotions, total, err := h.promotionService.ListByOrganization(c.Request.Context(), orgID, userID, page, pageSize)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	items := make([]*dto.PromotionItem, 0, len(promotions))
	for _, p := range promotions {
		items = append(items, toPromotionItem(p))
	}

	response.SuccessPage(c, total, page, pageSize, items)
}
