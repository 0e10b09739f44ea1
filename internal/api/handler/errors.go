package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/promo_credit_server/internal/api/middleware"
	"github.com/qs3c/promo_credit_server/internal/pkg/response"
	"github.com/qs3c/promo_credit_server/internal/service"
)

// IdempotencyKeyHeader 客户端重试时携带的请求号
const IdempotencyKeyHeader = "Idempotency-Key"

// handleServiceError 将业务错误映射为响应码
func handleServiceError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrPackageNotFound),
		errors.Is(err, service.ErrPromotionNotFound),
		errors.Is(err, service.ErrOrganizationNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.PermissionError(c, err.Error())
	case errors.Is(err, service.ErrCallerUnknown):
		response.AuthError(c, err.Error())
	case errors.Is(err, service.ErrInsufficientCredits):
		response.InsufficientCreditsError(c, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		response.InvalidStateError(c, err.Error())
	case errors.Is(err, service.ErrInvalidStartTime),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidRequestID):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrDataIntegrity):
		log.Error("data integrity violation",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err))
		response.ServerError(c, "")
	default:
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err))
		response.ServerError(c, "")
	}
}

// requestIDFrom 请求体中的请求号优先，其次为 Idempotency-Key 头
func requestIDFrom(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(IdempotencyKeyHeader)
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
