package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qs3c/promo_credit_server/config"
	"github.com/qs3c/promo_credit_server/internal/api/handler"
	"github.com/qs3c/promo_credit_server/internal/api/middleware"
	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
)

type Router struct {
	promotionHandler *handler.PromotionHandler
	creditHandler    *handler.CreditHandler
	healthHandler    *handler.HealthHandler
	gatherer         prometheus.Gatherer
	cfg              *config.Config
	logger           *zap.Logger
}

// NewRouter gatherer 为 nil 时不暴露 /metrics
func NewRouter(
	promotionHandler *handler.PromotionHandler,
	creditHandler *handler.CreditHandler,
	healthHandler *handler.HealthHandler,
	gatherer prometheus.Gatherer,
	cfg *config.Config,
	log *zap.Logger,
) *Router {
	return &Router{
		promotionHandler: promotionHandler,
		creditHandler:    creditHandler,
		healthHandler:    healthHandler,
		gatherer:         gatherer,
		cfg:              cfg,
		logger:           logger.OrNop(log),
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(r.logger))
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", r.healthHandler.Check)
	if r.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	api := engine.Group("/api/v1")
	{
		// 公开接口 - 套餐，带合法令牌时访问日志记录用户
		packages := api.Group("/promotions/packages")
		packages.Use(middleware.OptionalAuth(r.cfg.JWT.Secret))
		{
			packages.GET("", r.promotionHandler.ListPackages)
			packages.POST("", r.promotionHandler.ListPackages)
		}

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			promotions := authenticated.Group("/promotions")
			{
				promotions.POST("", r.promotionHandler.Purchase)
				promotions.GET("/:id", r.promotionHandler.Get)
				promotions.POST("/:id/cancel", r.promotionHandler.Cancel)
			}

			organizations := authenticated.Group("/organizations")
			{
				organizations.GET("/:id/credits", r.creditHandler.GetBalance)
				organizations.GET("/:id/credits/transactions", r.creditHandler.ListTransactions)
				organizations.GET("/:id/promotions", r.promotionHandler.ListByOrganization)
			}

			// 管理员
			admin := authenticated.Group("/admin")
			{
				admin.POST("/organizations/:id/credits", r.creditHandler.Adjust)
			}
		}
	}

	return engine
}
