package subscription

import (
	creditrepo "lawsowl_billing/internal/domain/credit/repository"
	creditsvc "lawsowl_billing/internal/domain/credit/service"
	"lawsowl_billing/internal/domain/subscription/handler"
	"lawsowl_billing/internal/domain/subscription/repository"
	"lawsowl_billing/internal/domain/subscription/service"
	"lawsowl_billing/internal/pkg/config"
	"lawsowl_billing/internal/pkg/middleware"
	"lawsowl_billing/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// SubscriptionModule 订阅模块
type SubscriptionModule struct{}

func init() {
	registry.Register(&SubscriptionModule{})
}

func (m *SubscriptionModule) Name() string {
	return "subscription"
}

func (m *SubscriptionModule) Priority() int {
	// 依赖积分账本
	return 15
}

func (m *SubscriptionModule) Init(ctx *registry.ModuleContext) error {
	cRepo := creditrepo.NewCreditRepository(ctx.DB)
	cService := creditsvc.NewCreditService(cRepo, ctx.Metrics, config.GlobalConfig.Payment.SignupBonus)

	repo := repository.NewSubscriptionRepository(ctx.DB)
	svc := service.NewLifecycleService(repo, cService)

	h := handler.NewSubscriptionHandler(svc)
	setupRoutes(ctx.Router, h)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.SubscriptionHandler) {
	g := r.Group("/subscription")

	// 目录查询不需要登录
	g.GET("/plans", h.Plans)
	g.GET("/packages", h.Packages)

	auth := g.Group("")
	auth.Use(middleware.AuthMiddleware())
	{
		auth.GET("/status", h.Status)
		auth.POST("/downgrade", h.ScheduleDowngrade)
		auth.DELETE("/downgrade", h.CancelDowngrade)
	}

	admin := g.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.POST("/expire", h.AdminExpire)
	}
}
