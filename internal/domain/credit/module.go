package credit

import (
	"lawsowl_billing/internal/domain/credit/handler"
	"lawsowl_billing/internal/domain/credit/repository"
	"lawsowl_billing/internal/domain/credit/service"
	"lawsowl_billing/internal/pkg/config"
	"lawsowl_billing/internal/pkg/middleware"
	"lawsowl_billing/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// CreditModule 积分模块
type CreditModule struct{}

func init() {
	registry.Register(&CreditModule{})
}

func (m *CreditModule) Name() string {
	return "credit"
}

func (m *CreditModule) Priority() int {
	// 积分是最底层的账本, 先于订阅和支付初始化
	return 10
}

func (m *CreditModule) Init(ctx *registry.ModuleContext) error {
	repo := repository.NewCreditRepository(ctx.DB)
	svc := service.NewCreditService(repo, ctx.Metrics, config.GlobalConfig.Payment.SignupBonus)

	h := handler.NewCreditHandler(svc)
	setupRoutes(ctx.Router, h)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.CreditHandler) {
	g := r.Group("/credit")
	g.Use(middleware.AuthMiddleware())
	{
		g.POST("/debit", h.Debit)
		g.GET("/history", h.History)
	}
}
