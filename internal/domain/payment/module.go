package payment

import (
	creditrepo "lawsowl_billing/internal/domain/credit/repository"
	creditsvc "lawsowl_billing/internal/domain/credit/service"
	"lawsowl_billing/internal/domain/payment/handler"
	"lawsowl_billing/internal/domain/payment/repository"
	"lawsowl_billing/internal/domain/payment/service"
	"lawsowl_billing/internal/domain/payment/strategy"
	subrepo "lawsowl_billing/internal/domain/subscription/repository"
	subsvc "lawsowl_billing/internal/domain/subscription/service"
	userrepo "lawsowl_billing/internal/domain/user/repository"
	"lawsowl_billing/internal/pkg/config"
	"lawsowl_billing/internal/pkg/middleware"
	"lawsowl_billing/internal/pkg/registry"
	"lawsowl_billing/internal/pkg/worker"
	"lawsowl_billing/pkg/logger"

	"github.com/gin-gonic/gin"
)

// PaymentModule 支付模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	// 支付模块依赖积分和订阅，所以优先级较低
	return 20
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	pRepo := repository.NewPaymentRepository(ctx.DB)
	uRepo := userrepo.NewUserRepository(ctx.DB)

	cRepo := creditrepo.NewCreditRepository(ctx.DB)
	cService := creditsvc.NewCreditService(cRepo, ctx.Metrics, config.GlobalConfig.Payment.SignupBonus)

	sRepo := subrepo.NewSubscriptionRepository(ctx.DB)
	lifecycle := subsvc.NewLifecycleService(sRepo, cService)

	// 无法关联订单的回调异步落库
	deadLetter := worker.NewDeadLetterPool(pRepo, 2, 256)
	deadLetter.Start()

	reconcile := service.NewReconcileService(
		pRepo, lifecycle, cService, ctx.Redis, ctx.Metrics, deadLetter,
		config.GlobalConfig.Payment.StrictUnmatched,
	)

	// 2. 注册支付策略
	strategies := make(map[string]strategy.GatewayStrategy)

	// 蓝新金流 (台湾主渠道, MPG 一次性 + 定期定额)
	if config.GlobalConfig.Newebpay.MerchantID != "" {
		mpg, err := strategy.NewNewebpayMpgStrategy()
		if err != nil {
			logger.Log.Error("Failed to init Newebpay MPG strategy: " + err.Error())
		} else {
			strategies["newebpay"] = mpg
		}

		period, err := strategy.NewNewebpayPeriodStrategy()
		if err != nil {
			logger.Log.Error("Failed to init Newebpay Period strategy: " + err.Error())
		} else {
			strategies["newebpay_period"] = period
		}
	}

	// 支付宝
	if config.GlobalConfig.Alipay.AppID != "" {
		alipayStrategy, err := strategy.NewAlipayStrategy()
		if err != nil {
			logger.Log.Error("Failed to init Alipay strategy: " + err.Error())
		} else {
			strategies["alipay"] = alipayStrategy
		}
	}

	// 微信支付
	if config.GlobalConfig.Wechat.MchID != "" {
		wechatStrategy, err := strategy.NewWechatStrategy()
		if err != nil {
			logger.Log.Error("Failed to init Wechat strategy: " + err.Error())
		} else {
			strategies["wechat"] = wechatStrategy
		}
	}

	for channel, s := range strategies {
		reconcile.RegisterStrategy(channel, s)
	}

	checkout := service.NewCheckoutService(pRepo, uRepo, strategies)
	pHandler := handler.NewPaymentHandler(checkout, reconcile, pRepo)

	// 3. 路由注册
	setupRoutes(ctx.Router, pHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.PaymentHandler) {
	g := r.Group("/payment")

	// 支付回调 (无需鉴权，但需验签)
	g.POST("/notify/mpg", h.MpgNotify)
	g.POST("/notify/period", h.PeriodNotify)
	g.POST("/notify/general", h.GeneralNotify)
	g.POST("/notify/alipay", h.AlipayNotify)
	g.POST("/notify/wechat", h.WechatNotify)

	// 支付完成跳回
	g.POST("/return/mpg", h.MpgReturn)
	g.POST("/return/period", h.PeriodReturn)

	// 需要鉴权的接口
	auth := g.Group("")
	auth.Use(middleware.AuthMiddleware())
	{
		auth.POST("/initiate-checkout", h.InitiateCheckout)
		auth.GET("/order/:orderNo", h.OrderStatus)
	}

	// 管理端
	admin := g.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.GET("/unmatched", h.ListUnmatched)
	}
}
