package main

import (
	"log"

	"lawsowl_billing/internal/pkg/config"
	"lawsowl_billing/internal/pkg/middleware"
	"lawsowl_billing/internal/pkg/registry"
	"lawsowl_billing/pkg/database"
	"lawsowl_billing/pkg/logger"
	"lawsowl_billing/pkg/metrics"

	// 模块自注册
	_ "lawsowl_billing/internal/domain/credit"
	_ "lawsowl_billing/internal/domain/payment"
	_ "lawsowl_billing/internal/domain/subscription"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// 1. 配置与日志
	config.LoadConfig()
	logger.Init(config.GlobalConfig.App.Env)
	defer logger.Sync()

	// 2. 基础设施
	db := database.InitDatabase()
	rdb := database.InitRedis()

	// 3. HTTP 引擎
	gin.SetMode(config.GlobalConfig.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(metrics.Default))
	r.Use(middleware.RateLimitMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{config.GlobalConfig.App.BaseURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 4. 初始化业务模块
	moduleCtx := &registry.ModuleContext{
		DB:      db,
		Redis:   rdb,
		Router:  r,
		Metrics: metrics.Default,
	}
	if err := registry.InitModules(moduleCtx); err != nil {
		log.Fatalf("Failed to init modules: %v", err)
	}

	// 5. 启动
	addr := ":" + config.GlobalConfig.Server.Port
	logger.Log.Info("服务启动", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
