package registry

import (
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"lawsowl_billing/pkg/logger"
	"lawsowl_billing/pkg/metrics"
)

// ModuleContext 模块初始化所需的上下文
type ModuleContext struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Router  *gin.Engine
	Metrics *metrics.Collector
}

// Module 模块接口
type Module interface {
	// Name 返回模块名称
	Name() string

	// Init 初始化模块（依赖注入、路由注册等）
	Init(ctx *ModuleContext) error

	// Priority 返回初始化优先级（数字越小越先初始化）
	// 例如：credit 模块需要先于 payment 模块初始化
	Priority() int
}

// moduleRegistry 全局模块注册表
var moduleRegistry = make(map[string]Module)

// Register 注册模块
func Register(module Module) {
	moduleRegistry[module.Name()] = module
}

// GetModules 获取所有已注册的模块
func GetModules() map[string]Module {
	return moduleRegistry
}

// InitModules 按优先级初始化所有模块
func InitModules(ctx *ModuleContext) error {
	modules := make([]Module, 0, len(moduleRegistry))
	for _, m := range moduleRegistry {
		modules = append(modules, m)
	}

	sort.Slice(modules, func(i, j int) bool {
		return modules[i].Priority() < modules[j].Priority()
	})

	for _, module := range modules {
		if err := module.Init(ctx); err != nil {
			return err
		}
		logger.Log.Info("模块初始化完成", zap.String("module", module.Name()))
	}

	return nil
}
