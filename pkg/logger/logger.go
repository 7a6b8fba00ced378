package logger

import (
	"log"

	"go.uber.org/zap"
)

// Log 全局日志实例, Init 之前是 Nop, 测试里可以直接用
var Log = zap.NewNop()

// Init 初始化日志
// env 为 "prod" 时使用 JSON 格式的生产配置，其他环境使用开发配置
func Init(env string) {
	var (
		l   *zap.Logger
		err error
	)

	if env == "prod" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	Log = l
	zap.ReplaceGlobals(l)
}

// Sync 刷新缓冲的日志
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
