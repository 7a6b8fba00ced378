package middleware

import (
	"strconv"
	"time"

	"lawsowl_billing/pkg/logger"
	"lawsowl_billing/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoggerMiddleware 访问日志 + 请求指标
func LoggerMiddleware(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Generate Request ID
		requestID := uuid.New().String()
		c.Set("RequestID", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		cost := time.Since(start)
		status := c.Writer.Status()

		if m != nil {
			m.ObserveHTTP(c.Request.Method, c.FullPath(), strconv.Itoa(status), cost.Seconds())
		}

		if logger.Log != nil {
			logger.Log.Info(path,
				zap.Int("status", status),
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.String("query", query),
				zap.String("ip", c.ClientIP()),
				zap.String("request_id", requestID),
				zap.Duration("cost", cost),
			)
		}
	}
}
