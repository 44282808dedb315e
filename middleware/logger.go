package middleware

import (
	"strings"
	"time"

	"PCollab/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 每个请求一行；/ws 路径里的凭证不落日志
func RequestLog() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = redactPath(c.Request.URL.Path)
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if dev := c.Param("device_id"); dev != "" {
			fields = append(fields, zap.String("device_id", dev))
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// Recovery panic -> 500，堆栈进日志
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("http handler panic", zap.Any("panic", r), zap.Stack("stack"))
				c.AbortWithStatusJSON(500, gin.H{"code": 500, "msg": "internal server error"})
			}
		}()
		c.Next()
	}
}

func redactPath(p string) string {
	if !strings.HasPrefix(p, "/ws/") {
		return p
	}
	parts := strings.SplitN(strings.TrimPrefix(p, "/ws/"), "/", 2)
	if len(parts) == 2 {
		return "/ws/***/" + parts[1]
	}
	return "/ws/***"
}
