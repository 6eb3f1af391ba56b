package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/pkg/response"
)

// RateLimit 创建分析的滑动窗口限流，按用户计数
// 在请求进编排器之前拦截；Redis 故障时放行（限流是保护，不是正确性约束）
func RateLimit(client *redis.Client, cfg config.RateLimitConfig) gin.HandlerFunc {
	limit := cfg.CreatePerWindow
	if limit <= 0 {
		limit = 10
	}
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}

	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		key := "ratelimit:analyze:" + userID
		now := time.Now().UnixNano()
		cutoff := now - window.Nanoseconds()

		pipe := client.TxPipeline()
		pipe.ZRemRangeByScore(c.Request.Context(), key, "0", fmt.Sprintf("%d", cutoff))
		countCmd := pipe.ZCard(c.Request.Context(), key)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			log.Printf("ratelimit: redis error, allowing request: %v", err)
			c.Next()
			return
		}

		if countCmd.Val() >= int64(limit) {
			response.RateLimitError(c, "分析请求过于频繁，请稍后再试")
			c.Abort()
			return
		}

		pipe = client.TxPipeline()
		pipe.ZAdd(c.Request.Context(), key, &redis.Z{Score: float64(now), Member: now})
		pipe.Expire(c.Request.Context(), key, window)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			log.Printf("ratelimit: failed to record request: %v", err)
		}

		c.Next()
	}
}
