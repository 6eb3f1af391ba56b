package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/qs3c/review_go_server/internal/pkg/cache"
)

// SetupTestRedis 启动内嵌 Redis 并返回客户端
func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

// SetupTestCache 基于内嵌 Redis 的缓存层
func SetupTestCache(t *testing.T) (*miniredis.Miniredis, *cache.Cache) {
	t.Helper()

	mr, client := SetupTestRedis(t)
	return mr, cache.New(client)
}
