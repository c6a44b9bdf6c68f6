package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/redis/go-redis/v9"
)

// NewClient 按配置创建Redis连接并测试连通性
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	dialTimeout := time.Duration(cfg.DialTimeoutSeconds) * time.Second
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis连接测试失败: %w", err)
	}

	logger.WithField("address", cfg.Address).Info("Redis连接初始化成功")
	return client, nil
}
