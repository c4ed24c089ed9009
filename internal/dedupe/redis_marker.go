package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMarkerConfig 描述 Redis 去重器的连接参数。
type RedisMarkerConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisMarker 基于 SETNX + TTL 实现跨进程去重，多个监控实例共享
// 同一份指纹集合。
type RedisMarker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMarker 创建 Redis 去重器实例。
func NewRedisMarker(cfg RedisMarkerConfig) (*RedisMarker, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "stablewatch:seen"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisMarker{client: client, prefix: prefix, ttl: ttl}, nil
}

// Seen 实现 Marker。SetNX 成功表示首次出现。
func (m *RedisMarker) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := m.client.SetNX(ctx, m.prefix+":"+key, 1, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("Redis 去重标记失败: %w", err)
	}
	return !ok, nil
}

// Close 关闭 Redis 连接。
func (m *RedisMarker) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
