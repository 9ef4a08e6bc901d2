package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Pixmux/core/artnet"
	"Pixmux/core/engine"

	"github.com/go-redis/redis/v8"
)

const (
	engineStateKey  = "pixmux:engine:%s:state"  // String: 引擎快照 JSON
	outputStatsKey  = "pixmux:output:%s:stats"  // String: 输出统计 JSON
	engineSetKey    = "pixmux:engines"          // Set: 上报过的引擎名
	stateChannel    = "pixmux:state"            // Pub/Sub: 每轮上报后广播引擎名
	defaultStateTTL = 30 * time.Second
)

// ErrRedisNotInitialized Redis 未连接
var ErrRedisNotInitialized = errors.New("Redis client not initialized")

// EngineCache 引擎状态缓存，供外部控制面读取
type EngineCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEngineCache 使用全局客户端创建缓存；ttl<=0 时使用默认值
func NewEngineCache(ttl time.Duration) *EngineCache {
	return NewEngineCacheWithClient(RedisClient, ttl)
}

func NewEngineCacheWithClient(client *redis.Client, ttl time.Duration) *EngineCache {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &EngineCache{client: client, ttl: ttl}
}

// EngineStateKey 引擎快照的键
func EngineStateKey(name string) string {
	return fmt.Sprintf(engineStateKey, name)
}

// OutputStatsKey 输出统计的键
func OutputStatsKey(name string) string {
	return fmt.Sprintf(outputStatsKey, name)
}

// ========== 引擎状态 ==========

// SaveEngineState 写入引擎快照并登记引擎名
func (c *EngineCache) SaveEngineState(ctx context.Context, snap engine.Snapshot) error {
	if c.client == nil {
		return ErrRedisNotInitialized
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal engine state: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, EngineStateKey(snap.Name), data, c.ttl)
	pipe.SAdd(ctx, engineSetKey, snap.Name)
	_, err = pipe.Exec(ctx)
	return err
}

// GetEngineState 读取引擎快照，不存在时返回 nil
func (c *EngineCache) GetEngineState(ctx context.Context, name string) (*engine.Snapshot, error) {
	if c.client == nil {
		return nil, ErrRedisNotInitialized
	}

	data, err := c.client.Get(ctx, EngineStateKey(name)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListEngines 上报过的引擎名
func (c *EngineCache) ListEngines(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, ErrRedisNotInitialized
	}
	return c.client.SMembers(ctx, engineSetKey).Result()
}

// ========== 输出统计 ==========

// SaveOutputStats 写入输出统计
func (c *EngineCache) SaveOutputStats(ctx context.Context, stats artnet.OutputStats) error {
	if c.client == nil {
		return ErrRedisNotInitialized
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal output stats: %w", err)
	}
	return c.client.Set(ctx, OutputStatsKey(stats.Engine), data, c.ttl).Err()
}

// PublishState 广播本轮上报的引擎名
func (c *EngineCache) PublishState(ctx context.Context, names []string) error {
	if c.client == nil {
		return ErrRedisNotInitialized
	}
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, stateChannel, data).Err()
}
