package cache

import (
	"context"
	"fmt"
	"io"
	"time"

	"statevault/pkg/storage"
	"statevault/pkg/types"

	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 存在性缓存
// 动机：幂等重刷 (同一 Key 反复算出同一 Version) 时，Has 预检可以跳过整个上传，
// 缓存让这个预检从一次对象存储往返降到毫秒级
type CachedStore struct {
	backend storage.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client // Redis 客户端
	ttl     time.Duration // 缓存过期时间 (例如 24h)
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	// 解析 URL
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(key types.Key, version types.Version) string {
	return "sv:blob:" + string(key) + "/" + string(version)
}

// Has 优先查 Redis，实现毫秒级幂等判断
func (s *CachedStore) Has(ctx context.Context, key types.Key, version types.Version) (bool, error) {
	ck := s.cacheKey(key, version)

	// 1. 查 Redis
	val, err := s.client.Exists(ctx, ck).Result()
	if err != nil {
		// 架构决策：缓存故障降级 (Cache Failure Fallback)
		// 如果 Redis 挂了，退化为无缓存模式，直接查底层存储
		fmt.Printf("WARN: Redis error: %v\n", err)
	} else if val > 0 {
		// Cache Hit! 无需发起后端网络请求
		return true, nil
	}

	// 2. 缓存未命中 (Cache Miss)，查底层存储
	found, err := s.backend.Has(ctx, key, version)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填 (Cache Fill)
	// Blob 一旦写入不可变，所以存在性可以安全缓存
	if found {
		// 异步写入 Redis，不阻塞主流程
		// 使用 context.Background() 确保即使上层 ctx 取消，回填也能完成
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.client.Set(fillCtx, ck, "1", s.ttl)
		}()
	}

	return found, nil
}

// Put 上传状态 Blob，成功后写入缓存
func (s *CachedStore) Put(ctx context.Context, key types.Key, version types.Version, r io.Reader) error {
	// 穿透到底层存储
	if err := s.backend.Put(ctx, key, version, r); err != nil {
		return err
	}

	// 只有底层上传成功了，才写 Redis
	// 这里的 Set 错误可以忽略，不影响主流程
	s.client.Set(ctx, s.cacheKey(key, version), "1", s.ttl)

	return nil
}

// Get 透传 - 我们不缓存 Blob 数据
// 原因：状态 Blob 可能很大，Redis 内存宝贵，只存存在性性价比最高
func (s *CachedStore) Get(ctx context.Context, key types.Key, version types.Version) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key, version)
}
