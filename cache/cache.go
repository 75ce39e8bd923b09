package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/relx/cache/serializer"
	"github.com/hatlonely/relx/cache/store"
	"github.com/hatlonely/relx/log"
	"github.com/hatlonely/relx/ref"
	"github.com/hatlonely/relx/schema"
)

// InvalidateAll 全量失效标识
const InvalidateAll = "*"

type CoordinatorOptions struct {
	// 缓存条目有效期
	TTL time.Duration `cfg:"ttl" def:"5m"`

	// 存储后端配置，缺省为进程内 MapStore
	Store *ref.TypeOptions `cfg:"store"`

	// 序列化器配置，缺省为 msgpack
	Serializer *ref.TypeOptions `cfg:"serializer"`
}

// Coordinator 查询结果缓存协调器
// 键内嵌计划触达集合的版本向量：任何触达集合失效后版本号抬升，
// 旧键自然失配，不需要遍历删除条目
type Coordinator[V any] struct {
	store      store.Store[string, []byte]
	serializer serializer.Serializer[V, []byte]
	ttl        time.Duration
	logger     log.Logger

	mu       sync.RWMutex
	epoch    uint64
	versions map[string]uint64
}

// NewCoordinatorWithOptions 创建缓存协调器
func NewCoordinatorWithOptions[V any](options *CoordinatorOptions) (*Coordinator[V], error) {
	if options == nil {
		options = &CoordinatorOptions{}
	}
	ttl := options.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	s, err := store.NewStoreWithOptions[string, []byte](options.Store)
	if err != nil {
		return nil, errors.WithMessage(err, "new cache store failed")
	}
	ser, err := serializer.NewByteSerializerWithOptions[V](options.Serializer)
	if err != nil {
		return nil, errors.WithMessage(err, "new cache serializer failed")
	}

	return &Coordinator[V]{
		store:      s,
		serializer: ser,
		ttl:        ttl,
		logger:     log.Default().With("component", "cache.Coordinator"),
		versions:   map[string]uint64{},
	}, nil
}

// Bind 订阅模式变更：任何集合的模式变化都会失效对应缓存
func (c *Coordinator[V]) Bind(registry *schema.Registry) {
	registry.OnChange(func(collection string) {
		c.Invalidate(collection)
	})
}

// Key 组装缓存键：集合、租户、请求签名与触达集合版本向量
// 同一请求形状在任何触达集合失效后产生新键，旧条目等同不存在
func (c *Coordinator[V]) Key(collection string, tenant string, signature string, joinSet []string) string {
	sum := sha256.Sum256([]byte(signature))

	sorted := make([]string, len(joinSet))
	copy(sorted, joinSet)
	sort.Strings(sorted)

	c.mu.RLock()
	var sb strings.Builder
	fmt.Fprintf(&sb, "e%d", c.epoch)
	for _, name := range sorted {
		fmt.Fprintf(&sb, ",%s=%d", name, c.versions[name])
	}
	c.mu.RUnlock()

	return collection + "|" + tenant + "|" + hex.EncodeToString(sum[:16]) + "|" + sb.String()
}

// Get 读缓存，任何存储故障按未命中处理
// 每次命中都从字节反序列化出独立副本，调用方改写返回值不影响缓存条目
func (c *Coordinator[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			c.logger.WarnContext(ctx, "cache get failed, treat as miss", "key", key, "error", err.Error())
		}
		return zero, false
	}
	value, err := c.serializer.Deserialize(data)
	if err != nil {
		c.logger.WarnContext(ctx, "cache entry decode failed, treat as miss", "key", key, "error", err.Error())
		return zero, false
	}
	return value, true
}

// Set 写缓存，尽力而为
func (c *Coordinator[V]) Set(ctx context.Context, key string, value V) {
	data, err := c.serializer.Serialize(value)
	if err != nil {
		c.logger.WarnContext(ctx, "cache entry encode failed", "key", key, "error", err.Error())
		return
	}
	if err := c.store.Set(ctx, key, data, store.WithExpiration(c.ttl)); err != nil {
		c.logger.WarnContext(ctx, "cache set failed", "key", key, "error", err.Error())
	}
}

// Invalidate 失效触达给定集合的全部缓存条目
// 失效在返回前对后续 Key 调用可见
func (c *Coordinator[V]) Invalidate(collections ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range collections {
		if name == InvalidateAll {
			c.epoch++
			continue
		}
		c.versions[name]++
	}
}

func (c *Coordinator[V]) Close() error {
	return c.store.Close()
}
