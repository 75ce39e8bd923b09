package store

import (
	"context"
	"time"

	"github.com/hatlonely/relx/ref"
	"github.com/pkg/errors"
)

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrConditionFailed = errors.New("condition failed")
)

// setOptions 写入缓存时的选项
type setOptions struct {
	Expiration time.Duration
	IfNotExist bool
}

type SetOption func(*setOptions)

func WithExpiration(expiration time.Duration) SetOption {
	return func(options *setOptions) {
		options.Expiration = expiration
	}
}

func WithIfNotExist() SetOption {
	return func(options *setOptions) {
		options.IfNotExist = true
	}
}

// Store 查询结果缓存的键值存储接口
type Store[K comparable, V any] interface {
	// Set 写入键值对，WithIfNotExist 时键已存在返回 ErrConditionFailed
	Set(ctx context.Context, key K, value V, opts ...SetOption) error
	// Get 读取键对应的值，键不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key K) (V, error)
	// Del 删除键，键不存在也算成功
	Del(ctx context.Context, key K) error
	Close() error
}

// NewStoreWithOptions 按类型配置构造存储后端
func NewStoreWithOptions[K comparable, V any](options *ref.TypeOptions) (Store[K, V], error) {
	ref.RegisterT[*MapStore[K, V]](NewMapStoreWithOptions[K, V])
	ref.RegisterT[*FreeCacheStore[K, V]](NewFreeCacheStoreWithOptions[K, V])
	ref.RegisterT[*RedisStore[K, V]](NewRedisStoreWithOptions[K, V])
	ref.RegisterT[*BoltDBStore[K, V]](NewBoltDBStoreWithOptions[K, V])
	ref.RegisterT[*ObservableStore[K, V]](NewObservableStoreWithOptions[K, V])

	if options == nil {
		return NewMapStoreWithOptions[K, V](), nil
	}

	s, err := ref.New(options.Namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.New failed")
	}
	store, ok := s.(Store[K, V])
	if !ok {
		return nil, errors.Errorf("type %s is not a Store", options.Type)
	}
	return store, nil
}
