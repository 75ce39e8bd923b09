package store

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"

	"github.com/hatlonely/relx/cache/serializer"
	"github.com/hatlonely/relx/ref"
)

type FreeCacheStoreOptions struct {
	// 缓存总容量（字节），freecache 预分配
	Size int `cfg:"size" def:"33554432"`

	DefaultTTL time.Duration `cfg:"defaultTTL"`

	KeySerializer *ref.TypeOptions `cfg:"keySerializer"`
	ValSerializer *ref.TypeOptions `cfg:"valSerializer"`
}

// FreeCacheStore 进程内预分配内存的存储，零 GC 压力
type FreeCacheStore[K comparable, V any] struct {
	cache      *freecache.Cache
	defaultTTL time.Duration

	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]
}

func NewFreeCacheStoreWithOptions[K comparable, V any](options *FreeCacheStoreOptions) (*FreeCacheStore[K, V], error) {
	if options == nil {
		options = &FreeCacheStoreOptions{}
	}
	size := options.Size
	if size <= 0 {
		size = 32 * 1024 * 1024
	}

	keySerializer, err := serializer.NewByteSerializerWithOptions[K](options.KeySerializer)
	if err != nil {
		return nil, errors.WithMessage(err, "new key serializer failed")
	}
	valSerializer, err := serializer.NewByteSerializerWithOptions[V](options.ValSerializer)
	if err != nil {
		return nil, errors.WithMessage(err, "new value serializer failed")
	}

	return &FreeCacheStore[K, V]{
		cache:         freecache.NewCache(size),
		defaultTTL:    options.DefaultTTL,
		keySerializer: keySerializer,
		valSerializer: valSerializer,
	}, nil
}

func (s *FreeCacheStore[K, V]) Set(ctx context.Context, key K, value V, opts ...SetOption) error {
	options := &setOptions{Expiration: s.defaultTTL}
	for _, opt := range opts {
		opt(options)
	}

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return err
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return err
	}

	if options.IfNotExist {
		if _, err := s.cache.Get(keyBytes); err == nil {
			return ErrConditionFailed
		}
	}

	return s.cache.Set(keyBytes, valBytes, int(options.Expiration/time.Second))
}

func (s *FreeCacheStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, err
	}

	valBytes, err := s.cache.Get(keyBytes)
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return zero, ErrKeyNotFound
		}
		return zero, err
	}
	return s.valSerializer.Deserialize(valBytes)
}

func (s *FreeCacheStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return err
	}
	s.cache.Del(keyBytes)
	return nil
}

func (s *FreeCacheStore[K, V]) Close() error {
	s.cache.Clear()
	return nil
}
