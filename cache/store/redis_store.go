package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hatlonely/relx/cache/serializer"
	"github.com/hatlonely/relx/ref"
)

type RedisStoreOptions struct {
	// host:port 地址
	Endpoint string `cfg:"endpoint" def:"localhost:6379"`

	Username string `cfg:"username"`
	Password string `cfg:"password"`
	DB       int    `cfg:"db" def:"0"`

	DefaultTTL time.Duration `cfg:"defaultTTL"`

	DialTimeout  time.Duration `cfg:"dialTimeout" def:"5s"`
	ReadTimeout  time.Duration `cfg:"readTimeout" def:"3s"`
	WriteTimeout time.Duration `cfg:"writeTimeout" def:"3s"`

	// 键前缀，多个实例共用一个 Redis 时隔离键空间
	KeyPrefix string `cfg:"keyPrefix"`

	KeySerializer *ref.TypeOptions `cfg:"keySerializer"`
	ValSerializer *ref.TypeOptions `cfg:"valSerializer"`
}

// RedisStore 多实例共享的缓存存储
type RedisStore[K comparable, V any] struct {
	client     *redis.Client
	defaultTTL time.Duration
	keyPrefix  string

	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]
}

func NewRedisStoreWithOptions[K comparable, V any](options *RedisStoreOptions) (*RedisStore[K, V], error) {
	if options == nil {
		options = &RedisStoreOptions{}
	}
	endpoint := options.Endpoint
	if endpoint == "" {
		endpoint = "localhost:6379"
	}

	keySerializer, err := serializer.NewByteSerializerWithOptions[K](options.KeySerializer)
	if err != nil {
		return nil, errors.WithMessage(err, "new key serializer failed")
	}
	valSerializer, err := serializer.NewByteSerializerWithOptions[V](options.ValSerializer)
	if err != nil {
		return nil, errors.WithMessage(err, "new value serializer failed")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         endpoint,
		Username:     options.Username,
		Password:     options.Password,
		DB:           options.DB,
		DialTimeout:  options.DialTimeout,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
	})

	return &RedisStore[K, V]{
		client:        client,
		defaultTTL:    options.DefaultTTL,
		keyPrefix:     options.KeyPrefix,
		keySerializer: keySerializer,
		valSerializer: valSerializer,
	}, nil
}

func (s *RedisStore[K, V]) redisKey(key K) (string, error) {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return "", err
	}
	return s.keyPrefix + string(keyBytes), nil
}

func (s *RedisStore[K, V]) Set(ctx context.Context, key K, value V, opts ...SetOption) error {
	options := &setOptions{Expiration: s.defaultTTL}
	for _, opt := range opts {
		opt(options)
	}

	redisKey, err := s.redisKey(key)
	if err != nil {
		return err
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return err
	}

	if options.IfNotExist {
		ok, err := s.client.SetNX(ctx, redisKey, valBytes, options.Expiration).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrConditionFailed
		}
		return nil
	}

	return s.client.Set(ctx, redisKey, valBytes, options.Expiration).Err()
}

func (s *RedisStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	redisKey, err := s.redisKey(key)
	if err != nil {
		return zero, err
	}

	valBytes, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrKeyNotFound
		}
		return zero, err
	}
	return s.valSerializer.Deserialize(valBytes)
}

func (s *RedisStore[K, V]) Del(ctx context.Context, key K) error {
	redisKey, err := s.redisKey(key)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, redisKey).Err()
}

func (s *RedisStore[K, V]) Close() error {
	return s.client.Close()
}
