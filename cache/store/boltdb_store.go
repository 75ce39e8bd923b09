package store

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/hatlonely/relx/cache/serializer"
	"github.com/hatlonely/relx/ref"
)

type BoltDBStoreOptions struct {
	// 数据库文件路径，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	// 存放数据的 bucket 名
	Bucket string `cfg:"bucket" def:"cache"`

	// 获取文件锁的等待时间，零值无限期等待
	Timeout time.Duration `cfg:"timeout"`

	DefaultTTL time.Duration `cfg:"defaultTTL"`

	KeySerializer *ref.TypeOptions `cfg:"keySerializer"`
	ValSerializer *ref.TypeOptions `cfg:"valSerializer"`
}

// BoltDBStore 单机持久化存储，进程重启后缓存仍然有效
type BoltDBStore[K comparable, V any] struct {
	db         *bolt.DB
	bucket     []byte
	defaultTTL time.Duration

	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]
}

func NewBoltDBStoreWithOptions[K comparable, V any](options *BoltDBStoreOptions) (*BoltDBStore[K, V], error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}
	bucket := options.Bucket
	if bucket == "" {
		bucket = "cache"
	}

	keySerializer, err := serializer.NewByteSerializerWithOptions[K](options.KeySerializer)
	if err != nil {
		return nil, errors.WithMessage(err, "new key serializer failed")
	}
	valSerializer, err := serializer.NewByteSerializerWithOptions[V](options.ValSerializer)
	if err != nil {
		return nil, errors.WithMessage(err, "new value serializer failed")
	}

	db, err := bolt.Open(options.DBPath, 0o600, &bolt.Options{Timeout: options.Timeout})
	if err != nil {
		return nil, errors.Wrap(err, "bolt.Open failed")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create bucket failed")
	}

	return &BoltDBStore[K, V]{
		db:            db,
		bucket:        []byte(bucket),
		defaultTTL:    options.DefaultTTL,
		keySerializer: keySerializer,
		valSerializer: valSerializer,
	}, nil
}

// 值前 8 字节存过期时间戳（纳秒，0 表示不过期），其后为序列化值
func encodeEntry(valBytes []byte, expiration time.Duration) []byte {
	buf := make([]byte, 8+len(valBytes))
	if expiration > 0 {
		binary.BigEndian.PutUint64(buf, uint64(time.Now().Add(expiration).UnixNano()))
	}
	copy(buf[8:], valBytes)
	return buf
}

func decodeEntry(buf []byte) ([]byte, bool) {
	if len(buf) < 8 {
		return nil, false
	}
	expireAt := binary.BigEndian.Uint64(buf)
	if expireAt != 0 && time.Now().UnixNano() > int64(expireAt) {
		return nil, false
	}
	return buf[8:], true
}

func (s *BoltDBStore[K, V]) Set(ctx context.Context, key K, value V, opts ...SetOption) error {
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

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if options.IfNotExist {
			if existing := bucket.Get(keyBytes); existing != nil {
				if _, alive := decodeEntry(existing); alive {
					return ErrConditionFailed
				}
			}
		}
		return bucket.Put(keyBytes, encodeEntry(valBytes, options.Expiration))
	})
}

func (s *BoltDBStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, err
	}

	var valBytes []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(s.bucket).Get(keyBytes)
		if buf == nil {
			return ErrKeyNotFound
		}
		decoded, alive := decodeEntry(buf)
		if !alive {
			return ErrKeyNotFound
		}
		valBytes = make([]byte, len(decoded))
		copy(valBytes, decoded)
		return nil
	})
	if err != nil {
		return zero, err
	}
	return s.valSerializer.Deserialize(valBytes)
}

func (s *BoltDBStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(keyBytes)
	})
}

func (s *BoltDBStore[K, V]) Close() error {
	return s.db.Close()
}
