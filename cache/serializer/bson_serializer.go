package serializer

import (
	"go.mongodb.org/mongo-driver/bson"
)

// BSONSerializer 与 MongoDB 生态互通的字节序列化器
type BSONSerializer[T any] struct{}

func NewBSONSerializer[T any]() *BSONSerializer[T] {
	return &BSONSerializer[T]{}
}

func (s *BSONSerializer[T]) Serialize(from T) ([]byte, error) {
	return bson.Marshal(from)
}

func (s *BSONSerializer[T]) Deserialize(to []byte) (T, error) {
	var value T
	if err := bson.Unmarshal(to, &value); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}
