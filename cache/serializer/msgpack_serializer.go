package serializer

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MsgPackSerializer 默认字节序列化器，紧凑且跨语言
type MsgPackSerializer[T any] struct{}

func NewMsgPackSerializer[T any]() *MsgPackSerializer[T] {
	return &MsgPackSerializer[T]{}
}

func (s *MsgPackSerializer[T]) Serialize(from T) ([]byte, error) {
	return msgpack.Marshal(from)
}

func (s *MsgPackSerializer[T]) Deserialize(to []byte) (T, error) {
	var value T
	if err := msgpack.Unmarshal(to, &value); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}
