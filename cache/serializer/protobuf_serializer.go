package serializer

import (
	"google.golang.org/protobuf/proto"
)

// ProtobufSerializer 面向 proto 消息的字节序列化器
type ProtobufSerializer[T proto.Message] struct{}

func NewProtobufSerializer[T proto.Message]() *ProtobufSerializer[T] {
	return &ProtobufSerializer[T]{}
}

func (s *ProtobufSerializer[T]) Serialize(from T) ([]byte, error) {
	return proto.Marshal(from)
}

func (s *ProtobufSerializer[T]) Deserialize(to []byte) (T, error) {
	var zero T
	// 类型化 nil 指针也能取到消息描述，用它分配新消息
	message := zero.ProtoReflect().New().Interface()
	if err := proto.Unmarshal(to, message); err != nil {
		return zero, err
	}
	return message.(T), nil
}
