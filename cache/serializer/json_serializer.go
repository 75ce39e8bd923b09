package serializer

import (
	"encoding/json"
)

// JSONSerializer 可读性优先的字节序列化器
type JSONSerializer[T any] struct{}

func NewJSONSerializer[T any]() *JSONSerializer[T] {
	return &JSONSerializer[T]{}
}

func (s *JSONSerializer[T]) Serialize(from T) ([]byte, error) {
	return json.Marshal(from)
}

func (s *JSONSerializer[T]) Deserialize(to []byte) (T, error) {
	var value T
	if err := json.Unmarshal(to, &value); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}
