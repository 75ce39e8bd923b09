package serializer

import (
	"github.com/hatlonely/relx/ref"
	"github.com/pkg/errors"
)

// Serializer 值与存储形态之间的编解码器
type Serializer[F, T any] interface {
	Serialize(from F) (T, error)
	Deserialize(to T) (F, error)
}

// NewByteSerializerWithOptions 构造字节序列化器，缺省使用 msgpack
func NewByteSerializerWithOptions[T any](options *ref.TypeOptions) (Serializer[T, []byte], error) {
	ref.RegisterT[*JSONSerializer[T]](NewJSONSerializer[T])
	ref.RegisterT[*BSONSerializer[T]](NewBSONSerializer[T])
	ref.RegisterT[*MsgPackSerializer[T]](NewMsgPackSerializer[T])

	if options == nil {
		return NewMsgPackSerializer[T](), nil
	}

	namespace := options.Namespace
	if namespace == "" {
		namespace = "github.com/hatlonely/relx/cache/serializer"
	}

	s, err := ref.New(namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.New failed")
	}
	serializer, ok := s.(Serializer[T, []byte])
	if !ok {
		return nil, errors.Errorf("type %s is not a Serializer", options.Type)
	}
	return serializer, nil
}
