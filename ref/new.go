package ref

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeOptions 通过类型名构造组件的配置
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type"`
	Options   any    `cfg:"options"`
}

type constructor struct {
	originalFunc any
	newFunc      reflect.Value
	hasOptions   bool
	returnsError bool
}

func newConstructor(newFunc any) (*constructor, error) {
	funcValue := reflect.ValueOf(newFunc)
	if funcValue.Kind() != reflect.Func {
		return nil, fmt.Errorf("newFunc must be a function")
	}

	funcType := funcValue.Type()
	numIn := funcType.NumIn()
	numOut := funcType.NumOut()

	if numIn != 0 && numIn != 1 {
		return nil, fmt.Errorf("newFunc must have 0 or 1 input parameters, got %d", numIn)
	}
	if numOut != 1 && numOut != 2 {
		return nil, fmt.Errorf("newFunc must have 1 or 2 return values, got %d", numOut)
	}

	returnsError := false
	if numOut == 2 {
		errorInterface := reflect.TypeOf((*error)(nil)).Elem()
		if !funcType.Out(1).Implements(errorInterface) {
			return nil, fmt.Errorf("second return value must be error type")
		}
		returnsError = true
	}

	return &constructor{
		originalFunc: newFunc,
		newFunc:      funcValue,
		hasOptions:   numIn == 1,
		returnsError: returnsError,
	}, nil
}

func (c *constructor) new(options any) (any, error) {
	var args []reflect.Value
	if c.hasOptions {
		if options == nil {
			// 构造函数需要 options 参数时传入对应类型的零值指针
			paramType := c.newFunc.Type().In(0)
			if paramType.Kind() == reflect.Ptr {
				args = []reflect.Value{reflect.New(paramType.Elem())}
			} else {
				args = []reflect.Value{reflect.New(paramType).Elem()}
			}
		} else {
			args = []reflect.Value{reflect.ValueOf(options)}
		}
	}

	results := c.newFunc.Call(args)

	if c.returnsError {
		if errResult := results[1].Interface(); errResult != nil {
			return nil, errResult.(error)
		}
	}
	return results[0].Interface(), nil
}

var nameConstructorMap sync.Map

func isSameFunc(func1, func2 any) bool {
	if func1 == nil || func2 == nil {
		return func1 == func2
	}
	return reflect.ValueOf(func1).Pointer() == reflect.ValueOf(func2).Pointer()
}

// Register 注册类型构造函数，重复注册相同函数时跳过
func Register(namespace string, type_ string, newFunc any) error {
	key := namespace + ":" + type_

	if existingValue, ok := nameConstructorMap.Load(key); ok {
		if existing, ok := existingValue.(*constructor); ok {
			if isSameFunc(existing.originalFunc, newFunc) {
				return nil
			}
			return fmt.Errorf("constructor for %s:%s already registered with different function", namespace, type_)
		}
	}

	c, err := newConstructor(newFunc)
	if err != nil {
		return fmt.Errorf("failed to create constructor: %w", err)
	}

	nameConstructorMap.Store(key, c)
	return nil
}

// RegisterT 以类型 T 的包路径和类型名注册构造函数
func RegisterT[T any](newFunc any) error {
	pkgPath, typeName, err := typeKey[T]()
	if err != nil {
		return err
	}
	return Register(pkgPath, typeName, newFunc)
}

func MustRegister(namespace string, type_ string, newFunc any) {
	if err := Register(namespace, type_, newFunc); err != nil {
		panic(err)
	}
}

func MustRegisterT[T any](newFunc any) {
	if err := RegisterT[T](newFunc); err != nil {
		panic(err)
	}
}

// New 按注册的类型名构造组件
func New(namespace string, type_ string, options any) (any, error) {
	key := namespace + ":" + type_
	value, ok := nameConstructorMap.Load(key)
	if !ok {
		return nil, fmt.Errorf("constructor not found for %s:%s", namespace, type_)
	}

	c, ok := value.(*constructor)
	if !ok {
		return nil, fmt.Errorf("invalid constructor type for %s:%s", namespace, type_)
	}

	return c.new(options)
}

// NewT 按类型 T 的包路径和类型名构造组件
func NewT[T any](options any) (T, error) {
	var t T
	pkgPath, typeName, err := typeKey[T]()
	if err != nil {
		return t, err
	}

	obj, err := New(pkgPath, typeName, options)
	if err != nil {
		return t, err
	}

	result, ok := obj.(T)
	if !ok {
		return t, fmt.Errorf("created object is not of type %T", t)
	}
	return result, nil
}

func typeKey[T any]() (string, string, error) {
	var t T
	tType := reflect.TypeOf(t)
	for tType != nil && tType.Kind() == reflect.Ptr {
		tType = tType.Elem()
	}
	if tType == nil {
		return "", "", fmt.Errorf("cannot determine type for interface type parameter")
	}

	pkgPath := tType.PkgPath()
	typeName := tType.Name()
	if pkgPath == "" || typeName == "" {
		return "", "", fmt.Errorf("cannot determine package path or type name for type %v", tType)
	}
	return pkgPath, typeName, nil
}
