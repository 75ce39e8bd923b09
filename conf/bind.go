package conf

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Bind 把解析后的配置数据绑定到结构体
// 字段名取 cfg tag，没有 tag 时取首字母小写的字段名
func Bind(data map[string]interface{}, object interface{}) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return bindValue(rv.Elem(), data, "")
}

func bindValue(rv reflect.Value, data interface{}, path string) error {
	if data == nil {
		return nil
	}

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return bindValue(rv.Elem(), data, path)
	}

	// any 字段保留原始数据，由使用方自行转换
	if rv.Kind() == reflect.Interface && rv.NumMethod() == 0 {
		rv.Set(reflect.ValueOf(data))
		return nil
	}

	switch rv.Kind() {
	case reflect.Struct:
		m, ok := data.(map[string]interface{})
		if !ok {
			return errors.Errorf("field %s expects an object, got %T", path, data)
		}
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if !rv.Field(i).CanSet() {
				continue
			}
			name := fieldName(field)
			value, ok := m[name]
			if !ok {
				continue
			}
			if err := bindValue(rv.Field(i), value, joinPath(path, name)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		m, ok := data.(map[string]interface{})
		if !ok {
			return errors.Errorf("field %s expects an object, got %T", path, data)
		}
		result := reflect.MakeMapWithSize(rv.Type(), len(m))
		for key, value := range m {
			elem := reflect.New(rv.Type().Elem()).Elem()
			if err := bindValue(elem, value, joinPath(path, key)); err != nil {
				return err
			}
			result.SetMapIndex(reflect.ValueOf(key), elem)
		}
		rv.Set(result)
		return nil

	case reflect.Slice:
		list, ok := data.([]interface{})
		if !ok {
			return errors.Errorf("field %s expects a list, got %T", path, data)
		}
		result := reflect.MakeSlice(rv.Type(), len(list), len(list))
		for i, value := range list {
			if err := bindValue(result.Index(i), value, joinPath(path, strconv.Itoa(i))); err != nil {
				return err
			}
		}
		rv.Set(result)
		return nil
	}

	return bindScalar(rv, data, path)
}

func bindScalar(rv reflect.Value, data interface{}, path string) error {
	// ini 与环境变量的值都是字符串，统一走字符串解析
	if s, ok := data.(string); ok && rv.Kind() != reflect.String {
		return parseScalar(rv, s, path)
	}

	dv := reflect.ValueOf(data)
	if dv.Type().AssignableTo(rv.Type()) {
		rv.Set(dv)
		return nil
	}
	if dv.Type().ConvertibleTo(rv.Type()) {
		rv.Set(dv.Convert(rv.Type()))
		return nil
	}
	return errors.Errorf("field %s cannot take %T value %v", path, data, data)
}

func parseScalar(rv reflect.Value, s string, path string) error {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(s)
			if err != nil {
				return errors.WithMessagef(err, "field %s", path)
			}
			rv.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		rv.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		rv.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		rv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		rv.SetBool(b)
	case reflect.Slice:
		if rv.Type().Elem().Kind() != reflect.String {
			return errors.Errorf("field %s cannot parse %q", path, s)
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		rv.Set(reflect.ValueOf(parts))
	default:
		return errors.Errorf("field %s cannot parse %q", path, s)
	}
	return nil
}

// bindEnv 按 cfg 路径读环境变量覆盖配置
// 路径段以下划线连接并整体大写，如 RELX_CACHE_TTL
func bindEnv(object interface{}, prefix string) error {
	rv := reflect.ValueOf(object).Elem()
	return bindEnvValue(rv, prefix, "")
}

func bindEnvValue(rv reflect.Value, prefix string, path string) error {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			// 空指针不展开，环境变量无法决定要不要这棵子配置
			return nil
		}
		return bindEnvValue(rv.Elem(), prefix, path)
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !rv.Field(i).CanSet() {
			continue
		}
		name := joinPath(path, fieldName(field))
		envKey := prefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(name))
		if value, ok := os.LookupEnv(envKey); ok {
			if rv.Field(i).Kind() == reflect.String {
				rv.Field(i).SetString(value)
			} else if err := parseScalar(rv.Field(i), value, name); err != nil {
				return err
			}
			continue
		}
		if err := bindEnvValue(rv.Field(i), prefix, name); err != nil {
			return err
		}
	}
	return nil
}

func fieldName(field reflect.StructField) string {
	if tag := field.Tag.Get("cfg"); tag != "" {
		return strings.Split(tag, ",")[0]
	}
	return strings.ToLower(field.Name[:1]) + field.Name[1:]
}

func joinPath(path string, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
