package filter

import (
	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/schema"
)

// Operator 比较运算符
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpLike       Operator = "like"
	OpILike      Operator = "ilike"
	OpStartsWith Operator = "startsWith"
	OpIn         Operator = "in"
	OpIsNull     Operator = "isNull"
	OpIsNotNull  Operator = "isNotNull"
	// 数组包含：字段数组包含给定的全部元素；空数组视为恒真
	OpArrayContains Operator = "arraycontains"
	// 数组被包含：字段数组完全落在给定元素内
	OpArrayContained Operator = "arraycontained"
	OpWithin         Operator = "within"
	OpIntersects     Operator = "intersects"
	OpDWithin        Operator = "dwithin"
	OpContainsGeo    Operator = "containsGEO"
)

// 运算符取值形态
type valueArity int

const (
	arityScalar  valueArity = iota // 单个标量
	arityArray                     // 标量数组
	arityNone                      // 无值
	arityGeo                       // WKT 字符串
	arityGeoDist                   // WKT + 距离
)

type operatorSpec struct {
	arity valueArity
	// 约束末端字段类型，空集表示不限
	fieldTypes map[schema.FieldType]bool
}

var operatorSpecs = map[Operator]operatorSpec{
	OpEq:         {arity: arityScalar},
	OpNe:         {arity: arityScalar},
	OpGt:         {arity: arityScalar, fieldTypes: orderedTypes},
	OpGte:        {arity: arityScalar, fieldTypes: orderedTypes},
	OpLt:         {arity: arityScalar, fieldTypes: orderedTypes},
	OpLte:        {arity: arityScalar, fieldTypes: orderedTypes},
	OpLike:       {arity: arityScalar, fieldTypes: textTypes},
	OpILike:      {arity: arityScalar, fieldTypes: textTypes},
	OpStartsWith: {arity: arityScalar, fieldTypes: textTypes},
	OpIn:         {arity: arityArray},
	OpIsNull:     {arity: arityNone},
	OpIsNotNull:  {arity: arityNone},

	OpArrayContains:  {arity: arityArray, fieldTypes: arrayTypes},
	OpArrayContained: {arity: arityArray, fieldTypes: arrayTypes},

	OpWithin:      {arity: arityGeo, fieldTypes: geoTypes},
	OpIntersects:  {arity: arityGeo, fieldTypes: geoTypes},
	OpDWithin:     {arity: arityGeoDist, fieldTypes: geoTypes},
	OpContainsGeo: {arity: arityGeo, fieldTypes: geoTypes},
}

var (
	orderedTypes = map[schema.FieldType]bool{
		schema.FieldTypeInteger:  true,
		schema.FieldTypeDecimal:  true,
		schema.FieldTypeDateTime: true,
		schema.FieldTypeString:   true,
	}
	textTypes = map[schema.FieldType]bool{
		schema.FieldTypeString: true,
		schema.FieldTypeUUID:   true,
	}
	arrayTypes = map[schema.FieldType]bool{
		schema.FieldTypeArray: true,
	}
	geoTypes = map[schema.FieldType]bool{
		schema.FieldTypeGeometry: true,
	}
)

// parseValue 按运算符形态解析并校验原始值，动态变量保持符号引用
func parseValue(path string, op Operator, raw interface{}, fieldType schema.FieldType) (Value, error) {
	spec, ok := operatorSpecs[op]
	if !ok {
		return Value{}, errs.InvalidFilterf("unknown operator %q at %s", op, path)
	}

	if len(spec.fieldTypes) > 0 && fieldType != "" && !spec.fieldTypes[fieldType] {
		return Value{}, errs.InvalidFilterf("operator %q not applicable to %s field at %s", op, fieldType, path)
	}

	switch spec.arity {
	case arityNone:
		return Value{Kind: ValueKindNone}, nil

	case arityScalar:
		if ref, ok := dynamicRef(raw); ok {
			return Value{Kind: ValueKindVar, Ref: ref}, nil
		}
		if !isScalar(raw) {
			return Value{}, errs.InvalidFilterf("operator %q expects a scalar value at %s", op, path)
		}
		if err := checkScalarType(path, op, raw, fieldType); err != nil {
			return Value{}, err
		}
		return Value{Kind: ValueKindLiteral, Literal: raw}, nil

	case arityArray:
		if ref, ok := dynamicRef(raw); ok {
			return Value{Kind: ValueKindVar, Ref: ref}, nil
		}
		items, ok := raw.([]interface{})
		if !ok {
			return Value{}, errs.InvalidFilterf("operator %q expects an array value at %s", op, path)
		}
		for _, item := range items {
			if !isScalar(item) {
				return Value{}, errs.InvalidFilterf("operator %q expects an array of scalars at %s", op, path)
			}
		}
		return Value{Kind: ValueKindArray, Array: items}, nil

	case arityGeo:
		wkt, ok := raw.(string)
		if !ok || wkt == "" {
			return Value{}, errs.InvalidFilterf("operator %q expects a WKT string at %s", op, path)
		}
		return Value{Kind: ValueKindLiteral, Literal: wkt}, nil

	case arityGeoDist:
		arg, ok := raw.(map[string]interface{})
		if !ok {
			return Value{}, errs.InvalidFilterf("operator %q expects {geometry, distance} at %s", op, path)
		}
		wkt, ok := arg["geometry"].(string)
		if !ok || wkt == "" {
			return Value{}, errs.InvalidFilterf("operator %q requires a geometry WKT at %s", op, path)
		}
		distance, ok := asFloat(arg["distance"])
		if !ok {
			return Value{}, errs.InvalidFilterf("operator %q requires a numeric distance at %s", op, path)
		}
		return Value{Kind: ValueKindLiteral, Literal: &GeoArg{Geometry: wkt, Distance: distance}}, nil
	}

	return Value{}, errs.InvalidFilterf("unsupported operator %q at %s", op, path)
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil:
		return false
	case map[string]interface{}, []interface{}:
		return false
	default:
		return true
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func checkScalarType(path string, op Operator, v interface{}, fieldType schema.FieldType) error {
	switch fieldType {
	case schema.FieldTypeInteger, schema.FieldTypeDecimal:
		if _, ok := asFloat(v); !ok {
			return errs.InvalidFilterf("operator %q expects a numeric value for %s field at %s", op, fieldType, path)
		}
	case schema.FieldTypeBoolean:
		if _, ok := v.(bool); !ok {
			return errs.InvalidFilterf("operator %q expects a boolean value at %s", op, path)
		}
	case schema.FieldTypeString, schema.FieldTypeUUID, schema.FieldTypeDateTime:
		if _, ok := v.(string); !ok {
			return errs.InvalidFilterf("operator %q expects a string value for %s field at %s", op, fieldType, path)
		}
	}
	return nil
}

// dynamicRef 识别动态变量引用，如 $CURRENT_USER.id、$CURRENT_TENANT
func dynamicRef(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || len(s) < 2 || s[0] != '$' {
		return "", false
	}
	body := s[1:]
	if body == "CURRENT_USER" || body == "CURRENT_TENANT" {
		return body, true
	}
	const userPrefix = "CURRENT_USER."
	if len(body) > len(userPrefix) && body[:len(userPrefix)] == userPrefix {
		return body, true
	}
	return "", false
}
