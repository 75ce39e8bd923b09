package perm

import (
	"sort"
)

// Action 访问动作
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Wildcard 字段授权通配符
const Wildcard = "*"

// Permission 一条角色授权：(角色, 集合, 动作) 下的字段集、行范围与默认值
type Permission struct {
	Role       string `json:"role"`
	Collection string `json:"collection"`
	Action     Action `json:"action"`

	// 允许的字段，包含 "*" 表示全部
	Fields []string `json:"fields"`

	// 行范围条件，原始过滤对象，可含动态变量与关系路径
	Conditions map[string]interface{} `json:"conditions"`

	// 关系路径 → 过滤对象，约束嵌套集合中哪些行可出现在父行之下，
	// 参与该关系的连接条件而不是根查询的外层谓词
	RelConditions map[string]map[string]interface{} `json:"relConditions"`

	// 写入时对缺省字段应用的默认值，客户端显式给出的字段不被覆盖
	Defaults map[string]interface{} `json:"defaults"`
}

// FieldMask 字段授权掩码
type FieldMask struct {
	wildcard bool
	fields   map[string]bool
}

// NewFieldMask 由字段列表构造掩码，nil 列表视为通配
func NewFieldMask(fields []string) *FieldMask {
	if fields == nil {
		return &FieldMask{wildcard: true}
	}
	mask := &FieldMask{fields: make(map[string]bool, len(fields))}
	for _, f := range fields {
		if f == Wildcard {
			mask.wildcard = true
			continue
		}
		mask.fields[f] = true
	}
	return mask
}

// Wildcard 是否放行全部字段
func (m *FieldMask) Wildcard() bool {
	return m.wildcard
}

// Allows 字段是否放行
func (m *FieldMask) Allows(field string) bool {
	return m.wildcard || m.fields[field]
}

// Intersect 与另一个掩码求交，产出新掩码
func (m *FieldMask) Intersect(other *FieldMask) *FieldMask {
	if m.wildcard {
		return other
	}
	if other.wildcard {
		return m
	}
	result := &FieldMask{fields: make(map[string]bool)}
	for f := range m.fields {
		if other.fields[f] {
			result.fields[f] = true
		}
	}
	return result
}

// List 显式字段列表，通配时返回 nil
func (m *FieldMask) List() []string {
	if m.wildcard {
		return nil
	}
	fields := make([]string, 0, len(m.fields))
	for f := range m.fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
