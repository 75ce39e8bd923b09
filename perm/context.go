package perm

import (
	"strings"

	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/filter"
)

// Context 求值期上下文，来自认证协作方
// 只用于动态变量代换，引擎不解释其余内容
type Context struct {
	UserID    string
	UserAttrs map[string]interface{}
	TenantID  string
}

// resolveRef 解析动态变量引用
// 代换是全量的：任何无法解析的引用都以权限拒绝收场，绝不静默丢弃约束
func (c *Context) resolveRef(ref string) (interface{}, error) {
	if c == nil {
		return nil, errs.PermissionDeniedf("dynamic variable $%s without request context", ref)
	}

	switch ref {
	case "CURRENT_USER", "CURRENT_USER.id":
		if c.UserID == "" {
			return nil, errs.PermissionDeniedf("dynamic variable $%s: no authenticated principal", ref)
		}
		return c.UserID, nil
	case "CURRENT_TENANT":
		if c.TenantID == "" {
			return nil, errs.PermissionDeniedf("dynamic variable $%s: no tenant in context", ref)
		}
		return c.TenantID, nil
	}

	if attr, ok := strings.CutPrefix(ref, "CURRENT_USER."); ok {
		value, ok := c.UserAttrs[attr]
		if !ok {
			return nil, errs.PermissionDeniedf("dynamic variable $%s: attribute %s not present", ref, attr)
		}
		return value, nil
	}

	return nil, errs.PermissionDeniedf("unknown dynamic variable $%s", ref)
}

// Substitute 把条件树中的动态变量代换为上下文取值
// 纯函数：总是构造新树，入参树不被改写
func Substitute(node filter.Node, ctx *Context) (filter.Node, error) {
	if node == nil {
		return nil, nil
	}

	switch n := node.(type) {
	case *filter.And:
		children, err := substituteChildren(n.Children, ctx)
		if err != nil {
			return nil, err
		}
		return &filter.And{Children: children}, nil

	case *filter.Or:
		children, err := substituteChildren(n.Children, ctx)
		if err != nil {
			return nil, err
		}
		return &filter.Or{Children: children}, nil

	case *filter.Comparison:
		if n.Value.Kind != filter.ValueKindVar {
			return n, nil
		}
		resolved, err := ctx.resolveRef(n.Value.Ref)
		if err != nil {
			return nil, err
		}
		value := filter.Value{Kind: filter.ValueKindLiteral, Literal: resolved}
		if items, ok := resolved.([]interface{}); ok {
			value = filter.Value{Kind: filter.ValueKindArray, Array: items}
		}
		return &filter.Comparison{Path: n.Path, Operator: n.Operator, Value: value}, nil
	}

	return node, nil
}

func substituteChildren(children []filter.Node, ctx *Context) ([]filter.Node, error) {
	result := make([]filter.Node, 0, len(children))
	for _, child := range children {
		node, err := Substitute(child, ctx)
		if err != nil {
			return nil, err
		}
		result = append(result, node)
	}
	return result, nil
}
