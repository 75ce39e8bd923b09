package filter

import (
	"github.com/hatlonely/relx/schema"
)

// NodeType 条件节点类型
type NodeType string

const (
	NodeTypeComparison NodeType = "comparison"
	NodeTypeAnd        NodeType = "and"
	NodeTypeOr         NodeType = "or"
)

// Node 条件节点接口
// 编译完成后的条件树不可变，权限合并只构造新树，不改写入参
type Node interface {
	NodeType() NodeType
}

// And 逻辑与
type And struct {
	Children []Node
}

func (n *And) NodeType() NodeType {
	return NodeTypeAnd
}

// Or 逻辑或
type Or struct {
	Children []Node
}

func (n *Or) NodeType() NodeType {
	return NodeTypeOr
}

// Comparison 比较节点
type Comparison struct {
	Path     *Path
	Operator Operator
	Value    Value
}

func (n *Comparison) NodeType() NodeType {
	return NodeTypeComparison
}

// ValueKind 比较值类别
type ValueKind string

const (
	ValueKindNone    ValueKind = "none" // isNull / isNotNull
	ValueKindLiteral ValueKind = "literal"
	ValueKindArray   ValueKind = "array"
	ValueKindVar     ValueKind = "var" // 动态变量，求值期由权限层代换
)

// Value 比较值
// 动态变量在编译期保持符号引用，代换推迟到求值期，
// 同一棵编译结果可被不同调用方复用
type Value struct {
	Kind    ValueKind
	Literal interface{}
	Array   []interface{}
	Ref     string // 如 CURRENT_USER.id
}

// GeoArg dwithin 的几何参数
type GeoArg struct {
	Geometry string // WKT
	Distance float64
}

// Step 路径中的一步关系
type Step struct {
	Relation *schema.Relationship
	Branch   string // anyOf 关系选中的目标集合分支
}

// Path 解析后的字段路径
type Path struct {
	Raw        string
	Steps      []Step
	Collection string // 末端字段所在集合
	Field      *schema.FieldDefinition
	// anyOf junction 自身的伪字段：collection 或 id
	JunctionPseudo string
}

// ToMany 路径是否穿过一对多关系
func (p *Path) ToMany() bool {
	for _, step := range p.Steps {
		if step.Relation.ToMany() {
			return true
		}
	}
	return false
}

// Local 路径是否是根集合上的裸字段
func (p *Path) Local() bool {
	return len(p.Steps) == 0
}

// NewAnd 构造逻辑与节点，单子节点时直接返回该子节点
func NewAnd(children ...Node) Node {
	nodes := compact(children)
	if len(nodes) == 1 {
		return nodes[0]
	}
	return &And{Children: nodes}
}

// NewOr 构造逻辑或节点，单子节点时直接返回该子节点
func NewOr(children ...Node) Node {
	nodes := compact(children)
	if len(nodes) == 1 {
		return nodes[0]
	}
	return &Or{Children: nodes}
}

func compact(children []Node) []Node {
	nodes := make([]Node, 0, len(children))
	for _, child := range children {
		if child != nil {
			nodes = append(nodes, child)
		}
	}
	return nodes
}

// MergeAnd 合并用户条件与权限条件
// 总是生成新节点，双方子树原样引用但不被改写
func MergeAnd(user Node, perm Node) Node {
	return NewAnd(user, perm)
}

// Walk 深度优先遍历条件树，fn 返回 false 时停止深入当前子树
func Walk(node Node, fn func(Node) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *And:
		for _, child := range n.Children {
			Walk(child, fn)
		}
	case *Or:
		for _, child := range n.Children {
			Walk(child, fn)
		}
	}
}
