package filter

import (
	"sort"
	"strings"

	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/schema"
)

// 逻辑运算符键名
const (
	keyAnd = "AND"
	keyOr  = "OR"
)

// anyOf junction 行自身的伪字段名
const (
	PseudoCollection = "collection"
	PseudoID         = "id"
)

// CompilerOptions 条件编译器配置
type CompilerOptions struct {
	// 路径最大关系深度，超出判为非法查询
	MaxDepth int `cfg:"maxDepth" def:"5"`
}

// Compiler 条件编译器
// 把嵌套过滤对象编译为规范化条件树，纯函数、可并发使用
type Compiler struct {
	maxDepth int
}

// NewCompilerWithOptions 创建条件编译器
func NewCompilerWithOptions(options *CompilerOptions) *Compiler {
	if options == nil {
		options = &CompilerOptions{}
	}
	maxDepth := options.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Compiler{maxDepth: maxDepth}
}

// Compile 编译原始过滤对象，空对象返回 nil 节点
func (c *Compiler) Compile(snapshot *schema.Snapshot, collection string, raw map[string]interface{}) (Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if _, err := snapshot.Collection(collection); err != nil {
		return nil, err
	}
	return c.compileObject(snapshot, collection, raw)
}

// compileObject 单个对象内的多个键隐式 AND
func (c *Compiler) compileObject(snapshot *schema.Snapshot, collection string, raw map[string]interface{}) (Node, error) {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	// 固定键序，同一输入总是产出同一棵树
	sort.Strings(keys)

	children := make([]Node, 0, len(keys))
	for _, key := range keys {
		value := raw[key]
		switch key {
		case keyAnd, keyOr:
			items, ok := value.([]interface{})
			if !ok {
				return nil, errs.InvalidFilterf("%s expects an array of sub-filters", key)
			}
			subNodes := make([]Node, 0, len(items))
			for _, item := range items {
				sub, ok := item.(map[string]interface{})
				if !ok {
					return nil, errs.InvalidFilterf("%s expects objects as children", key)
				}
				node, err := c.compileObject(snapshot, collection, sub)
				if err != nil {
					return nil, err
				}
				if node != nil {
					subNodes = append(subNodes, node)
				}
			}
			if len(subNodes) == 0 {
				continue
			}
			if key == keyAnd {
				children = append(children, NewAnd(subNodes...))
			} else {
				children = append(children, NewOr(subNodes...))
			}

		default:
			node, err := c.compileComparison(snapshot, collection, key, value)
			if err != nil {
				return nil, err
			}
			children = append(children, node)
		}
	}

	return NewAnd(children...), nil
}

func (c *Compiler) compileComparison(snapshot *schema.Snapshot, collection string, rawPath string, rawValue interface{}) (Node, error) {
	path, err := c.ResolvePath(snapshot, collection, rawPath)
	if err != nil {
		return nil, err
	}

	opObject, ok := rawValue.(map[string]interface{})
	if !ok {
		return nil, errs.InvalidFilterf("field %s expects an operator object like {\"eq\": value}", rawPath)
	}
	if len(opObject) == 0 {
		return nil, errs.InvalidFilterf("field %s has an empty operator object", rawPath)
	}

	ops := make([]string, 0, len(opObject))
	for op := range opObject {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	// 一个字段上的多个运算符隐式 AND
	children := make([]Node, 0, len(ops))
	for _, op := range ops {
		fieldType := schema.FieldType("")
		if path.Field != nil {
			fieldType = path.Field.Type
		}
		value, err := parseValue(rawPath, Operator(op), opObject[op], fieldType)
		if err != nil {
			return nil, err
		}
		children = append(children, &Comparison{
			Path:     path,
			Operator: Operator(op),
			Value:    value,
		})
	}

	return NewAnd(children...), nil
}

// ResolvePath 解析点分字段路径
// 除末段外每段必须是当前集合上的关系别名；穿过 anyOf 关系时
// 下一段要么选中一个目标集合分支，要么是 junction 行伪字段 collection/id
func (c *Compiler) ResolvePath(snapshot *schema.Snapshot, collection string, rawPath string) (*Path, error) {
	segments := splitPath(rawPath)
	if len(segments) == 0 {
		return nil, errs.InvalidFilterf("empty field path")
	}

	current, err := snapshot.Collection(collection)
	if err != nil {
		return nil, err
	}

	path := &Path{Raw: rawPath}
	for i := 0; i < len(segments); i++ {
		if len(path.Steps) > c.maxDepth {
			return nil, errs.InvalidQueryf("field path %s exceeds max relation depth %d", rawPath, c.maxDepth)
		}

		segment := segments[i]
		last := i == len(segments)-1

		if last {
			field, ok := current.Field(segment)
			if !ok {
				if _, isRel := current.Relationship(segment); isRel {
					return nil, errs.InvalidFilterf("path %s ends in relationship %s, expected a field", rawPath, segment)
				}
				return nil, errs.InvalidFilterf("unknown field %s in path %s", segment, rawPath)
			}
			path.Collection = current.Name
			path.Field = field
			return path, nil
		}

		relation, ok := current.Relationship(segment)
		if !ok {
			return nil, errs.InvalidFilterf("unknown relationship %s in path %s", segment, rawPath)
		}

		if relation.Kind == schema.RelationAnyOf {
			next := segments[i+1]
			nextLast := i+1 == len(segments)-1

			// junction 行伪字段：判别列与目标 ID 列
			if nextLast && (next == PseudoCollection || next == PseudoID) {
				junction, err := snapshot.Collection(relation.Junction)
				if err != nil {
					return nil, err
				}
				fieldName := relation.Discriminator
				if next == PseudoID {
					fieldName = relation.ItemKey
				}
				field, ok := junction.Field(fieldName)
				if !ok {
					return nil, errs.InvalidFilterf("junction %s has no field %s in path %s", relation.Junction, fieldName, rawPath)
				}
				path.Steps = append(path.Steps, Step{Relation: relation})
				path.Collection = junction.Name
				path.Field = field
				path.JunctionPseudo = next
				return path, nil
			}

			if !containsString(relation.Targets, next) {
				return nil, errs.InvalidFilterf("segment %s after polymorphic relationship %s must name one of its targets %v in path %s",
					next, segment, relation.Targets, rawPath)
			}
			target, err := snapshot.Collection(next)
			if err != nil {
				return nil, err
			}
			path.Steps = append(path.Steps, Step{Relation: relation, Branch: next})
			current = target
			i++ // 分支段已消费
			continue
		}

		target, err := snapshot.Collection(relation.Target)
		if err != nil {
			return nil, err
		}
		path.Steps = append(path.Steps, Step{Relation: relation})
		current = target
	}

	return nil, errs.InvalidFilterf("field path %s does not terminate in a field", rawPath)
}

// RelationPath 只含关系段的路径，末端落在某个集合而不是字段
type RelationPath struct {
	Raw        string
	Steps      []Step
	Collection string // 末端集合
}

// ResolveRelationPath 解析纯关系路径，如 author、comments、items.posts
// 每段都必须是关系别名，穿过 anyOf 时下一段选中目标分支
func (c *Compiler) ResolveRelationPath(snapshot *schema.Snapshot, collection string, rawPath string) (*RelationPath, error) {
	segments := splitPath(rawPath)
	if len(segments) == 0 {
		return nil, errs.InvalidQueryf("empty relation path")
	}

	current, err := snapshot.Collection(collection)
	if err != nil {
		return nil, err
	}

	path := &RelationPath{Raw: rawPath}
	for i := 0; i < len(segments); i++ {
		if len(path.Steps) > c.maxDepth {
			return nil, errs.InvalidQueryf("relation path %s exceeds max relation depth %d", rawPath, c.maxDepth)
		}

		segment := segments[i]
		relation, ok := current.Relationship(segment)
		if !ok {
			return nil, errs.InvalidQueryf("unknown relationship %s in path %s", segment, rawPath)
		}

		if relation.Kind == schema.RelationAnyOf {
			if i+1 >= len(segments) {
				return nil, errs.InvalidQueryf("polymorphic relationship %s in path %s requires a target branch", segment, rawPath)
			}
			next := segments[i+1]
			if !containsString(relation.Targets, next) {
				return nil, errs.InvalidQueryf("segment %s after polymorphic relationship %s must name one of its targets %v in path %s",
					next, segment, relation.Targets, rawPath)
			}
			target, err := snapshot.Collection(next)
			if err != nil {
				return nil, err
			}
			path.Steps = append(path.Steps, Step{Relation: relation, Branch: next})
			current = target
			i++
			continue
		}

		target, err := snapshot.Collection(relation.Target)
		if err != nil {
			return nil, err
		}
		path.Steps = append(path.Steps, Step{Relation: relation})
		current = target
	}

	path.Collection = current.Name
	return path, nil
}

// splitPath 拆分点分路径，逐段剥除 $name$ 旧式定界符
func splitPath(rawPath string) []string {
	parts := strings.Split(rawPath, ".")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		segment := strings.TrimSpace(part)
		if len(segment) >= 2 && segment[0] == '$' && segment[len(segment)-1] == '$' {
			segment = segment[1 : len(segment)-1]
		}
		if segment == "" {
			return nil
		}
		segments = append(segments, segment)
	}
	return segments
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
