package plan

import (
	"strings"

	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/filter"
	"github.com/hatlonely/relx/schema"
)

// FieldTree 字段选择树
// Fields 为本集合字段，含 "*" 时表示全部；Relations 为关系别名到子树；
// anyOf 关系的子树按目标集合名挂在 Branches 下
type FieldTree struct {
	Fields    []string
	Relations map[string]*FieldTree
	Branches  map[string]*FieldTree // 仅 anyOf 子树使用
}

// All 是否选择本集合全部字段
func (t *FieldTree) All() bool {
	if t == nil {
		return true
	}
	if len(t.Fields) == 0 && len(t.Relations) == 0 && len(t.Branches) == 0 {
		return true
	}
	for _, f := range t.Fields {
		if f == "*" {
			return true
		}
	}
	return false
}

// ParseFieldTree 从点分路径列表构造字段选择树
// 如 ["id", "title", "author.name", "items.posts.title", "items.collection"]
func ParseFieldTree(paths []string) *FieldTree {
	if len(paths) == 0 {
		return nil
	}
	root := &FieldTree{}
	for _, path := range paths {
		node := root
		segments := strings.Split(path, ".")
		for i, segment := range segments {
			if i == len(segments)-1 {
				node.Fields = append(node.Fields, segment)
				break
			}
			if node.Relations == nil {
				node.Relations = map[string]*FieldTree{}
			}
			child, ok := node.Relations[segment]
			if !ok {
				child = &FieldTree{}
				node.Relations[segment] = child
			}
			node = child
		}
	}
	return root
}

// Sort 排序项，Field 为 "_distance" 时按到目标点的距离排序
type Sort struct {
	Field    string
	Desc     bool
	Distance *DistanceSort
}

// DistanceSort 距离排序参数
type DistanceSort struct {
	Field  string // 几何字段
	Target string // 目标点 WKT
}

// DistanceField 距离伪排序字段名
const DistanceField = "_distance"

// Pagination 分页窗口
// Limit 为 -1 表示不设上限；为 0 且带聚合时表示只要聚合不要行
type Pagination struct {
	Limit int
	Page  int // 从 1 起
}

// Offset 计算窗口偏移
func (p Pagination) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// DateTrunc 日期截断粒度
type DateTrunc string

const (
	TruncNone       DateTrunc = ""
	TruncYear       DateTrunc = "year"
	TruncMonth      DateTrunc = "month"
	TruncDay        DateTrunc = "day"
	TruncWeekday    DateTrunc = "weekday"
	TruncISOWeekday DateTrunc = "isoWeekday"
)

// GroupKey 分组键，普通字段或日期截断伪字段
type GroupKey struct {
	Field string
	Trunc DateTrunc
}

// Alias 分组键在结果中的列名
func (k GroupKey) Alias() string {
	if k.Trunc == TruncNone {
		return k.Field
	}
	return k.Field + "_" + string(k.Trunc)
}

// AggFunc 聚合函数
type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggAvg   AggFunc = "avg"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// Aggregate 聚合表达式，Field 为空的 count 即 count(*)
type Aggregate struct {
	Func  AggFunc
	Field string
	Alias string
}

// Name 聚合结果列名
func (a Aggregate) Name() string {
	if a.Alias != "" {
		return a.Alias
	}
	if a.Field == "" {
		return string(a.Func)
	}
	return string(a.Func) + "_" + a.Field
}

// Input 规划输入，条件与字段树都已通过权限层
type Input struct {
	Condition     filter.Node
	RelConditions map[string]filter.Node
	Fields        *FieldTree
	Sorts         []Sort
	Page          Pagination
	GroupBy       []GroupKey
	Aggregates    []Aggregate
}

// JoinKind 连接类型
type JoinKind string

const (
	JoinLeft  JoinKind = "LEFT"
	JoinInner JoinKind = "INNER"
)

// JoinStep 一步 to-one 连接
type JoinStep struct {
	PathKey     string // 去重键，如 author、author.company
	Relation    *schema.Relationship
	ParentAlias string
	Alias       string
	Target      string
	Kind        JoinKind
	Scope       filter.Node // 关系局部条件，进 ON 子句
}

// Column 投影列
type Column struct {
	Name       string // 结果列名，关系字段为点分路径
	TableAlias string
	Field      string
}

// ChildPlan 一对多关系的子查询计划，按父行批量取数后合并
type ChildPlan struct {
	Name     string // 关系别名
	Relation *schema.Relationship
	Fields   *FieldTree
	Scope    filter.Node // 关系局部条件，进子查询 WHERE
	// 多态关系的局部条件按分支限定（"items.images"），取分支行时并入
	BranchScopes map[string]filter.Node
}

// GroupRelPhase 分组聚合下关系路径字段的二阶段合并
// 先在基表上算分组聚合，再按组键取关系数据合并
type GroupRelPhase struct {
	Name       string // 关系别名
	ForeignKey string // 基表上的外键，必须同时是分组键
	Target     string
	TargetPK   string
	Fields     []string // 选择的目标集合字段
}

// Plan 可执行查询计划
type Plan struct {
	Collection string
	RootAlias  string
	Dialect    string

	Joins      []*JoinStep
	Where      filter.Node
	Columns    []Column
	ChildPlans []*ChildPlan
	TwoPhase   []*GroupRelPhase

	GroupBy    []GroupKey
	Aggregates []Aggregate
	Sorts      []Sort
	Page       Pagination

	// 软删除集合隐式过滤 deleted_at IS NULL
	SoftDelete bool

	snapshot  *schema.Snapshot
	aliases   map[string]string      // to-one 路径 → 表别名
	relScopes map[string]filter.Node // 关系路径 → 关系局部条件
}

// Grouped 是否为分组/聚合查询
func (p *Plan) Grouped() bool {
	return len(p.GroupBy) > 0 || len(p.Aggregates) > 0
}

// JoinSet 计划触达的全部集合，含 junction，供缓存失效追踪
func (p *Plan) JoinSet() []string {
	seen := map[string]bool{p.Collection: true}
	add := func(name string) {
		if name != "" {
			seen[name] = true
		}
	}

	for _, join := range p.Joins {
		add(join.Target)
	}
	collectConditionCollections(p.Where, add)
	for _, child := range p.ChildPlans {
		addRelationCollections(child.Relation, add)
		collectConditionCollections(child.Scope, add)
		for _, scope := range child.BranchScopes {
			collectConditionCollections(scope, add)
		}
	}
	for _, phase := range p.TwoPhase {
		add(phase.Target)
	}

	result := make([]string, 0, len(seen))
	for name := range seen {
		result = append(result, name)
	}
	return result
}

func addRelationCollections(r *schema.Relationship, add func(string)) {
	add(r.Target)
	add(r.Junction)
	for _, t := range r.Targets {
		add(t)
	}
}

func collectConditionCollections(node filter.Node, add func(string)) {
	filter.Walk(node, func(n filter.Node) bool {
		if cmp, ok := n.(*filter.Comparison); ok {
			add(cmp.Path.Collection)
			for _, step := range cmp.Path.Steps {
				addRelationCollections(step.Relation, add)
			}
		}
		return true
	})
}

// checkResolved 计划期条件树中不允许残留动态变量
func checkResolved(node filter.Node) error {
	var unresolved string
	filter.Walk(node, func(n filter.Node) bool {
		if cmp, ok := n.(*filter.Comparison); ok {
			if cmp.Value.Kind == filter.ValueKindVar && unresolved == "" {
				unresolved = cmp.Value.Ref
			}
		}
		return true
	})
	if unresolved != "" {
		return errs.PermissionDeniedf("unresolved dynamic variable $%s reached the planner", unresolved)
	}
	return nil
}
