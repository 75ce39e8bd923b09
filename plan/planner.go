package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/filter"
	"github.com/hatlonely/relx/schema"
)

// PlannerOptions 查询规划器配置
type PlannerOptions struct {
	// SQL 方言：mysql, sqlite3
	Dialect string `cfg:"dialect" def:"mysql" validate:"omitempty,oneof=mysql sqlite3"`
}

// Planner 关系查询规划器
// 纯转换：同一快照与输入总是产出同一计划，可并发使用
type Planner struct {
	compiler *filter.Compiler
	dialect  string
}

// NewPlannerWithOptions 创建查询规划器
func NewPlannerWithOptions(compiler *filter.Compiler, options *PlannerOptions) *Planner {
	if options == nil {
		options = &PlannerOptions{}
	}
	dialect := options.Dialect
	if dialect == "" {
		dialect = "mysql"
	}
	return &Planner{compiler: compiler, dialect: dialect}
}

// Dialect 规划器使用的 SQL 方言
func (p *Planner) Dialect() string {
	return p.dialect
}

// Plan 把条件树与字段选择树规划为可执行计划
func (p *Planner) Plan(snapshot *schema.Snapshot, collection string, input *Input) (*Plan, error) {
	root, err := snapshot.Collection(collection)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = &Input{}
	}
	if err := checkResolved(input.Condition); err != nil {
		return nil, err
	}
	for _, scope := range input.RelConditions {
		if err := checkResolved(scope); err != nil {
			return nil, err
		}
	}

	plan := &Plan{
		Collection: collection,
		RootAlias:  "t0",
		Dialect:    p.dialect,
		Where:      input.Condition,
		GroupBy:    input.GroupBy,
		Aggregates: input.Aggregates,
		Sorts:      input.Sorts,
		Page:       input.Page,
		SoftDelete: root.SoftDelete,
		snapshot:   snapshot,
		aliases:    map[string]string{"": "t0"},
		relScopes:  input.RelConditions,
	}

	b := &planBuilder{
		planner:  p,
		snapshot: snapshot,
		root:     root,
		input:    input,
		plan:     plan,
	}

	// 条件里穿过 to-one 关系的路径需要连接；是否必须存在决定连接类型
	b.collectConditionJoins(input.Condition, false)

	if plan.Grouped() {
		if err := b.buildGrouped(); err != nil {
			return nil, err
		}
	} else {
		if err := b.buildProjection(); err != nil {
			return nil, err
		}
	}

	if err := b.buildSorts(); err != nil {
		return nil, err
	}

	return plan, nil
}

type planBuilder struct {
	planner  *Planner
	snapshot *schema.Snapshot
	root     *schema.Collection
	input    *Input
	plan     *Plan
}

// collectConditionJoins 为条件中的 to-one 路径建连接
// AND 脊上的非 isNull 比较要求关系存在，连接升级为 INNER；
// OR 之下的比较不能因连接吃掉兄弟分支的行，保持 LEFT
func (b *planBuilder) collectConditionJoins(node filter.Node, underOr bool) {
	if node == nil {
		return
	}
	switch n := node.(type) {
	case *filter.And:
		for _, child := range n.Children {
			b.collectConditionJoins(child, underOr)
		}
	case *filter.Or:
		for _, child := range n.Children {
			b.collectConditionJoins(child, true)
		}
	case *filter.Comparison:
		if n.Path.ToMany() {
			// 一对多路径以 EXISTS 谓词渲染，不建连接
			return
		}
		required := !underOr && n.Operator != filter.OpIsNull
		b.ensureJoinChain(n.Path.Steps, required)
	}
}

// ensureJoinChain 为一串 to-one 关系补齐连接，返回末端表别名
func (b *planBuilder) ensureJoinChain(steps []filter.Step, required bool) string {
	parentAlias := b.plan.RootAlias
	pathKey := ""

	for _, step := range steps {
		if pathKey == "" {
			pathKey = step.Relation.Name
		} else {
			pathKey = pathKey + "." + step.Relation.Name
		}

		if alias, ok := b.plan.aliases[pathKey]; ok {
			if required {
				b.upgradeJoin(pathKey)
			}
			parentAlias = alias
			continue
		}

		alias := fmt.Sprintf("t%d", len(b.plan.aliases))
		kind := JoinLeft
		if required || step.Relation.Required {
			kind = JoinInner
		}
		b.plan.Joins = append(b.plan.Joins, &JoinStep{
			PathKey:     pathKey,
			Relation:    step.Relation,
			ParentAlias: parentAlias,
			Alias:       alias,
			Target:      step.Relation.Target,
			Kind:        kind,
			Scope:       b.input.RelConditions[pathKey],
		})
		b.plan.aliases[pathKey] = alias
		parentAlias = alias
	}
	return parentAlias
}

func (b *planBuilder) upgradeJoin(pathKey string) {
	for _, join := range b.plan.Joins {
		if join.PathKey == pathKey {
			join.Kind = JoinInner
			return
		}
	}
}

// buildProjection 构建投影列与一对多子计划
func (b *planBuilder) buildProjection() error {
	if err := b.projectCollection(b.root, b.input.Fields, "", b.plan.RootAlias); err != nil {
		return err
	}

	// 子计划按父行主键合并，主键列必须在投影中
	b.ensureColumn("", b.plan.RootAlias, b.root.PrimaryKey().Name)
	return nil
}

// projectCollection 递归处理一个集合的字段选择
// prefix 为结果列名前缀（to-one 嵌套用点分路径），alias 为该集合的表别名
func (b *planBuilder) projectCollection(col *schema.Collection, tree *FieldTree, prefix string, alias string) error {
	fields, err := b.expandFields(col, tree, prefix)
	if err != nil {
		return err
	}
	for _, field := range fields {
		b.ensureColumn(prefix, alias, field)
	}

	if tree == nil {
		return nil
	}

	names := make([]string, 0, len(tree.Relations))
	for name := range tree.Relations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		subTree := tree.Relations[name]
		relation, ok := col.Relationship(name)
		if !ok {
			return errs.InvalidQueryf("unknown relationship %s on collection %s", name, col.Name)
		}

		pathKey := name
		if prefix != "" {
			pathKey = prefix + "." + name
		}

		if relation.ToMany() {
			// 一对多选择走子计划；同一关系若同时出现在过滤中，
			// 过滤以 EXISTS 渲染，二者互不复制连接
			child := &ChildPlan{
				Name:     pathKey,
				Relation: relation,
				Fields:   subTree,
				Scope:    b.input.RelConditions[pathKey],
			}
			// 多态关系的局部条件键带分支限定，逐分支挑出
			if relation.Kind == schema.RelationAnyOf {
				for _, branch := range relation.Targets {
					scope := b.input.RelConditions[pathKey+"."+branch]
					if scope == nil {
						continue
					}
					if child.BranchScopes == nil {
						child.BranchScopes = map[string]filter.Node{}
					}
					child.BranchScopes[branch] = scope
				}
			}
			b.plan.ChildPlans = append(b.plan.ChildPlans, child)
			// 父行键：hasMany/m2m/anyOf 都按当前集合主键匹配
			b.ensureColumn(prefix, alias, col.PrimaryKey().Name)
			continue
		}

		steps := []filter.Step{{Relation: relation}}
		childAlias := b.ensureJoinChainAt(alias, pathKey, steps, false)
		target, err := b.snapshot.Collection(relation.Target)
		if err != nil {
			return err
		}
		if err := b.projectCollection(target, subTree, pathKey, childAlias); err != nil {
			return err
		}
	}

	if len(tree.Branches) > 0 {
		return errs.InvalidQueryf("branch selection is only valid under a polymorphic relationship")
	}
	return nil
}

// ensureJoinChainAt 在给定父别名下补一步 to-one 连接
func (b *planBuilder) ensureJoinChainAt(parentAlias string, pathKey string, steps []filter.Step, required bool) string {
	if alias, ok := b.plan.aliases[pathKey]; ok {
		return alias
	}
	relation := steps[0].Relation
	alias := fmt.Sprintf("t%d", len(b.plan.aliases))
	kind := JoinLeft
	if required || relation.Required {
		kind = JoinInner
	}
	b.plan.Joins = append(b.plan.Joins, &JoinStep{
		PathKey:     pathKey,
		Relation:    relation,
		ParentAlias: parentAlias,
		Alias:       alias,
		Target:      relation.Target,
		Kind:        kind,
		Scope:       b.input.RelConditions[pathKey],
	})
	b.plan.aliases[pathKey] = alias
	return alias
}

// expandFields 展开一个集合上的字段选择，校验未知字段
func (b *planBuilder) expandFields(col *schema.Collection, tree *FieldTree, prefix string) ([]string, error) {
	if tree.All() {
		fields := make([]string, 0, len(col.Fields))
		for _, f := range col.Fields {
			fields = append(fields, f.Name)
		}
		return fields, nil
	}

	fields := make([]string, 0, len(tree.Fields))
	for _, name := range tree.Fields {
		if _, ok := col.Field(name); !ok {
			at := name
			if prefix != "" {
				at = prefix + "." + name
			}
			return nil, errs.InvalidQueryf("unknown field %s on collection %s", at, col.Name)
		}
		fields = append(fields, name)
	}
	return fields, nil
}

func (b *planBuilder) ensureColumn(prefix string, alias string, field string) {
	name := field
	if prefix != "" {
		name = prefix + "." + field
	}
	for _, c := range b.plan.Columns {
		if c.Name == name {
			return
		}
	}
	b.plan.Columns = append(b.plan.Columns, Column{Name: name, TableAlias: alias, Field: field})
}

// buildGrouped 校验分组聚合并规划关系字段的二阶段合并
func (b *planBuilder) buildGrouped() error {
	groupFields := map[string]bool{}
	for _, key := range b.input.GroupBy {
		field, ok := b.root.Field(key.Field)
		if !ok {
			return errs.InvalidQueryf("unknown group field %s on collection %s", key.Field, b.root.Name)
		}
		if key.Trunc != TruncNone && field.Type != schema.FieldTypeDateTime {
			return errs.InvalidQueryf("date truncation %s requires a datetime field, %s is %s", key.Trunc, key.Field, field.Type)
		}
		switch key.Trunc {
		case TruncNone, TruncYear, TruncMonth, TruncDay, TruncWeekday, TruncISOWeekday:
		default:
			return errs.InvalidQueryf("unknown date truncation %s", key.Trunc)
		}
		if key.Trunc == TruncNone {
			groupFields[key.Field] = true
		}
	}

	for _, agg := range b.input.Aggregates {
		switch agg.Func {
		case AggCount, AggSum, AggAvg, AggMin, AggMax:
		default:
			return errs.InvalidQueryf("unknown aggregate function %s", agg.Func)
		}
		if agg.Field == "" {
			if agg.Func != AggCount {
				return errs.InvalidQueryf("aggregate %s requires a field", agg.Func)
			}
			continue
		}
		field, ok := b.root.Field(agg.Field)
		if !ok {
			return errs.InvalidQueryf("unknown aggregate field %s on collection %s", agg.Field, b.root.Name)
		}
		if agg.Func == AggSum || agg.Func == AggAvg {
			if field.Type != schema.FieldTypeInteger && field.Type != schema.FieldTypeDecimal {
				return errs.InvalidQueryf("aggregate %s requires a numeric field, %s is %s", agg.Func, agg.Field, field.Type)
			}
		}
	}

	// 分组下选择关系路径字段时走二阶段：
	// 单条连接查询要么炸开分组粒度，要么被迫把关系字段也当组键
	if b.input.Fields == nil {
		return nil
	}
	for _, raw := range b.input.Fields.Fields {
		if !strings.Contains(raw, ".") && !groupFields[raw] {
			return errs.InvalidQueryf("selected field %s must be a group key when grouping is active", raw)
		}
	}
	names := make([]string, 0, len(b.input.Fields.Relations))
	for name := range b.input.Fields.Relations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		subTree := b.input.Fields.Relations[name]
		relation, ok := b.root.Relationship(name)
		if !ok {
			return errs.InvalidQueryf("unknown relationship %s on collection %s", name, b.root.Name)
		}
		if relation.Kind == schema.RelationAnyOf {
			// 二阶段合并不跨多态关系
			return errs.InvalidQueryf("grouped queries cannot select fields through polymorphic relationship %s", name)
		}
		if relation.Kind != schema.RelationBelongsTo {
			return errs.InvalidQueryf("grouped queries can only select fields through belongsTo relationships, %s is %s", name, relation.Kind)
		}
		if !groupFields[relation.ForeignKey] {
			return errs.InvalidQueryf("relationship %s requires its foreign key %s among the group keys", name, relation.ForeignKey)
		}

		target, err := b.snapshot.Collection(relation.Target)
		if err != nil {
			return err
		}
		fields, err := b.expandFields(target, subTree, name)
		if err != nil {
			return err
		}
		b.plan.TwoPhase = append(b.plan.TwoPhase, &GroupRelPhase{
			Name:       name,
			ForeignKey: relation.ForeignKey,
			Target:     relation.Target,
			TargetPK:   target.PrimaryKey().Name,
			Fields:     fields,
		})
	}
	return nil
}

// buildSorts 校验排序项并为 to-one 排序路径建连接
func (b *planBuilder) buildSorts() error {
	for i := range b.plan.Sorts {
		s := &b.plan.Sorts[i]

		if s.Field == DistanceField {
			if s.Distance == nil {
				return errs.InvalidQueryf("distance sort requires a geometry field and target point")
			}
			field, ok := b.root.Field(s.Distance.Field)
			if !ok {
				return errs.InvalidQueryf("unknown geometry field %s on collection %s", s.Distance.Field, b.root.Name)
			}
			if field.Type != schema.FieldTypeGeometry {
				return errs.InvalidQueryf("distance sort requires a geometry field, %s is %s", s.Distance.Field, field.Type)
			}
			continue
		}

		if strings.Contains(s.Field, ".") {
			path, err := b.planner.compiler.ResolvePath(b.snapshot, b.root.Name, s.Field)
			if err != nil {
				return err
			}
			if path.ToMany() {
				return errs.InvalidQueryf("cannot sort by to-many path %s", s.Field)
			}
			b.ensureJoinChain(path.Steps, false)
			continue
		}

		if b.plan.Grouped() {
			// 分组查询按组键别名或聚合别名排序，执行期校验
			continue
		}
		if _, ok := b.root.Field(s.Field); !ok {
			return errs.InvalidQueryf("unknown sort field %s on collection %s", s.Field, b.root.Name)
		}
	}
	return nil
}
