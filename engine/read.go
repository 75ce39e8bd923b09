package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/filter"
	"github.com/hatlonely/relx/perm"
	"github.com/hatlonely/relx/plan"
	"github.com/hatlonely/relx/schema"
)

// Query 读请求
type Query struct {
	// 原始过滤对象，嵌套 AND/OR 与字段路径
	Filter map[string]interface{}

	// 点分字段选择路径，空表示全部授权字段
	Fields []string

	Sorts      []plan.Sort
	Pagination *plan.Pagination
	GroupBy    []plan.GroupKey
	Aggregates []plan.Aggregate
}

// ReadResult 读结果
type ReadResult struct {
	Data  []map[string]interface{} `json:"data"`
	Total int64                    `json:"total"`
}

// ReadByQuery 权限内读数
// 条件编译 → 权限合并 → 规划 → 缓存 → 执行，
// 结果中的关系字段按选择树嵌套展开
func (e *Engine) ReadByQuery(
	ctx context.Context,
	collection string,
	query *Query,
	role string,
	pctx *perm.Context,
	bypass bool,
) (*ReadResult, error) {
	if query == nil {
		query = &Query{}
	}
	snapshot := e.registry.Snapshot()
	root, err := snapshot.Collection(collection)
	if err != nil {
		return nil, err
	}

	userFilter, err := e.compiler.Compile(snapshot, collection, query.Filter)
	if err != nil {
		return nil, err
	}

	decision, err := e.evaluator.Authorize(
		snapshot, perm.ActionRead, collection, role, userFilter, topSegments(query.Fields), pctx, bypass)
	if err != nil {
		return nil, err
	}

	fieldTree := buildFieldTree(root, query.Fields, decision.Fields)

	page := plan.Pagination{Limit: e.defaultLimit, Page: 1}
	if query.Pagination != nil {
		page = *query.Pagination
	}
	if page.Page <= 0 {
		page.Page = 1
	}

	p, err := e.planner.Plan(snapshot, collection, &plan.Input{
		Condition:     decision.Condition,
		RelConditions: decision.RelConditions,
		Fields:        fieldTree,
		Sorts:         query.Sorts,
		Page:          page,
		GroupBy:       query.GroupBy,
		Aggregates:    query.Aggregates,
	})
	if err != nil {
		return nil, err
	}

	selectSQL, selectArgs, err := p.SelectSQL()
	if err != nil {
		return nil, err
	}

	var cacheKey string
	if e.cache != nil {
		tenant := ""
		if pctx != nil {
			tenant = pctx.TenantID
		}
		// 子查询与关系局部条件都由字段选择和角色推导，签名覆盖其形状
		signature := fmt.Sprintf("%s|%v|fields=%v|role=%s|bypass=%t", selectSQL, selectArgs, query.Fields, role, bypass)
		cacheKey = e.cache.Key(collection, tenant, signature, p.JoinSet())
		if cached, ok := e.cache.Get(ctx, cacheKey); ok {
			return cached, nil
		}
	}

	countSQL, countArgs, err := p.CountSQL()
	if err != nil {
		return nil, err
	}
	var total int64
	if err := e.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, errs.InvalidQueryf("count query failed: %v", err)
	}

	data, err := e.runPlan(ctx, e.db, snapshot, p, selectSQL, selectArgs)
	if err != nil {
		return nil, err
	}

	result := &ReadResult{Data: data, Total: total}
	if e.cache != nil {
		e.cache.Set(ctx, cacheKey, result)
	}
	return result, nil
}

// runPlan 执行计划并补全一对多子计划与分组二阶段数据
// q 为 *sql.DB 或事务内的 *sql.Tx，写路径的校验读共用同一条路径
func (e *Engine) runPlan(ctx context.Context, q querier, snapshot *schema.Snapshot, p *plan.Plan, selectSQL string, args []interface{}) ([]map[string]interface{}, error) {
	flat, err := e.queryMaps(ctx, q, selectSQL, args)
	if err != nil {
		return nil, err
	}

	if p.Grouped() {
		if err := e.resolveGroupPhases(ctx, q, snapshot, p, flat); err != nil {
			return nil, err
		}
		return flat, nil
	}

	rows := make([]map[string]interface{}, 0, len(flat))
	for _, row := range flat {
		rows = append(rows, unflattenRow(row))
	}

	if err := e.resolveChildren(ctx, q, snapshot, p, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// queryMaps 查询并按列名装行
func (e *Engine) queryMaps(ctx context.Context, q querier, querySQL string, args []interface{}) ([]map[string]interface{}, error) {
	rows, err := q.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, errs.InvalidQueryf("query failed: %v", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, name := range columns {
			row[name] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// 驱动把文本列扫成 []byte，统一转成 string
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// unflattenRow 把点分列名还原为嵌套结构
// 连接落空的关系（全列为 NULL）整体置为 nil
func unflattenRow(flat map[string]interface{}) map[string]interface{} {
	result := map[string]interface{}{}
	for name, value := range flat {
		segments := strings.Split(name, ".")
		node := result
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[seg] = child
			}
			node = child
		}
		node[segments[len(segments)-1]] = value
	}
	pruneEmptyRelations(result)
	return result
}

func pruneEmptyRelations(row map[string]interface{}) {
	for name, value := range row {
		child, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		pruneEmptyRelations(child)
		allNil := true
		for _, v := range child {
			if v != nil {
				allNil = false
				break
			}
		}
		if allNil {
			row[name] = nil
		}
	}
}

// resolveChildren 补全一对多子计划数据
// 子计划按父行主键批量取数，一次往返一个关系，不随父行数膨胀
func (e *Engine) resolveChildren(ctx context.Context, q querier, snapshot *schema.Snapshot, p *plan.Plan, rows []map[string]interface{}) error {
	if len(p.ChildPlans) == 0 || len(rows) == 0 {
		return nil
	}

	for _, child := range p.ChildPlans {
		// 子计划可能挂在 to-one 前缀之下，先定位父容器
		segments := strings.Split(child.Name, ".")
		relName := segments[len(segments)-1]
		prefix := segments[:len(segments)-1]

		parentCol, err := collectionAt(snapshot, p.Collection, prefix)
		if err != nil {
			return err
		}
		containers := containersAt(rows, prefix)
		if len(containers) == 0 {
			continue
		}

		switch child.Relation.Kind {
		case schema.RelationHasMany:
			err = e.resolveHasMany(ctx, q, snapshot, child, relName, parentCol, containers)
		case schema.RelationManyToMany:
			err = e.resolveManyToMany(ctx, q, snapshot, child, relName, parentCol, containers)
		case schema.RelationAnyOf:
			err = e.resolveAnyOf(ctx, q, snapshot, child, relName, parentCol, containers)
		default:
			err = errs.InvalidQueryf("relationship %s is not a to-many child", relName)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func collectionAt(snapshot *schema.Snapshot, root string, prefix []string) (*schema.Collection, error) {
	col, err := snapshot.Collection(root)
	if err != nil {
		return nil, err
	}
	for _, seg := range prefix {
		relation, ok := col.Relationship(seg)
		if !ok {
			return nil, errs.InvalidQueryf("unknown relationship %s on collection %s", seg, col.Name)
		}
		col, err = snapshot.Collection(relation.Target)
		if err != nil {
			return nil, err
		}
	}
	return col, nil
}

func containersAt(rows []map[string]interface{}, prefix []string) []map[string]interface{} {
	containers := rows
	for _, seg := range prefix {
		next := make([]map[string]interface{}, 0, len(containers))
		for _, row := range containers {
			if child, ok := row[seg].(map[string]interface{}); ok {
				next = append(next, child)
			}
		}
		containers = next
	}
	return containers
}

func (e *Engine) resolveHasMany(
	ctx context.Context,
	q querier,
	snapshot *schema.Snapshot,
	child *plan.ChildPlan,
	relName string,
	parentCol *schema.Collection,
	containers []map[string]interface{},
) error {
	target, err := snapshot.Collection(child.Relation.Target)
	if err != nil {
		return err
	}
	pk := parentCol.PrimaryKey().Name
	parentIDs := distinctValues(containers, pk)
	if len(parentIDs) == 0 {
		return nil
	}

	fk := child.Relation.ForeignKey
	cond, err := inCondition(target, fk, parentIDs)
	if err != nil {
		return err
	}

	childRows, err := e.fetch(ctx, q, snapshot, target.Name,
		filter.MergeAnd(cond, child.Scope), ensureFields(child.Fields, fk))
	if err != nil {
		return err
	}

	grouped := map[interface{}][]map[string]interface{}{}
	for _, row := range childRows {
		grouped[row[fk]] = append(grouped[row[fk]], row)
	}
	for _, container := range containers {
		rows := grouped[container[pk]]
		if rows == nil {
			rows = []map[string]interface{}{}
		}
		container[relName] = rows
	}
	return nil
}

func (e *Engine) resolveManyToMany(
	ctx context.Context,
	q querier,
	snapshot *schema.Snapshot,
	child *plan.ChildPlan,
	relName string,
	parentCol *schema.Collection,
	containers []map[string]interface{},
) error {
	relation := child.Relation
	target, err := snapshot.Collection(relation.Target)
	if err != nil {
		return err
	}
	pk := parentCol.PrimaryKey().Name
	parentIDs := distinctValues(containers, pk)
	if len(parentIDs) == 0 {
		return nil
	}

	memberships, err := e.junctionRows(ctx, q, snapshot, relation, parentIDs,
		[]string{relation.SourceKey, relation.TargetKey})
	if err != nil {
		return err
	}

	targetIDs := make([]interface{}, 0, len(memberships))
	seen := map[interface{}]bool{}
	for _, m := range memberships {
		id := m[relation.TargetKey]
		if !seen[id] {
			seen[id] = true
			targetIDs = append(targetIDs, id)
		}
	}

	targetPK := target.PrimaryKey().Name
	byID := map[interface{}]map[string]interface{}{}
	if len(targetIDs) > 0 {
		cond, err := inCondition(target, targetPK, targetIDs)
		if err != nil {
			return err
		}
		targetRows, err := e.fetch(ctx, q, snapshot, target.Name,
			filter.MergeAnd(cond, child.Scope), ensureFields(child.Fields, targetPK))
		if err != nil {
			return err
		}
		for _, row := range targetRows {
			byID[row[targetPK]] = row
		}
	}

	grouped := map[interface{}][]map[string]interface{}{}
	for _, m := range memberships {
		// 关系局部条件可能滤掉目标行，对应成员直接不出现
		if row, ok := byID[m[relation.TargetKey]]; ok {
			source := m[relation.SourceKey]
			grouped[source] = append(grouped[source], row)
		}
	}
	for _, container := range containers {
		rows := grouped[container[pk]]
		if rows == nil {
			rows = []map[string]interface{}{}
		}
		container[relName] = rows
	}
	return nil
}

// resolveAnyOf 多态关系的成员列表
// 每个成员形如 {collection, id, item}，item 只含命中分支的数据
func (e *Engine) resolveAnyOf(
	ctx context.Context,
	q querier,
	snapshot *schema.Snapshot,
	child *plan.ChildPlan,
	relName string,
	parentCol *schema.Collection,
	containers []map[string]interface{},
) error {
	relation := child.Relation
	pk := parentCol.PrimaryKey().Name
	parentIDs := distinctValues(containers, pk)
	if len(parentIDs) == 0 {
		return nil
	}

	memberships, err := e.junctionRows(ctx, q, snapshot, relation, parentIDs,
		[]string{relation.SourceKey, relation.Discriminator, relation.ItemKey})
	if err != nil {
		return err
	}

	// 按分支批量取目标行，未选择的分支只保留 junction 信息
	branchRows := map[string]map[interface{}]map[string]interface{}{}
	for _, branch := range relation.Targets {
		subTree := branchTree(child.Fields, branch)
		ids := make([]interface{}, 0)
		seen := map[interface{}]bool{}
		for _, m := range memberships {
			if m[relation.Discriminator] == branch && !seen[m[relation.ItemKey]] {
				seen[m[relation.ItemKey]] = true
				ids = append(ids, m[relation.ItemKey])
			}
		}
		if len(ids) == 0 {
			continue
		}

		target, err := snapshot.Collection(branch)
		if err != nil {
			return err
		}
		targetPK := target.PrimaryKey().Name
		cond, err := inCondition(target, targetPK, ids)
		if err != nil {
			return err
		}
		// 分支局部条件滤掉的行只剩 junction 信息，item 为空
		rows, err := e.fetch(ctx, q, snapshot, branch,
			filter.MergeAnd(cond, child.BranchScopes[branch]), ensureFields(subTree, targetPK))
		if err != nil {
			return err
		}
		byID := map[interface{}]map[string]interface{}{}
		for _, row := range rows {
			byID[row[targetPK]] = row
		}
		branchRows[branch] = byID
	}

	grouped := map[interface{}][]map[string]interface{}{}
	for _, m := range memberships {
		branch, _ := m[relation.Discriminator].(string)
		entry := map[string]interface{}{
			"collection": branch,
			"id":         m[relation.ItemKey],
		}
		if byID, ok := branchRows[branch]; ok {
			entry["item"] = byID[m[relation.ItemKey]]
		} else {
			entry["item"] = nil
		}
		source := m[relation.SourceKey]
		grouped[source] = append(grouped[source], entry)
	}
	for _, container := range containers {
		rows := grouped[container[pk]]
		if rows == nil {
			rows = []map[string]interface{}{}
		}
		container[relName] = rows
	}
	return nil
}

// junctionRows 读 junction 行，关系局部条件作用于 junction 集合
func (e *Engine) junctionRows(
	ctx context.Context,
	q querier,
	snapshot *schema.Snapshot,
	relation *schema.Relationship,
	parentIDs []interface{},
	fields []string,
) ([]map[string]interface{}, error) {
	junction, err := snapshot.Collection(relation.Junction)
	if err != nil {
		return nil, err
	}
	cond, err := inCondition(junction, relation.SourceKey, parentIDs)
	if err != nil {
		return nil, err
	}
	return e.fetch(ctx, q, snapshot, junction.Name, cond, &plan.FieldTree{Fields: fields})
}

// fetch 规划并执行一次无分页子查询，递归补全其子计划
func (e *Engine) fetch(
	ctx context.Context,
	q querier,
	snapshot *schema.Snapshot,
	collection string,
	condition filter.Node,
	fields *plan.FieldTree,
) ([]map[string]interface{}, error) {
	p, err := e.planner.Plan(snapshot, collection, &plan.Input{
		Condition: condition,
		Fields:    fields,
		Page:      plan.Pagination{Limit: -1},
	})
	if err != nil {
		return nil, err
	}
	selectSQL, args, err := p.SelectSQL()
	if err != nil {
		return nil, err
	}
	return e.runPlan(ctx, q, snapshot, p, selectSQL, args)
}

// resolveGroupPhases 分组聚合的二阶段关系合并
func (e *Engine) resolveGroupPhases(ctx context.Context, q querier, snapshot *schema.Snapshot, p *plan.Plan, rows []map[string]interface{}) error {
	for _, phase := range p.TwoPhase {
		ids := distinctValues(rows, phase.ForeignKey)
		byID := map[interface{}]map[string]interface{}{}

		if len(ids) > 0 {
			target, err := snapshot.Collection(phase.Target)
			if err != nil {
				return err
			}
			cond, err := inCondition(target, phase.TargetPK, ids)
			if err != nil {
				return err
			}
			fields := &plan.FieldTree{Fields: appendMissing(phase.Fields, phase.TargetPK)}
			targetRows, err := e.fetch(ctx, q, snapshot, phase.Target, cond, fields)
			if err != nil {
				return err
			}
			for _, row := range targetRows {
				byID[row[phase.TargetPK]] = row
			}
		}

		for _, row := range rows {
			if related, ok := byID[row[phase.ForeignKey]]; ok {
				row[phase.Name] = related
			} else {
				row[phase.Name] = nil
			}
		}
	}
	return nil
}

func inCondition(col *schema.Collection, field string, values []interface{}) (*filter.Comparison, error) {
	f, ok := col.Field(field)
	if !ok {
		return nil, errs.InvalidQueryf("unknown field %s on collection %s", field, col.Name)
	}
	return &filter.Comparison{
		Path:     &filter.Path{Raw: field, Collection: col.Name, Field: f},
		Operator: filter.OpIn,
		Value:    filter.Value{Kind: filter.ValueKindArray, Array: values},
	}, nil
}

func distinctValues(rows []map[string]interface{}, field string) []interface{} {
	values := make([]interface{}, 0, len(rows))
	seen := map[interface{}]bool{}
	for _, row := range rows {
		v := row[field]
		if v == nil || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	return values
}

// ensureFields 在字段树中补上装配需要的键列
func ensureFields(tree *plan.FieldTree, fields ...string) *plan.FieldTree {
	if tree == nil || tree.All() {
		return tree
	}
	clone := &plan.FieldTree{
		Fields:    appendMissing(tree.Fields, fields...),
		Relations: tree.Relations,
		Branches:  tree.Branches,
	}
	return clone
}

func appendMissing(fields []string, extra ...string) []string {
	result := make([]string, len(fields))
	copy(result, fields)
	for _, f := range extra {
		found := false
		for _, existing := range result {
			if existing == f {
				found = true
				break
			}
		}
		if !found {
			result = append(result, f)
		}
	}
	return result
}

// branchTree 取 anyOf 子树中某分支的字段选择
func branchTree(tree *plan.FieldTree, branch string) *plan.FieldTree {
	if tree == nil {
		return nil
	}
	if sub, ok := tree.Branches[branch]; ok {
		return sub
	}
	// 点分路径解析时分支挂在 Relations 下
	if sub, ok := tree.Relations[branch]; ok {
		return sub
	}
	return nil
}

// topSegments 字段路径的顶层段名，供字段掩码求交
func topSegments(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	segments := make([]string, 0, len(fields))
	seen := map[string]bool{}
	for _, f := range fields {
		seg := f
		if idx := strings.Index(f, "."); idx >= 0 {
			seg = f[:idx]
		}
		if !seen[seg] {
			seen[seg] = true
			segments = append(segments, seg)
		}
	}
	return segments
}

// buildFieldTree 按授权掩码裁剪字段选择树
// 被拒字段直接从投影中消失，客户端察觉不到其存在
func buildFieldTree(col *schema.Collection, fields []string, mask *perm.FieldMask) *plan.FieldTree {
	if len(fields) == 0 {
		if mask.Wildcard() {
			return nil
		}
		return &plan.FieldTree{Fields: maskedFields(col, mask)}
	}

	tree := plan.ParseFieldTree(fields)
	if tree.All() {
		if mask.Wildcard() {
			return nil
		}
		tree = &plan.FieldTree{Fields: maskedFields(col, mask), Relations: tree.Relations}
	}

	pruned := &plan.FieldTree{Relations: map[string]*plan.FieldTree{}}
	for _, f := range tree.Fields {
		if mask.Allows(f) {
			pruned.Fields = append(pruned.Fields, f)
		}
	}
	for name, sub := range tree.Relations {
		if mask.Allows(name) {
			pruned.Relations[name] = sub
		}
	}
	if len(pruned.Fields) == 0 && len(pruned.Relations) == 0 {
		// 请求字段全部被拒时只回主键，空树会被当作全选
		pruned.Fields = []string{col.PrimaryKey().Name}
	}
	return pruned
}

func maskedFields(col *schema.Collection, mask *perm.FieldMask) []string {
	fields := make([]string, 0)
	for _, f := range mask.List() {
		if _, ok := col.Field(f); ok {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		fields = []string{col.PrimaryKey().Name}
	}
	return fields
}
