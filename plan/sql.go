package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/filter"
	"github.com/hatlonely/relx/log"
	"github.com/hatlonely/relx/schema"
)

// SelectSQL 渲染查询语句
func (p *Plan) SelectSQL() (string, []interface{}, error) {
	r := &sqlRenderer{plan: p}
	return r.selectSQL(true)
}

// CountSQL 渲染总数语句，分组查询统计组数
func (p *Plan) CountSQL() (string, []interface{}, error) {
	r := &sqlRenderer{plan: p}

	if p.Grouped() {
		inner, args, err := r.groupedSQL(false)
		if err != nil {
			return "", nil, err
		}
		return "SELECT COUNT(*) FROM (" + inner + ") AS `grouped`", args, nil
	}

	where, args, err := r.whereSQL()
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(q(p.Collection) + " " + q(p.RootAlias))
	joins, joinArgs, err := r.joinSQL()
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(joins)
	args = append(joinArgs, args...)
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	return sb.String(), args, nil
}

type sqlRenderer struct {
	plan     *Plan
	aliasSeq int
}

// renderEnv 条件渲染环境：当前根集合、根别名与可用的 to-one 连接别名
type renderEnv struct {
	collection *schema.Collection
	rootAlias  string
	aliases    map[string]string
	// 当前环境相对计划根的关系路径前缀，用于查关系局部条件
	pathPrefix string
}

func (r *sqlRenderer) selectSQL(ordered bool) (string, []interface{}, error) {
	if r.plan.Grouped() {
		return r.groupedSQL(ordered)
	}

	where, whereArgs, err := r.whereSQL()
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	cols := make([]string, 0, len(r.plan.Columns))
	for _, c := range r.plan.Columns {
		cols = append(cols, q(c.TableAlias)+"."+q(c.Field)+" AS "+q(c.Name))
	}
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM " + q(r.plan.Collection) + " " + q(r.plan.RootAlias))

	joins, joinArgs, err := r.joinSQL()
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(joins)

	args := append(joinArgs, whereArgs...)
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}

	if ordered {
		orderBy, orderArgs, err := r.orderSQL()
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(orderBy)
		args = append(args, orderArgs...)
		sb.WriteString(r.limitSQL())
	}

	return sb.String(), args, nil
}

func (r *sqlRenderer) groupedSQL(ordered bool) (string, []interface{}, error) {
	where, whereArgs, err := r.whereSQL()
	if err != nil {
		return "", nil, err
	}

	exprs := make([]string, 0, len(r.plan.GroupBy)+len(r.plan.Aggregates))
	groupExprs := make([]string, 0, len(r.plan.GroupBy))
	for _, key := range r.plan.GroupBy {
		expr, err := r.groupKeyExpr(key)
		if err != nil {
			return "", nil, err
		}
		exprs = append(exprs, expr+" AS "+q(key.Alias()))
		groupExprs = append(groupExprs, expr)
	}
	for _, agg := range r.plan.Aggregates {
		exprs = append(exprs, r.aggregateExpr(agg)+" AS "+q(agg.Name()))
	}
	if len(exprs) == 0 {
		return "", nil, errs.InvalidQueryf("grouped query selects nothing")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + strings.Join(exprs, ", "))
	sb.WriteString(" FROM " + q(r.plan.Collection) + " " + q(r.plan.RootAlias))

	joins, joinArgs, err := r.joinSQL()
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(joins)

	args := append(joinArgs, whereArgs...)
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	if len(groupExprs) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(groupExprs, ", "))
	}

	if ordered {
		if len(r.plan.Sorts) > 0 {
			orders := make([]string, 0, len(r.plan.Sorts))
			for _, s := range r.plan.Sorts {
				if !r.groupedSortable(s.Field) {
					return "", nil, errs.InvalidQueryf("grouped queries sort by group keys or aggregate names, got %s", s.Field)
				}
				orders = append(orders, q(s.Field)+direction(s.Desc))
			}
			sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
		}
		sb.WriteString(r.limitSQL())
	}

	return sb.String(), args, nil
}

func (r *sqlRenderer) groupedSortable(field string) bool {
	for _, key := range r.plan.GroupBy {
		if key.Alias() == field {
			return true
		}
	}
	for _, agg := range r.plan.Aggregates {
		if agg.Name() == field {
			return true
		}
	}
	return false
}

// groupKeyExpr 分组键表达式，日期截断按方言渲染
func (r *sqlRenderer) groupKeyExpr(key GroupKey) (string, error) {
	col := q(r.plan.RootAlias) + "." + q(key.Field)
	if key.Trunc == TruncNone {
		return col, nil
	}

	if r.plan.Dialect == "sqlite3" {
		switch key.Trunc {
		case TruncYear:
			return "strftime('%Y', " + col + ")", nil
		case TruncMonth:
			return "strftime('%Y-%m', " + col + ")", nil
		case TruncDay:
			return "date(" + col + ")", nil
		case TruncWeekday:
			return "CAST(strftime('%w', " + col + ") AS INTEGER) + 1", nil
		case TruncISOWeekday:
			return "((CAST(strftime('%w', " + col + ") AS INTEGER) + 6) % 7) + 1", nil
		}
	} else {
		switch key.Trunc {
		case TruncYear:
			return "DATE_FORMAT(" + col + ", '%Y')", nil
		case TruncMonth:
			return "DATE_FORMAT(" + col + ", '%Y-%m')", nil
		case TruncDay:
			return "DATE(" + col + ")", nil
		case TruncWeekday:
			return "DAYOFWEEK(" + col + ")", nil
		case TruncISOWeekday:
			return "WEEKDAY(" + col + ") + 1", nil
		}
	}
	return "", errs.InvalidQueryf("unknown date truncation %s", key.Trunc)
}

func (r *sqlRenderer) aggregateExpr(agg Aggregate) string {
	if agg.Field == "" {
		return "COUNT(*)"
	}
	col := q(r.plan.RootAlias) + "." + q(agg.Field)
	return strings.ToUpper(string(agg.Func)) + "(" + col + ")"
}

func (r *sqlRenderer) joinSQL() (string, []interface{}, error) {
	var sb strings.Builder
	var args []interface{}

	for _, join := range r.plan.Joins {
		on, onArgs, err := r.joinOn(join)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" " + string(join.Kind) + " JOIN " + q(join.Target) + " " + q(join.Alias) + " ON " + on)
		args = append(args, onArgs...)
	}
	return sb.String(), args, nil
}

// joinOn to-one 连接条件，关系局部条件进 ON 子句而不是外层 WHERE
func (r *sqlRenderer) joinOn(join *JoinStep) (string, []interface{}, error) {
	target, err := r.plan.snapshot.Collection(join.Target)
	if err != nil {
		return "", nil, err
	}

	var on string
	switch join.Relation.Kind {
	case schema.RelationBelongsTo:
		on = q(join.Alias) + "." + q(target.PrimaryKey().Name) + " = " + q(join.ParentAlias) + "." + q(join.Relation.ForeignKey)
	case schema.RelationHasOne:
		on = q(join.Alias) + "." + q(join.Relation.ForeignKey) + " = " + q(join.ParentAlias) + "." + parentKeyColumn(r.plan, join)
	default:
		return "", nil, errs.InvalidQueryf("relationship %s cannot be joined as to-one", join.Relation.Name)
	}

	var args []interface{}
	if join.Scope != nil {
		env := &renderEnv{collection: target, rootAlias: join.Alias, pathPrefix: join.PathKey}
		scope, scopeArgs, err := r.condition(join.Scope, env)
		if err != nil {
			return "", nil, err
		}
		if scope != "" {
			on += " AND " + scope
			args = append(args, scopeArgs...)
		}
	}
	if target.SoftDelete {
		on += " AND " + q(join.Alias) + ".`deleted_at` IS NULL"
	}
	return on, args, nil
}

func parentKeyColumn(p *Plan, join *JoinStep) string {
	// hasOne 的外键在目标侧，父侧用主键匹配
	parent := p.Collection
	for _, j := range p.Joins {
		if j.Alias == join.ParentAlias {
			parent = j.Target
		}
	}
	col, err := p.snapshot.Collection(parent)
	if err != nil {
		return "`id`"
	}
	return q(col.PrimaryKey().Name)
}

func (r *sqlRenderer) whereSQL() (string, []interface{}, error) {
	parts := make([]string, 0, 2)
	var args []interface{}

	if r.plan.SoftDelete {
		parts = append(parts, q(r.plan.RootAlias)+".`deleted_at` IS NULL")
	}

	if r.plan.Where != nil {
		root, err := r.plan.snapshot.Collection(r.plan.Collection)
		if err != nil {
			return "", nil, err
		}
		env := &renderEnv{collection: root, rootAlias: r.plan.RootAlias, aliases: r.plan.aliases}
		cond, condArgs, err := r.condition(r.plan.Where, env)
		if err != nil {
			return "", nil, err
		}
		if cond != "" {
			parts = append(parts, cond)
			args = append(args, condArgs...)
		}
	}

	return strings.Join(parts, " AND "), args, nil
}

func (r *sqlRenderer) condition(node filter.Node, env *renderEnv) (string, []interface{}, error) {
	switch n := node.(type) {
	case *filter.And:
		return r.logical(n.Children, " AND ", env)
	case *filter.Or:
		return r.logical(n.Children, " OR ", env)
	case *filter.Comparison:
		return r.comparison(n, env)
	}
	return "", nil, errs.InvalidFilterf("unknown condition node")
}

func (r *sqlRenderer) logical(children []filter.Node, sep string, env *renderEnv) (string, []interface{}, error) {
	if len(children) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(children))
	var args []interface{}
	for _, child := range children {
		sql, childArgs, err := r.condition(child, env)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, childArgs...)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}

func (r *sqlRenderer) comparison(cmp *filter.Comparison, env *renderEnv) (string, []interface{}, error) {
	steps := cmp.Path.Steps

	// 本地字段直接引用当前环境的根表
	if len(steps) == 0 {
		col := q(env.rootAlias) + "." + q(cmp.Path.Field.Name)
		return r.predicate(col, cmp)
	}

	// 顶层环境中纯 to-one 路径走已规划的连接别名
	if env.aliases != nil && !cmp.Path.ToMany() {
		pathKey := stepsKey(steps)
		if alias, ok := env.aliases[pathKey]; ok {
			col := q(alias) + "." + q(cmp.Path.Field.Name)
			return r.predicate(col, cmp)
		}
	}

	// 其余情况整条路径渲染为相关子查询链：
	// 一对多关系仅出现在过滤中时只需存在性判断，不参与连接
	return r.exists(env.collection, env.rootAlias, env.pathPrefix, steps, cmp)
}

// exists 把关系路径渲染为嵌套 EXISTS 谓词
func (r *sqlRenderer) exists(parent *schema.Collection, parentAlias string, pathPrefix string, steps []filter.Step, cmp *filter.Comparison) (string, []interface{}, error) {
	step := steps[0]
	relation := step.Relation

	absKey := relation.Name
	if pathPrefix != "" {
		absKey = pathPrefix + "." + relation.Name
	}
	if step.Branch != "" {
		absKey += "." + step.Branch
	}

	switch relation.Kind {
	case schema.RelationBelongsTo, schema.RelationHasOne, schema.RelationHasMany:
		target, err := r.plan.snapshot.Collection(relation.Target)
		if err != nil {
			return "", nil, err
		}
		alias := r.nextAlias()
		var link string
		if relation.Kind == schema.RelationBelongsTo {
			link = q(alias) + "." + q(target.PrimaryKey().Name) + " = " + q(parentAlias) + "." + q(relation.ForeignKey)
		} else {
			link = q(alias) + "." + q(relation.ForeignKey) + " = " + q(parentAlias) + "." + q(parent.PrimaryKey().Name)
		}
		return r.existsTail(target, alias, absKey, link, steps[1:], cmp)

	case schema.RelationManyToMany:
		junction, err := r.plan.snapshot.Collection(relation.Junction)
		if err != nil {
			return "", nil, err
		}
		target, err := r.plan.snapshot.Collection(relation.Target)
		if err != nil {
			return "", nil, err
		}
		jAlias := r.nextAlias()
		tAlias := r.nextAlias()
		link := q(jAlias) + "." + q(relation.SourceKey) + " = " + q(parentAlias) + "." + q(parent.PrimaryKey().Name)

		inner, args, err := r.existsInner(target, tAlias, absKey, steps[1:], cmp)
		if err != nil {
			return "", nil, err
		}
		sql := "EXISTS (SELECT 1 FROM " + q(junction.Name) + " " + q(jAlias) +
			" JOIN " + q(target.Name) + " " + q(tAlias) +
			" ON " + q(tAlias) + "." + q(target.PrimaryKey().Name) + " = " + q(jAlias) + "." + q(relation.TargetKey) +
			" WHERE " + link
		if inner != "" {
			sql += " AND " + inner
		}
		return sql + ")", args, nil

	case schema.RelationAnyOf:
		junction, err := r.plan.snapshot.Collection(relation.Junction)
		if err != nil {
			return "", nil, err
		}
		jAlias := r.nextAlias()
		link := q(jAlias) + "." + q(relation.SourceKey) + " = " + q(parentAlias) + "." + q(parent.PrimaryKey().Name)

		// junction 行伪字段：谓词落在 junction 自身
		if cmp.Path.JunctionPseudo != "" && len(steps) == 1 {
			col := q(jAlias) + "." + q(cmp.Path.Field.Name)
			pred, args, err := r.predicate(col, cmp)
			if err != nil {
				return "", nil, err
			}
			return "EXISTS (SELECT 1 FROM " + q(junction.Name) + " " + q(jAlias) + " WHERE " + link + " AND " + pred + ")", args, nil
		}

		target, err := r.plan.snapshot.Collection(step.Branch)
		if err != nil {
			return "", nil, err
		}
		tAlias := r.nextAlias()
		inner, args, err := r.existsInner(target, tAlias, absKey, steps[1:], cmp)
		if err != nil {
			return "", nil, err
		}

		discriminator := q(jAlias) + "." + q(relation.Discriminator) + " = ?"
		args = append([]interface{}{step.Branch}, args...)
		sql := "EXISTS (SELECT 1 FROM " + q(junction.Name) + " " + q(jAlias) +
			" JOIN " + q(target.Name) + " " + q(tAlias) +
			" ON " + q(tAlias) + "." + q(target.PrimaryKey().Name) + " = " + q(jAlias) + "." + q(relation.ItemKey) +
			" AND " + discriminator +
			" WHERE " + link
		if inner != "" {
			sql += " AND " + inner
		}
		return sql + ")", args, nil
	}

	return "", nil, errs.InvalidFilterf("unknown relationship kind %s", relation.Kind)
}

// existsTail 单表 EXISTS 的收尾
func (r *sqlRenderer) existsTail(target *schema.Collection, alias string, absKey string, link string, rest []filter.Step, cmp *filter.Comparison) (string, []interface{}, error) {
	inner, args, err := r.existsInner(target, alias, absKey, rest, cmp)
	if err != nil {
		return "", nil, err
	}
	sql := "EXISTS (SELECT 1 FROM " + q(target.Name) + " " + q(alias) + " WHERE " + link
	if inner != "" {
		sql += " AND " + inner
	}
	return sql + ")", args, nil
}

// existsInner 子查询内部：剩余路径继续下钻，路径耗尽落谓词；
// 命中的关系局部条件一并带入
func (r *sqlRenderer) existsInner(target *schema.Collection, alias string, absKey string, rest []filter.Step, cmp *filter.Comparison) (string, []interface{}, error) {
	parts := make([]string, 0, 3)
	var args []interface{}

	if target.SoftDelete {
		parts = append(parts, q(alias)+".`deleted_at` IS NULL")
	}

	if scope := r.plan.relScopes[absKey]; scope != nil {
		env := &renderEnv{collection: target, rootAlias: alias, pathPrefix: absKey}
		sql, scopeArgs, err := r.condition(scope, env)
		if err != nil {
			return "", nil, err
		}
		if sql != "" {
			parts = append(parts, sql)
			args = append(args, scopeArgs...)
		}
	}

	if len(rest) == 0 {
		col := q(alias) + "." + q(cmp.Path.Field.Name)
		pred, predArgs, err := r.predicate(col, cmp)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, pred)
		args = append(args, predArgs...)
	} else {
		sub, subArgs, err := r.exists(target, alias, absKey, rest, cmp)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sub)
		args = append(args, subArgs...)
	}

	return strings.Join(parts, " AND "), args, nil
}

func (r *sqlRenderer) nextAlias() string {
	r.aliasSeq++
	return fmt.Sprintf("e%d", r.aliasSeq)
}

// predicate 渲染单个比较谓词
func (r *sqlRenderer) predicate(col string, cmp *filter.Comparison) (string, []interface{}, error) {
	value := cmp.Value
	if value.Kind == filter.ValueKindVar {
		return "", nil, errs.PermissionDeniedf("unresolved dynamic variable $%s reached SQL rendering", value.Ref)
	}

	switch cmp.Operator {
	case filter.OpEq:
		return col + " = ?", []interface{}{value.Literal}, nil
	case filter.OpNe:
		return col + " <> ?", []interface{}{value.Literal}, nil
	case filter.OpGt:
		return col + " > ?", []interface{}{value.Literal}, nil
	case filter.OpGte:
		return col + " >= ?", []interface{}{value.Literal}, nil
	case filter.OpLt:
		return col + " < ?", []interface{}{value.Literal}, nil
	case filter.OpLte:
		return col + " <= ?", []interface{}{value.Literal}, nil

	case filter.OpLike:
		return col + " LIKE ?", []interface{}{value.Literal}, nil
	case filter.OpILike:
		return "LOWER(" + col + ") LIKE LOWER(?)", []interface{}{value.Literal}, nil
	case filter.OpStartsWith:
		s, _ := value.Literal.(string)
		return col + " LIKE ?", []interface{}{s + "%"}, nil

	case filter.OpIn:
		if len(value.Array) == 0 {
			// 空数组恒为假，留痕便于排查空结果集
			log.Default().Debug("in with empty array renders constant false", "column", col)
			return "1 = 0", nil, nil
		}
		return col + " IN (" + placeholders(len(value.Array)) + ")", value.Array, nil

	case filter.OpIsNull:
		return col + " IS NULL", nil, nil
	case filter.OpIsNotNull:
		return col + " IS NOT NULL", nil, nil

	case filter.OpArrayContains:
		return r.arrayContains(col, value.Array, false)
	case filter.OpArrayContained:
		return r.arrayContains(col, value.Array, true)

	case filter.OpWithin, filter.OpIntersects, filter.OpContainsGeo, filter.OpDWithin:
		return r.geoPredicate(col, cmp.Operator, value)
	}

	return "", nil, errs.InvalidFilterf("unknown operator %q", cmp.Operator)
}

// arrayContains 数组包含谓词
// 空集合被任何数组包含，因此 contains 空数组对一切非空数组为真；
// 两个方向都不匹配 NULL 数组字段
func (r *sqlRenderer) arrayContains(col string, values []interface{}, contained bool) (string, []interface{}, error) {
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", nil, errs.InvalidFilterf("array value is not JSON-encodable: %v", err)
	}
	arg := string(encoded)

	if r.plan.Dialect == "sqlite3" {
		if contained {
			return "(" + col + " IS NOT NULL AND NOT EXISTS (SELECT 1 FROM json_each(" + col + ") WHERE value NOT IN (SELECT value FROM json_each(?))))",
				[]interface{}{arg}, nil
		}
		return "(" + col + " IS NOT NULL AND NOT EXISTS (SELECT 1 FROM json_each(?) WHERE value NOT IN (SELECT value FROM json_each(" + col + "))))",
			[]interface{}{arg}, nil
	}

	if contained {
		return "(" + col + " IS NOT NULL AND JSON_CONTAINS(?, " + col + "))", []interface{}{arg}, nil
	}
	return "(" + col + " IS NOT NULL AND JSON_CONTAINS(" + col + ", ?))", []interface{}{arg}, nil
}

func (r *sqlRenderer) geoPredicate(col string, op filter.Operator, value filter.Value) (string, []interface{}, error) {
	if r.plan.Dialect == "sqlite3" {
		return "", nil, errs.InvalidQueryf("geometry predicates are not supported on sqlite3")
	}

	switch op {
	case filter.OpWithin:
		return "ST_Within(" + col + ", ST_GeomFromText(?))", []interface{}{value.Literal}, nil
	case filter.OpIntersects:
		return "ST_Intersects(" + col + ", ST_GeomFromText(?))", []interface{}{value.Literal}, nil
	case filter.OpContainsGeo:
		return "ST_Contains(" + col + ", ST_GeomFromText(?))", []interface{}{value.Literal}, nil
	case filter.OpDWithin:
		arg, ok := value.Literal.(*filter.GeoArg)
		if !ok {
			return "", nil, errs.InvalidFilterf("dwithin expects {geometry, distance}")
		}
		return "ST_Distance(" + col + ", ST_GeomFromText(?)) <= ?", []interface{}{arg.Geometry, arg.Distance}, nil
	}
	return "", nil, errs.InvalidFilterf("unknown geometry operator %q", op)
}

func (r *sqlRenderer) orderSQL() (string, []interface{}, error) {
	if len(r.plan.Sorts) == 0 {
		return "", nil, nil
	}

	orders := make([]string, 0, len(r.plan.Sorts))
	var args []interface{}
	for _, s := range r.plan.Sorts {
		if s.Field == DistanceField {
			if r.plan.Dialect == "sqlite3" {
				return "", nil, errs.InvalidQueryf("distance sort is not supported on sqlite3")
			}
			col := q(r.plan.RootAlias) + "." + q(s.Distance.Field)
			orders = append(orders, "ST_Distance("+col+", ST_GeomFromText(?))"+direction(s.Desc))
			args = append(args, s.Distance.Target)
			continue
		}

		if idx := strings.LastIndex(s.Field, "."); idx >= 0 {
			pathKey := s.Field[:idx]
			field := s.Field[idx+1:]
			alias, ok := r.plan.aliases[pathKey]
			if !ok {
				return "", nil, errs.InvalidQueryf("sort path %s has no planned join", s.Field)
			}
			orders = append(orders, q(alias)+"."+q(field)+direction(s.Desc))
			continue
		}

		orders = append(orders, q(r.plan.RootAlias)+"."+q(s.Field)+direction(s.Desc))
	}
	return " ORDER BY " + strings.Join(orders, ", "), args, nil
}

func (r *sqlRenderer) limitSQL() string {
	limit := r.plan.Page.Limit
	if limit < 0 {
		return ""
	}
	if limit == 0 {
		if r.plan.Grouped() {
			// 聚合只要结果不要行，不加 LIMIT
			return ""
		}
		return " LIMIT 0"
	}
	sql := fmt.Sprintf(" LIMIT %d", limit)
	if offset := r.plan.Page.Offset(); offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", offset)
	}
	return sql
}

func direction(desc bool) string {
	if desc {
		return " DESC"
	}
	return " ASC"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stepsKey(steps []filter.Step) string {
	parts := make([]string, 0, len(steps))
	for _, step := range steps {
		parts = append(parts, step.Relation.Name)
	}
	return strings.Join(parts, ".")
}

func q(name string) string {
	return "`" + name + "`"
}
