package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/filter"
	"github.com/hatlonely/relx/perm"
	"github.com/hatlonely/relx/plan"
	"github.com/hatlonely/relx/schema"
)

// querier *sql.DB 与 *sql.Tx 的公共查询面
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// mutationScope 一次批量写入的事务上下文
// touched 收集波及的集合名，提交后整体失效缓存
type mutationScope struct {
	tx       *sql.Tx
	snapshot *schema.Snapshot
	decision *perm.Decision
	now      time.Time
	userID   string
	touched  map[string]bool
}

func (s *mutationScope) touch(collections ...string) {
	for _, name := range collections {
		if name != "" {
			s.touched[name] = true
		}
	}
}

// CreateMany 批量创建
// 整批一个事务：任一条失败则全部回滚；空批次直接成功。
// 返回写入后的各行，含生成的主键与系统字段
func (e *Engine) CreateMany(
	ctx context.Context,
	collection string,
	items []map[string]interface{},
	role string,
	pctx *perm.Context,
	bypass bool,
) ([]map[string]interface{}, error) {
	if len(items) == 0 {
		return []map[string]interface{}{}, nil
	}
	snapshot := e.registry.Snapshot()
	col, err := snapshot.Collection(collection)
	if err != nil {
		return nil, err
	}

	decision, err := e.evaluator.Authorize(snapshot, perm.ActionCreate, collection, role, nil, nil, pctx, bypass)
	if err != nil {
		return nil, err
	}

	event := &Event{Collection: collection, Action: perm.ActionCreate, Items: items}
	if err := e.firePreValidate(ctx, event); err != nil {
		return nil, err
	}

	scope, err := e.beginScope(ctx, snapshot, decision, pctx)
	if err != nil {
		return nil, err
	}
	defer scope.tx.Rollback()
	scope.touch(collection)

	results := make([]map[string]interface{}, 0, len(items))
	for i, item := range items {
		row, err := e.createOne(ctx, scope, col, item)
		if err != nil {
			return nil, errors.WithMessagef(err, "item %d", i)
		}
		results = append(results, row)
	}

	if err := scope.tx.Commit(); err != nil {
		return nil, errs.Conflictf("commit failed: %v", err)
	}
	e.invalidateScope(scope)
	e.firePostCommit(ctx, event)
	return results, nil
}

// UpdateMany 批量更新，每条必须带主键
func (e *Engine) UpdateMany(
	ctx context.Context,
	collection string,
	items []map[string]interface{},
	role string,
	pctx *perm.Context,
	bypass bool,
) ([]map[string]interface{}, error) {
	if len(items) == 0 {
		return []map[string]interface{}{}, nil
	}
	snapshot := e.registry.Snapshot()
	col, err := snapshot.Collection(collection)
	if err != nil {
		return nil, err
	}

	decision, err := e.evaluator.Authorize(snapshot, perm.ActionUpdate, collection, role, nil, nil, pctx, bypass)
	if err != nil {
		return nil, err
	}

	event := &Event{Collection: collection, Action: perm.ActionUpdate, Items: items}
	if err := e.firePreValidate(ctx, event); err != nil {
		return nil, err
	}

	scope, err := e.beginScope(ctx, snapshot, decision, pctx)
	if err != nil {
		return nil, err
	}
	defer scope.tx.Rollback()
	scope.touch(collection)

	results := make([]map[string]interface{}, 0, len(items))
	for i, item := range items {
		row, err := e.updateOne(ctx, scope, col, item)
		if err != nil {
			return nil, errors.WithMessagef(err, "item %d", i)
		}
		results = append(results, row)
	}

	if err := scope.tx.Commit(); err != nil {
		return nil, errs.Conflictf("commit failed: %v", err)
	}
	e.invalidateScope(scope)
	e.firePostCommit(ctx, event)
	return results, nil
}

// DeleteMany 批量删除
// 软删除集合置 deleted_at，其余物理删除；
// 引用策略按关系定义执行，restrict 命中时整批回滚
func (e *Engine) DeleteMany(
	ctx context.Context,
	collection string,
	ids []interface{},
	role string,
	pctx *perm.Context,
	bypass bool,
) error {
	if len(ids) == 0 {
		return nil
	}
	snapshot := e.registry.Snapshot()
	col, err := snapshot.Collection(collection)
	if err != nil {
		return err
	}

	decision, err := e.evaluator.Authorize(snapshot, perm.ActionDelete, collection, role, nil, nil, pctx, bypass)
	if err != nil {
		return err
	}

	pk := col.PrimaryKey().Name
	eventItems := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		eventItems = append(eventItems, map[string]interface{}{pk: id})
	}
	event := &Event{Collection: collection, Action: perm.ActionDelete, Items: eventItems}
	if err := e.firePreValidate(ctx, event); err != nil {
		return err
	}

	scope, err := e.beginScope(ctx, snapshot, decision, pctx)
	if err != nil {
		return err
	}
	defer scope.tx.Rollback()
	scope.touch(collection)

	for i, id := range ids {
		if err := e.deleteOne(ctx, scope, col, id); err != nil {
			return errors.WithMessagef(err, "item %d", i)
		}
	}

	if err := scope.tx.Commit(); err != nil {
		return errs.Conflictf("commit failed: %v", err)
	}
	e.invalidateScope(scope)
	e.firePostCommit(ctx, event)
	return nil
}

func (e *Engine) beginScope(ctx context.Context, snapshot *schema.Snapshot, decision *perm.Decision, pctx *perm.Context) (*mutationScope, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Conflictf("begin transaction failed: %v", err)
	}
	userID := ""
	if pctx != nil {
		userID = pctx.UserID
	}
	return &mutationScope{
		tx:       tx,
		snapshot: snapshot,
		decision: decision,
		now:      time.Now().UTC(),
		userID:   userID,
		touched:  map[string]bool{},
	}, nil
}

// invalidateScope 失效提交波及的全部集合
// 先失效再返回，后续读不可能命中旧数据
func (e *Engine) invalidateScope(scope *mutationScope) {
	collections := make([]string, 0, len(scope.touched))
	for name := range scope.touched {
		collections = append(collections, name)
	}
	e.invalidate(collections...)
}

func (e *Engine) createOne(ctx context.Context, scope *mutationScope, col *schema.Collection, item map[string]interface{}) (map[string]interface{}, error) {
	values, memberships, err := splitPayload(col, item)
	if err != nil {
		return nil, err
	}
	stripDenied(values, scope.decision.Fields)
	applyDefaults(values, scope.decision.Defaults)
	if err := e.applySchemaDefaults(col, values, scope); err != nil {
		return nil, err
	}

	if col.Timestamps {
		values["created_at"] = scope.now
		values["updated_at"] = scope.now
	}
	if col.TrackUsers {
		values["created_by"] = scope.userID
		values["updated_by"] = scope.userID
	}

	pk := col.PrimaryKey()
	id, autoPK := values[pk.Name], false
	if id == nil {
		if pk.Default != nil && pk.Default.Generator == "autoincrement" {
			autoPK = true
			delete(values, pk.Name)
		} else if pk.Type == schema.FieldTypeInteger {
			id = e.uid.NextInt()
			values[pk.Name] = id
		} else {
			id = e.uid.NextString()
			values[pk.Name] = id
		}
	}

	result, err := insertRow(ctx, scope.tx, col.Name, values)
	if err != nil {
		return nil, err
	}
	if autoPK {
		lastID, err := result.LastInsertId()
		if err != nil {
			return nil, errs.Conflictf("autoincrement id unavailable: %v", err)
		}
		id = lastID
		values[pk.Name] = id
	}

	// 权限条件对创建也生效：落库的行必须在授权范围内
	if !scope.decision.Bypassed && scope.decision.Condition != nil {
		ok, err := e.rowInScope(ctx, scope, col, id, scope.decision.Condition)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.PermissionDeniedf("created row %v of %s falls outside the permitted scope", id, col.Name)
		}
	}

	for name, payload := range memberships {
		relation := col.Relationships[name]
		if err := e.replaceMembership(ctx, scope, col, relation, id, payload); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func (e *Engine) updateOne(ctx context.Context, scope *mutationScope, col *schema.Collection, item map[string]interface{}) (map[string]interface{}, error) {
	pk := col.PrimaryKey().Name
	id, ok := item[pk]
	if !ok || id == nil {
		return nil, errs.InvalidQueryf("update requires primary key %s", pk)
	}

	if err := e.checkRowAccess(ctx, scope, col, id); err != nil {
		return nil, err
	}

	values, memberships, err := splitPayload(col, item)
	if err != nil {
		return nil, err
	}
	delete(values, pk)
	stripDenied(values, scope.decision.Fields)

	if col.Timestamps {
		values["updated_at"] = scope.now
	}
	if col.TrackUsers {
		values["updated_by"] = scope.userID
	}

	if len(values) > 0 {
		if err := updateRow(ctx, scope.tx, col.Name, pk, id, values); err != nil {
			return nil, err
		}
	}

	for name, payload := range memberships {
		relation := col.Relationships[name]
		if err := e.replaceMembership(ctx, scope, col, relation, id, payload); err != nil {
			return nil, err
		}
	}

	values[pk] = id
	return values, nil
}

func (e *Engine) deleteOne(ctx context.Context, scope *mutationScope, col *schema.Collection, id interface{}) error {
	if err := e.checkRowAccess(ctx, scope, col, id); err != nil {
		return err
	}

	for _, relation := range col.Relationships {
		if err := e.applyDeletePolicy(ctx, scope, col, relation, id); err != nil {
			return err
		}
	}
	if err := e.checkInboundAnyOf(ctx, scope, col, id); err != nil {
		return err
	}

	pk := col.PrimaryKey().Name
	if col.SoftDelete {
		return updateRow(ctx, scope.tx, col.Name, pk, id, map[string]interface{}{"deleted_at": scope.now})
	}
	_, err := scope.tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(col.Name), quoteIdent(pk)), id)
	if err != nil {
		return errs.Conflictf("delete from %s failed: %v", col.Name, err)
	}
	return nil
}

// checkRowAccess 行必须存在且落在授权范围内
// 行存在但越权时报 PermissionDenied，不存在时报 NotFound
func (e *Engine) checkRowAccess(ctx context.Context, scope *mutationScope, col *schema.Collection, id interface{}) error {
	pk := col.PrimaryKey().Name
	pkCond, err := eqCondition(col, pk, id)
	if err != nil {
		return err
	}

	scoped := filter.Node(pkCond)
	if !scope.decision.Bypassed {
		scoped = filter.MergeAnd(pkCond, scope.decision.Condition)
	}
	count, err := e.countWhere(ctx, scope, col.Name, scoped)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	count, err = e.countWhere(ctx, scope, col.Name, pkCond)
	if err != nil {
		return err
	}
	if count > 0 {
		return errs.PermissionDeniedf("row %v of %s is outside the permitted scope", id, col.Name)
	}
	return errs.NotFoundf("row %v of %s", id, col.Name)
}

func (e *Engine) rowInScope(ctx context.Context, scope *mutationScope, col *schema.Collection, id interface{}, condition filter.Node) (bool, error) {
	pkCond, err := eqCondition(col, col.PrimaryKey().Name, id)
	if err != nil {
		return false, err
	}
	count, err := e.countWhere(ctx, scope, col.Name, filter.MergeAnd(pkCond, condition))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// countWhere 事务内按条件计数，软删除过滤与关系条件走同一套规划
func (e *Engine) countWhere(ctx context.Context, scope *mutationScope, collection string, condition filter.Node) (int64, error) {
	p, err := e.planner.Plan(scope.snapshot, collection, &plan.Input{
		Condition: condition,
		Fields:    &plan.FieldTree{Fields: []string{"*"}},
		Page:      plan.Pagination{Limit: -1},
	})
	if err != nil {
		return 0, err
	}
	countSQL, args, err := p.CountSQL()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := scope.tx.QueryRowContext(ctx, countSQL, args...).Scan(&count); err != nil {
		return 0, errs.InvalidQueryf("count query failed: %v", err)
	}
	return count, nil
}

// replaceMembership 关系成员整表替换
// 与现状求差：移除的删、新增的插、不变的不动；空列表清空全部成员
func (e *Engine) replaceMembership(
	ctx context.Context,
	scope *mutationScope,
	col *schema.Collection,
	relation *schema.Relationship,
	parentID interface{},
	payload interface{},
) error {
	desired, err := membershipEntries(relation, payload)
	if err != nil {
		return err
	}

	junction, err := scope.snapshot.Collection(relation.Junction)
	if err != nil {
		return err
	}
	scope.touch(relation.Junction, relation.Target)
	scope.touch(relation.Targets...)

	fields := []string{relation.SourceKey, relation.TargetKey}
	if relation.Kind == schema.RelationAnyOf {
		fields = []string{relation.SourceKey, relation.Discriminator, relation.ItemKey}
	}
	parentCond, err := eqCondition(junction, relation.SourceKey, parentID)
	if err != nil {
		return err
	}
	existing, err := e.fetch(ctx, scope.tx, scope.snapshot, relation.Junction, parentCond, &plan.FieldTree{Fields: fields})
	if err != nil {
		return err
	}

	current := map[string]map[string]interface{}{}
	for _, row := range existing {
		current[membershipKey(relation, row)] = row
	}

	for key, entry := range desired {
		if _, ok := current[key]; ok {
			delete(current, key)
			continue
		}
		row := map[string]interface{}{relation.SourceKey: parentID}
		if relation.Kind == schema.RelationAnyOf {
			row[relation.Discriminator] = entry.collection
			row[relation.ItemKey] = entry.id
		} else {
			row[relation.TargetKey] = entry.id
		}
		if _, err := insertRow(ctx, scope.tx, relation.Junction, row); err != nil {
			return err
		}
	}

	// current 剩下的都是要移除的成员
	for _, row := range current {
		where := fmt.Sprintf("%s = ? AND %s = ?", quoteIdent(relation.SourceKey), quoteIdent(relation.TargetKey))
		args := []interface{}{parentID, row[relation.TargetKey]}
		if relation.Kind == schema.RelationAnyOf {
			where = fmt.Sprintf("%s = ? AND %s = ? AND %s = ?",
				quoteIdent(relation.SourceKey), quoteIdent(relation.Discriminator), quoteIdent(relation.ItemKey))
			args = []interface{}{parentID, row[relation.Discriminator], row[relation.ItemKey]}
		}
		if _, err := scope.tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(relation.Junction), where), args...); err != nil {
			return errs.Conflictf("membership removal on %s failed: %v", relation.Junction, err)
		}
	}
	return nil
}

// applyDeletePolicy 按关系的 onDelete 策略处理被删行的从属数据
func (e *Engine) applyDeletePolicy(ctx context.Context, scope *mutationScope, col *schema.Collection, relation *schema.Relationship, id interface{}) error {
	switch relation.Kind {
	case schema.RelationBelongsTo:
		return nil

	case schema.RelationHasOne, schema.RelationHasMany:
		target, err := scope.snapshot.Collection(relation.Target)
		if err != nil {
			return err
		}
		fkCond, err := eqCondition(target, relation.ForeignKey, id)
		if err != nil {
			return err
		}
		count, err := e.countWhere(ctx, scope, relation.Target, fkCond)
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		scope.touch(relation.Target)

		switch relation.OnDelete {
		case schema.RefPolicyCascade:
			if target.SoftDelete {
				_, err = scope.tx.ExecContext(ctx,
					fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
						quoteIdent(relation.Target), quoteIdent("deleted_at"), quoteIdent(relation.ForeignKey)),
					scope.now, id)
			} else {
				_, err = scope.tx.ExecContext(ctx,
					fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
						quoteIdent(relation.Target), quoteIdent(relation.ForeignKey)), id)
			}
			if err != nil {
				return errs.Conflictf("cascade delete on %s failed: %v", relation.Target, err)
			}
			return nil
		case schema.RefPolicySetNull:
			if _, err := scope.tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = ?",
					quoteIdent(relation.Target), quoteIdent(relation.ForeignKey), quoteIdent(relation.ForeignKey)), id); err != nil {
				return errs.Conflictf("set-null on %s failed: %v", relation.Target, err)
			}
			return nil
		default:
			return errs.Conflictf("cannot delete %s row %v: %d %s row(s) still reference it via %s",
				col.Name, id, count, relation.Target, relation.Name)
		}

	case schema.RelationManyToMany, schema.RelationAnyOf:
		junction, err := scope.snapshot.Collection(relation.Junction)
		if err != nil {
			return err
		}
		memberCond, err := eqCondition(junction, relation.SourceKey, id)
		if err != nil {
			return err
		}
		count, err := e.countWhere(ctx, scope, relation.Junction, memberCond)
		if err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		if relation.OnDelete == schema.RefPolicyRestrict {
			return errs.Conflictf("cannot delete %s row %v: %d membership row(s) remain in %s",
				col.Name, id, count, relation.Junction)
		}
		// 成员行随父行一并清除，目标行本身保留
		scope.touch(relation.Junction)
		if _, err := scope.tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
				quoteIdent(relation.Junction), quoteIdent(relation.SourceKey)), id); err != nil {
			return errs.Conflictf("membership cleanup on %s failed: %v", relation.Junction, err)
		}
		return nil
	}
	return nil
}

// checkInboundAnyOf 被删行可能是别的集合多态关系的目标
// junction 对目标无外键约束，不检查就会留下悬空成员
func (e *Engine) checkInboundAnyOf(ctx context.Context, scope *mutationScope, col *schema.Collection, id interface{}) error {
	for _, name := range scope.snapshot.Collections() {
		owner, err := scope.snapshot.Collection(name)
		if err != nil {
			return err
		}
		for _, relation := range owner.Relationships {
			if relation.Kind != schema.RelationAnyOf || !containsString(relation.Targets, col.Name) {
				continue
			}
			junction, err := scope.snapshot.Collection(relation.Junction)
			if err != nil {
				return err
			}
			discCond, err := eqCondition(junction, relation.Discriminator, col.Name)
			if err != nil {
				return err
			}
			itemCond, err := eqCondition(junction, relation.ItemKey, id)
			if err != nil {
				return err
			}
			count, err := e.countWhere(ctx, scope, relation.Junction, filter.MergeAnd(discCond, itemCond))
			if err != nil {
				return err
			}
			if count == 0 {
				continue
			}
			if relation.OnDelete == schema.RefPolicyCascade {
				scope.touch(relation.Junction, name)
				if _, err := scope.tx.ExecContext(ctx,
					fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?",
						quoteIdent(relation.Junction), quoteIdent(relation.Discriminator), quoteIdent(relation.ItemKey)),
					col.Name, id); err != nil {
					return errs.Conflictf("membership cleanup on %s failed: %v", relation.Junction, err)
				}
				continue
			}
			return errs.Conflictf("cannot delete %s row %v: %d membership row(s) in %s still reference it via %s.%s",
				col.Name, id, count, relation.Junction, name, relation.Name)
		}
	}
	return nil
}

// applySchemaDefaults 缺省字段按字段定义补默认值
func (e *Engine) applySchemaDefaults(col *schema.Collection, values map[string]interface{}, scope *mutationScope) error {
	for _, f := range col.Fields {
		if f.Default == nil {
			continue
		}
		if _, ok := values[f.Name]; ok {
			continue
		}
		if f.Default.Generator == "" {
			values[f.Name] = f.Default.Literal
			continue
		}
		switch f.Default.Generator {
		case "now":
			values[f.Name] = scope.now
		case "uuid":
			values[f.Name] = e.uid.NextString()
		case "autoincrement":
			// 主键交给数据库分配，createOne 统一处理
		default:
			return errs.InvalidQueryf("unknown default generator %s on %s.%s", f.Default.Generator, col.Name, f.Name)
		}
	}
	return nil
}

// splitPayload 把写入负载分成标量字段与关系成员两部分
// 系统生成字段与未知键直接拒绝
func splitPayload(col *schema.Collection, item map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	values := map[string]interface{}{}
	memberships := map[string]interface{}{}
	for key, value := range item {
		if f, ok := col.Field(key); ok {
			if f.Generated {
				return nil, nil, errs.InvalidQueryf("field %s of %s is system generated and cannot be written", key, col.Name)
			}
			values[key] = value
			continue
		}
		if relation, ok := col.Relationship(key); ok {
			switch relation.Kind {
			case schema.RelationManyToMany, schema.RelationAnyOf:
				memberships[key] = value
			default:
				return nil, nil, errs.InvalidQueryf("relationship %s of %s cannot be written directly, set its foreign key instead", key, col.Name)
			}
			continue
		}
		return nil, nil, errs.InvalidQueryf("unknown field %s on collection %s", key, col.Name)
	}
	return values, memberships, nil
}

// stripDenied 去掉字段掩码之外的写入字段
// 与读路径同一原则：被拒字段对调用方不可见，因此也不可写
func stripDenied(values map[string]interface{}, mask *perm.FieldMask) {
	if mask.Wildcard() {
		return
	}
	for key := range values {
		if !mask.Allows(key) {
			delete(values, key)
		}
	}
}

// applyDefaults 权限默认值只补缺省键，不覆盖调用方显式给定的值
func applyDefaults(values map[string]interface{}, defaults map[string]interface{}) {
	for key, value := range defaults {
		if _, ok := values[key]; !ok {
			values[key] = value
		}
	}
}

type membershipEntry struct {
	collection string
	id         interface{}
}

// membershipEntries 解析成员负载
// m2m 为目标 ID 列表；anyOf 为 {collection, id} 对象列表
func membershipEntries(relation *schema.Relationship, payload interface{}) (map[string]membershipEntry, error) {
	list, ok := payload.([]interface{})
	if !ok {
		return nil, errs.InvalidQueryf("relationship %s expects a list payload", relation.Name)
	}

	entries := map[string]membershipEntry{}
	for _, raw := range list {
		var entry membershipEntry
		if relation.Kind == schema.RelationAnyOf {
			obj, ok := raw.(map[string]interface{})
			if !ok {
				return nil, errs.InvalidQueryf("relationship %s expects {collection, id} entries", relation.Name)
			}
			branch, _ := obj["collection"].(string)
			if !containsString(relation.Targets, branch) {
				return nil, errs.InvalidQueryf("relationship %s does not accept collection %q", relation.Name, branch)
			}
			id, ok := obj["id"]
			if !ok || id == nil {
				return nil, errs.InvalidQueryf("relationship %s entry is missing id", relation.Name)
			}
			entry = membershipEntry{collection: branch, id: id}
		} else {
			if raw == nil {
				return nil, errs.InvalidQueryf("relationship %s entry is nil", relation.Name)
			}
			entry = membershipEntry{id: raw}
		}
		entries[fmt.Sprintf("%s|%v", entry.collection, entry.id)] = entry
	}
	return entries, nil
}

func membershipKey(relation *schema.Relationship, row map[string]interface{}) string {
	if relation.Kind == schema.RelationAnyOf {
		return fmt.Sprintf("%v|%v", row[relation.Discriminator], row[relation.ItemKey])
	}
	return fmt.Sprintf("|%v", row[relation.TargetKey])
}

func insertRow(ctx context.Context, tx *sql.Tx, table string, values map[string]interface{}) (sql.Result, error) {
	columns := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values))
	for key, value := range values {
		columns = append(columns, quoteIdent(key))
		placeholders = append(placeholders, "?")
		args = append(args, value)
	}
	result, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(table), strings.Join(columns, ", "), strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, errs.Conflictf("insert into %s failed: %v", table, err)
	}
	return result, nil
}

func updateRow(ctx context.Context, tx *sql.Tx, table string, pk string, id interface{}, values map[string]interface{}) error {
	sets := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values)+1)
	for key, value := range values {
		sets = append(sets, quoteIdent(key)+" = ?")
		args = append(args, value)
	}
	args = append(args, id)
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
			quoteIdent(table), strings.Join(sets, ", "), quoteIdent(pk)), args...)
	if err != nil {
		return errs.Conflictf("update %s failed: %v", table, err)
	}
	return nil
}

func eqCondition(col *schema.Collection, field string, value interface{}) (*filter.Comparison, error) {
	f, ok := col.Field(field)
	if !ok {
		return nil, errs.InvalidQueryf("unknown field %s on collection %s", field, col.Name)
	}
	return &filter.Comparison{
		Path:     &filter.Path{Raw: field, Collection: col.Name, Field: f},
		Operator: filter.OpEq,
		Value:    filter.Value{Kind: filter.ValueKindLiteral, Literal: value},
	}, nil
}

func quoteIdent(name string) string {
	return "`" + name + "`"
}

func containsString(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
