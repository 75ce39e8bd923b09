package perm

import (
	"sync"

	"github.com/hatlonely/relx/errs"
	"github.com/hatlonely/relx/filter"
	"github.com/hatlonely/relx/log"
	"github.com/hatlonely/relx/schema"
)

// Decision 授权结论
type Decision struct {
	// 合并后的行范围条件：AND(用户过滤, 权限条件)，动态变量已代换
	Condition filter.Node

	// 关系路径 → 关系局部条件，参与对应关系的连接条件
	RelConditions map[string]filter.Node

	// 生效字段掩码：授权字段与请求字段之交
	Fields *FieldMask

	// 写入时应用的默认值
	Defaults map[string]interface{}

	// 管理员旁路标记，供审计
	Bypassed bool
}

// EvaluatorOptions 权限求值器配置
type EvaluatorOptions struct {
	// 旁路全部限制的管理员角色名
	AdminRole string `cfg:"adminRole" def:"admin"`
}

// Evaluator 权限求值器
// 角色授权快照按需加载并缓存，显式失效后重载；
// 重载只阻塞对应角色的读者
type Evaluator struct {
	provider  Provider
	compiler  *filter.Compiler
	adminRole string
	logger    log.Logger

	mu    sync.RWMutex
	roles map[string]*roleEntry
}

type roleEntry struct {
	mu     sync.Mutex
	loaded bool
	perms  []*Permission
}

// NewEvaluatorWithOptions 创建权限求值器并订阅授权变更
func NewEvaluatorWithOptions(provider Provider, compiler *filter.Compiler, options *EvaluatorOptions) *Evaluator {
	if options == nil {
		options = &EvaluatorOptions{}
	}
	adminRole := options.AdminRole
	if adminRole == "" {
		adminRole = "admin"
	}

	e := &Evaluator{
		provider:  provider,
		compiler:  compiler,
		adminRole: adminRole,
		logger:    log.Default().With("component", "perm.Evaluator"),
		roles:     map[string]*roleEntry{},
	}
	provider.OnChange(e.Invalidate)
	return e
}

// Invalidate 失效角色授权快照，role 为 "*" 时全量失效
func (e *Evaluator) Invalidate(role string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if role == Wildcard {
		e.roles = map[string]*roleEntry{}
		return
	}
	delete(e.roles, role)
}

// Authorize 求取 (角色, 集合, 动作) 的授权结论并与调用方过滤合并
// 调用方过滤只能收窄权限放行的行集，不能放宽；
// bypass 为真或角色为管理员时旁路限制，但结论中保留旁路标记
func (e *Evaluator) Authorize(
	snapshot *schema.Snapshot,
	action Action,
	collection string,
	role string,
	userFilter filter.Node,
	requestedFields []string,
	ctx *Context,
	bypass bool,
) (*Decision, error) {
	if bypass || role == e.adminRole {
		e.logger.Info("permission bypass", "role", role, "collection", collection, "action", string(action))
		// 旁路只免去权限条件，动态变量仍在此处代换
		substituted, err := Substitute(userFilter, ctx)
		if err != nil {
			return nil, err
		}
		return &Decision{
			Condition: substituted,
			Fields:    NewFieldMask(requestedFields),
			Bypassed:  true,
		}, nil
	}

	permission, err := e.lookup(role, collection, action)
	if err != nil {
		return nil, err
	}

	// 权限条件自身也是过滤对象，复用同一编译器
	permCond, err := e.compiler.Compile(snapshot, collection, permission.Conditions)
	if err != nil {
		return nil, err
	}
	permCond, err = Substitute(permCond, ctx)
	if err != nil {
		return nil, err
	}

	userFilter, err = Substitute(userFilter, ctx)
	if err != nil {
		return nil, err
	}

	relConditions := make(map[string]filter.Node, len(permission.RelConditions))
	for relPath, raw := range permission.RelConditions {
		// 关系局部条件以关系的目标集合为根编译
		resolved, err := e.compiler.ResolveRelationPath(snapshot, collection, relPath)
		if err != nil {
			return nil, err
		}
		node, err := e.compiler.Compile(snapshot, resolved.Collection, raw)
		if err != nil {
			return nil, err
		}
		node, err = Substitute(node, ctx)
		if err != nil {
			return nil, err
		}
		relConditions[relPath] = node
	}

	grantMask := NewFieldMask(permission.Fields)
	effective := grantMask.Intersect(NewFieldMask(requestedFields))

	return &Decision{
		Condition:     filter.MergeAnd(userFilter, permCond),
		RelConditions: relConditions,
		Fields:        effective,
		Defaults:      permission.Defaults,
	}, nil
}

// lookup 在角色快照中查找授权行，未命中以权限拒绝收场
func (e *Evaluator) lookup(role string, collection string, action Action) (*Permission, error) {
	perms, err := e.load(role)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		if p.Collection == collection && p.Action == action {
			return p, nil
		}
	}
	return nil, errs.PermissionDeniedf("role %s has no %s grant on %s", role, action, collection)
}

func (e *Evaluator) load(role string) ([]*Permission, error) {
	e.mu.RLock()
	entry, ok := e.roles[role]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		entry, ok = e.roles[role]
		if !ok {
			entry = &roleEntry{}
			e.roles[role] = entry
		}
		e.mu.Unlock()
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.loaded {
		perms, err := e.provider.Load(role)
		if err != nil {
			return nil, err
		}
		entry.perms = perms
		entry.loaded = true
	}
	return entry.perms, nil
}
