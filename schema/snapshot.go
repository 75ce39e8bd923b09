package schema

import (
	"sync"

	"github.com/hatlonely/relx/errs"
	"github.com/pkg/errors"
)

// Snapshot 某一版本下全部集合定义的不可变快照
// 查询全程持有同一个快照，模式变更通过整体替换可见
type Snapshot struct {
	version     int64
	collections map[string]*Collection
}

// NewSnapshot 构建快照并校验关系定义的完整性
func NewSnapshot(version int64, collections []*Collection) (*Snapshot, error) {
	m := make(map[string]*Collection, len(collections))
	for _, c := range collections {
		c.buildIndex()
		m[c.Name] = c
	}

	snap := &Snapshot{version: version, collections: m}
	for _, c := range collections {
		if c.primary == nil {
			return nil, errors.Errorf("collection %s has no primary key", c.Name)
		}
		for _, r := range c.Relationships {
			if err := snap.validateRelationship(c, r); err != nil {
				return nil, err
			}
		}
	}
	return snap, nil
}

func (s *Snapshot) validateRelationship(c *Collection, r *Relationship) error {
	switch r.Kind {
	case RelationBelongsTo:
		if _, ok := s.collections[r.Target]; !ok {
			return errors.Errorf("collection %s relation %s: unknown target %s", c.Name, r.Name, r.Target)
		}
		if _, ok := c.Field(r.ForeignKey); !ok {
			return errors.Errorf("collection %s relation %s: unknown foreign key %s", c.Name, r.Name, r.ForeignKey)
		}
	case RelationHasOne, RelationHasMany:
		target, ok := s.collections[r.Target]
		if !ok {
			return errors.Errorf("collection %s relation %s: unknown target %s", c.Name, r.Name, r.Target)
		}
		if _, ok := target.Field(r.ForeignKey); !ok {
			return errors.Errorf("collection %s relation %s: target %s has no field %s", c.Name, r.Name, r.Target, r.ForeignKey)
		}
	case RelationManyToMany:
		junction, ok := s.collections[r.Junction]
		if !ok {
			return errors.Errorf("collection %s relation %s: unknown junction %s", c.Name, r.Name, r.Junction)
		}
		if _, ok := s.collections[r.Target]; !ok {
			return errors.Errorf("collection %s relation %s: unknown target %s", c.Name, r.Name, r.Target)
		}
		for _, key := range []string{r.SourceKey, r.TargetKey} {
			if _, ok := junction.Field(key); !ok {
				return errors.Errorf("collection %s relation %s: junction %s has no field %s", c.Name, r.Name, r.Junction, key)
			}
		}
	case RelationAnyOf:
		junction, ok := s.collections[r.Junction]
		if !ok {
			return errors.Errorf("collection %s relation %s: unknown junction %s", c.Name, r.Name, r.Junction)
		}
		for _, key := range []string{r.SourceKey, r.Discriminator, r.ItemKey} {
			if _, ok := junction.Field(key); !ok {
				return errors.Errorf("collection %s relation %s: junction %s has no field %s", c.Name, r.Name, r.Junction, key)
			}
		}
		if len(r.Targets) == 0 {
			return errors.Errorf("collection %s relation %s: anyOf requires at least one target", c.Name, r.Name)
		}
		for _, target := range r.Targets {
			if _, ok := s.collections[target]; !ok {
				return errors.Errorf("collection %s relation %s: unknown target %s", c.Name, r.Name, target)
			}
		}
	default:
		return errors.Errorf("collection %s relation %s: unknown kind %s", c.Name, r.Name, r.Kind)
	}
	return nil
}

// Version 快照版本号
func (s *Snapshot) Version() int64 {
	return s.version
}

// Collection 按名查找集合，不存在时返回 NotFound
func (s *Snapshot) Collection(name string) (*Collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, errs.NotFoundf("collection %s", name)
	}
	return c, nil
}

// Collections 返回全部集合名
func (s *Snapshot) Collections() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	return names
}

// ChangeAll 表示全量模式变更的通知标识
const ChangeAll = "*"

// Registry 快照的并发安全持有者
// 快照本身不可变，变更通过 Replace 整体替换，进行中的查询继续使用旧快照
type Registry struct {
	mu       sync.RWMutex
	snapshot *Snapshot
	onChange []func(collection string)
}

// NewRegistry 创建注册表
func NewRegistry(snapshot *Snapshot) *Registry {
	return &Registry{snapshot: snapshot}
}

// Snapshot 获取当前快照
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Collection 在当前快照中按名查找集合
func (r *Registry) Collection(name string) (*Collection, error) {
	return r.Snapshot().Collection(name)
}

// Replace 整体替换快照并广播全量变更
func (r *Registry) Replace(snapshot *Snapshot) {
	r.mu.Lock()
	r.snapshot = snapshot
	handlers := make([]func(string), len(r.onChange))
	copy(handlers, r.onChange)
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(ChangeAll)
	}
}

// OnChange 订阅模式变更通知，collection 为 "*" 时表示全量变更
func (r *Registry) OnChange(fn func(collection string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// NotifyChange 广播单个集合的模式变更
func (r *Registry) NotifyChange(collection string) {
	r.mu.RLock()
	handlers := make([]func(string), len(r.onChange))
	copy(handlers, r.onChange)
	r.mu.RUnlock()

	for _, fn := range handlers {
		fn(collection)
	}
}
