package perm

import (
	"sync"
)

// Provider 角色授权的来源
type Provider interface {
	// Load 加载角色的全部授权行
	Load(role string) ([]*Permission, error)
	// OnChange 订阅授权变更，role 为 "*" 表示全量变更
	OnChange(fn func(role string))
}

// StaticProvider 内存授权表，供不接数据库的场景与测试使用
type StaticProvider struct {
	mu       sync.RWMutex
	perms    []*Permission
	onChange []func(role string)
}

// NewStaticProviderWithPermissions 创建内存授权表
func NewStaticProviderWithPermissions(perms []*Permission) *StaticProvider {
	return &StaticProvider{perms: perms}
}

func (p *StaticProvider) Load(role string) ([]*Permission, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Permission, 0)
	for _, perm := range p.perms {
		if perm.Role == role {
			result = append(result, perm)
		}
	}
	return result, nil
}

func (p *StaticProvider) OnChange(fn func(role string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Replace 整体替换授权表并广播全量变更
func (p *StaticProvider) Replace(perms []*Permission) {
	p.mu.Lock()
	p.perms = perms
	handlers := make([]func(string), len(p.onChange))
	copy(handlers, p.onChange)
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(Wildcard)
	}
}
