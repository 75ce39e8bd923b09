package perm

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PermissionRule 授权行的 GORM 模型
type PermissionRule struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Role          string    `gorm:"column:role;index:idx_role"`
	Collection    string    `gorm:"column:collection"`
	Action        string    `gorm:"column:action"`
	Fields        string    `gorm:"type:text;column:fields"`         // JSON 数组
	Conditions    string    `gorm:"type:text;column:conditions"`     // JSON 过滤对象
	RelConditions string    `gorm:"type:text;column:rel_conditions"` // JSON：关系路径 → 过滤对象
	Defaults      string    `gorm:"type:text;column:defaults"`       // JSON 映射
	UpdatedAt     time.Time `gorm:"autoUpdateTime;column:updated_at"`
}

// TableName 指定表名
func (PermissionRule) TableName() string {
	return "permission_rules"
}

// GormProviderOptions 数据库授权提供者配置
type GormProviderOptions struct {
	// 数据库驱动：sqlite, mysql
	Driver string `cfg:"driver" validate:"required,oneof=sqlite mysql"`
	// 数据源
	DSN string `cfg:"dsn" validate:"required"`
	// 变更轮询间隔
	PollInterval time.Duration `cfg:"pollInterval" def:"5s"`
}

// GormProvider 基于 GORM 的授权提供者
// 轮询授权表的最近更新时间，发现变更时广播全量失效
type GormProvider struct {
	db           *gorm.DB
	pollInterval time.Duration

	mu          sync.RWMutex
	onChange    []func(role string)
	lastUpdated time.Time
	lastCount   int64

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewGormProviderWithOptions 创建数据库授权提供者
func NewGormProviderWithOptions(options *GormProviderOptions) (*GormProvider, error) {
	if options == nil {
		return nil, errors.New("gorm provider options is required")
	}
	if options.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	if options.PollInterval == 0 {
		options.PollInterval = 5 * time.Second
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var dialector gorm.Dialector
	switch options.Driver {
	case "sqlite":
		dialector = sqlite.Open(options.DSN)
	case "mysql":
		dialector = mysql.Open(options.DSN)
	default:
		return nil, errors.Errorf("unsupported driver: %s", options.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.AutoMigrate(&PermissionRule{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate permission table")
	}

	return &GormProvider{
		db:           db,
		pollInterval: options.PollInterval,
		stopChan:     make(chan struct{}),
	}, nil
}

func (p *GormProvider) Load(role string) ([]*Permission, error) {
	var rules []PermissionRule
	if err := p.db.Where("role = ?", role).Find(&rules).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load permission rules")
	}

	perms := make([]*Permission, 0, len(rules))
	for _, rule := range rules {
		perm, err := rule.toPermission()
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, nil
}

func (r *PermissionRule) toPermission() (*Permission, error) {
	perm := &Permission{
		Role:       r.Role,
		Collection: r.Collection,
		Action:     Action(r.Action),
	}
	if r.Fields != "" {
		if err := json.Unmarshal([]byte(r.Fields), &perm.Fields); err != nil {
			return nil, errors.Wrapf(err, "invalid fields JSON in permission rule %d", r.ID)
		}
	}
	if r.Conditions != "" {
		if err := json.Unmarshal([]byte(r.Conditions), &perm.Conditions); err != nil {
			return nil, errors.Wrapf(err, "invalid conditions JSON in permission rule %d", r.ID)
		}
	}
	if r.RelConditions != "" {
		if err := json.Unmarshal([]byte(r.RelConditions), &perm.RelConditions); err != nil {
			return nil, errors.Wrapf(err, "invalid relConditions JSON in permission rule %d", r.ID)
		}
	}
	if r.Defaults != "" {
		if err := json.Unmarshal([]byte(r.Defaults), &perm.Defaults); err != nil {
			return nil, errors.Wrapf(err, "invalid defaults JSON in permission rule %d", r.ID)
		}
	}
	return perm, nil
}

func (p *GormProvider) OnChange(fn func(role string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Watch 开始轮询授权表变更
func (p *GormProvider) Watch() {
	go p.watchLoop()
}

func (p *GormProvider) watchLoop() {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll()
		case <-p.stopChan:
			return
		}
	}
}

func (p *GormProvider) poll() {
	// 聚合表达式会丢失列的声明类型，经由模型行取最近更新时间
	var newest PermissionRule
	if err := p.db.Order("updated_at DESC").Limit(1).Find(&newest).Error; err != nil {
		return
	}
	latest := newest.UpdatedAt

	var count int64
	if err := p.db.Model(&PermissionRule{}).Count(&count).Error; err != nil {
		return
	}

	p.mu.Lock()
	changed := latest.After(p.lastUpdated) || count != p.lastCount
	p.lastUpdated = latest
	p.lastCount = count
	handlers := make([]func(string), len(p.onChange))
	copy(handlers, p.onChange)
	p.mu.Unlock()

	if changed {
		for _, fn := range handlers {
			fn(Wildcard)
		}
	}
}

// Close 停止轮询
func (p *GormProvider) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	return nil
}
