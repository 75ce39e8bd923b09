package engine

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hatlonely/relx/cache"
	"github.com/hatlonely/relx/filter"
	"github.com/hatlonely/relx/log"
	"github.com/hatlonely/relx/perm"
	"github.com/hatlonely/relx/plan"
	"github.com/hatlonely/relx/schema"
	"github.com/hatlonely/relx/uid"
)

type Options struct {
	Driver   string `cfg:"driver" def:"mysql" validate:"omitempty,oneof=mysql sqlite3"`
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     string `cfg:"port" def:"3306"`
	Database string `cfg:"database"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	Charset  string `cfg:"charset" def:"utf8mb4"`
	MaxConns int    `cfg:"maxConns" def:"10"`
	MaxIdle  int    `cfg:"maxIdle" def:"5"`

	// 未显式分页时的默认窗口
	DefaultLimit int `cfg:"defaultLimit" def:"100"`

	// 管理员角色透传给权限求值器
	AdminRole string `cfg:"adminRole" def:"admin"`

	// 查询结果缓存，nil 时关闭缓存
	Cache *cache.CoordinatorOptions `cfg:"cache"`

	// 条件路径最大深度
	MaxFilterDepth int `cfg:"maxFilterDepth" def:"5"`
}

// Engine 查询与变更入口
// 组合条件编译、权限求值、查询规划与缓存协调，
// 读路径走缓存，写路径在单事务内逐行校验
type Engine struct {
	db     *sql.DB
	driver string

	registry  *schema.Registry
	compiler  *filter.Compiler
	evaluator *perm.Evaluator
	planner   *plan.Planner
	cache     *cache.Coordinator[*ReadResult]
	uid       uid.Generator
	logger    log.Logger

	defaultLimit int
	hooks        []Hook
}

// NewEngineWithOptions 创建引擎
func NewEngineWithOptions(registry *schema.Registry, provider perm.Provider, options *Options) (*Engine, error) {
	if options == nil {
		options = &Options{}
	}
	driver := options.Driver
	if driver == "" {
		driver = "mysql"
	}
	defaultLimit := options.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 100
	}

	dsn := options.DSN
	if dsn == "" {
		switch driver {
		case "mysql":
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
				options.Username, options.Password, options.Host, options.Port, options.Database, options.Charset)
		case "sqlite3":
			dsn = options.Database
		default:
			return nil, errors.Errorf("unsupported driver: %s", driver)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open failed")
	}
	db.SetMaxOpenConns(options.MaxConns)
	db.SetMaxIdleConns(options.MaxIdle)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "db.Ping failed")
	}

	compiler := filter.NewCompilerWithOptions(&filter.CompilerOptions{MaxDepth: options.MaxFilterDepth})
	evaluator := perm.NewEvaluatorWithOptions(provider, compiler, &perm.EvaluatorOptions{AdminRole: options.AdminRole})
	planner := plan.NewPlannerWithOptions(compiler, &plan.PlannerOptions{Dialect: driver})

	e := &Engine{
		db:           db,
		driver:       driver,
		registry:     registry,
		compiler:     compiler,
		evaluator:    evaluator,
		planner:      planner,
		uid:          uid.NewGeneratorWithOptions(nil),
		logger:       log.Default().With("component", "engine.Engine"),
		defaultLimit: defaultLimit,
	}

	if options.Cache != nil {
		coordinator, err := cache.NewCoordinatorWithOptions[*ReadResult](options.Cache)
		if err != nil {
			_ = db.Close()
			return nil, errors.WithMessage(err, "new cache coordinator failed")
		}
		coordinator.Bind(registry)
		e.cache = coordinator
	}

	return e, nil
}

// Evaluator 暴露权限求值器，供外部显式失效角色快照
func (e *Engine) Evaluator() *perm.Evaluator {
	return e.evaluator
}

// RegisterHook 注册生命周期钩子
func (e *Engine) RegisterHook(hook Hook) {
	e.hooks = append(e.hooks, hook)
}

func (e *Engine) Close() error {
	if e.cache != nil {
		_ = e.cache.Close()
	}
	return e.db.Close()
}

// invalidate 失效触达集合的缓存，写路径在响应返回前调用
func (e *Engine) invalidate(collections ...string) {
	if e.cache == nil {
		return
	}
	e.cache.Invalidate(collections...)
}
