package engine

import (
	"context"

	"github.com/hatlonely/relx/perm"
)

// Event 变更生命周期事件
type Event struct {
	Collection string
	Action     perm.Action
	Items      []map[string]interface{}
}

// Hook 变更生命周期钩子
// PreValidate 在事务开启前执行，返回错误则整批中止；
// PostCommit 在事务持久提交后执行，失败只记录不回滚不重试
type Hook interface {
	PreValidate(ctx context.Context, event *Event) error
	PostCommit(ctx context.Context, event *Event) error
}

func (e *Engine) firePreValidate(ctx context.Context, event *Event) error {
	for _, hook := range e.hooks {
		if err := hook.PreValidate(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) firePostCommit(ctx context.Context, event *Event) {
	for _, hook := range e.hooks {
		if err := hook.PostCommit(ctx, event); err != nil {
			e.logger.ErrorContext(ctx, "post-commit hook failed",
				"collection", event.Collection, "action", string(event.Action), "error", err.Error())
		}
	}
}
