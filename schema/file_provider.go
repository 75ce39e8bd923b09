package schema

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hatlonely/relx/log"
	"github.com/pkg/errors"
)

// FileProviderOptions 文件模式提供者配置
type FileProviderOptions struct {
	FilePath string `cfg:"filePath" validate:"required"`
}

// FileProvider 基于本地文件的模式提供者
// 监听文件变更并把新快照整体替换进注册表
type FileProvider struct {
	filePath string
	watcher  *fsnotify.Watcher
	logger   log.Logger

	mu       sync.RWMutex
	onChange []func(*Snapshot) error
	once     sync.Once
}

// NewFileProviderWithOptions 创建文件模式提供者
func NewFileProviderWithOptions(options *FileProviderOptions) (*FileProvider, error) {
	if options == nil || options.FilePath == "" {
		return nil, errors.New("file path is required")
	}

	absPath, err := filepath.Abs(options.FilePath)
	if err != nil {
		return nil, errors.Wrap(err, "invalid file path")
	}

	return &FileProvider{
		filePath: absPath,
		logger:   log.Default().With("component", "schema.FileProvider"),
	}, nil
}

// Load 读取并解析当前模式文件
func (p *FileProvider) Load() (*Snapshot, error) {
	data, err := os.ReadFile(p.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read schema file")
	}
	return ParseSnapshot(data)
}

// OnChange 注册变更回调，Watch 生效后文件每次变更触发一次
func (p *FileProvider) OnChange(fn func(*Snapshot) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Bind 把提供者接到注册表上：加载失败保留旧快照，成功则整体替换
func (p *FileProvider) Bind(registry *Registry) {
	p.OnChange(func(snapshot *Snapshot) error {
		registry.Replace(snapshot)
		return nil
	})
}

// Watch 开始监听文件变更，重复调用只生效一次
func (p *FileProvider) Watch() error {
	var initErr error
	p.once.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			initErr = errors.Wrap(err, "failed to create watcher")
			return
		}

		// 监听目录而不是文件本身，编辑器原子替换时文件 inode 会变化
		if err := watcher.Add(filepath.Dir(p.filePath)); err != nil {
			watcher.Close()
			initErr = errors.Wrap(err, "failed to watch schema directory")
			return
		}

		p.watcher = watcher
		go p.watchLoop()
	})
	return initErr
}

func (p *FileProvider) watchLoop() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Name != p.filePath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			snapshot, err := p.Load()
			if err != nil {
				// 解析失败保留旧快照
				p.logger.Warn("failed to reload schema file", "path", p.filePath, "error", err)
				continue
			}

			p.mu.RLock()
			handlers := make([]func(*Snapshot) error, len(p.onChange))
			copy(handlers, p.onChange)
			p.mu.RUnlock()

			for _, fn := range handlers {
				if err := fn(snapshot); err != nil {
					p.logger.Warn("schema change handler failed", "error", err)
				}
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("schema watcher error", "error", err)
		}
	}
}

// Close 停止监听
func (p *FileProvider) Close() error {
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
