package pixelmap

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"Pixmux/logger"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher 监听像素映射文件，变化后重新加载到 Store
// 监听所在目录而不是文件本身，编辑器"写临时文件再改名"的保存方式也能捕获
type Watcher struct {
	path     string
	store    *Store
	debounce time.Duration
	watcher  *fsnotify.Watcher

	reloads chan error
	closeCh chan struct{}
	once    sync.Once
}

// NewWatcher 创建监听器，debounce <= 0 时使用默认值
func NewWatcher(path string, store *Store, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析路径失败: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("监听目录失败: %w", err)
	}

	return &Watcher{
		path:     abs,
		store:    store,
		debounce: debounce,
		watcher:  fw,
		reloads:  make(chan error, 4),
		closeCh:  make(chan struct{}),
	}, nil
}

// Reloads 每次重新加载的结果（nil 表示成功），缓冲满时丢弃
func (w *Watcher) Reloads() <-chan error {
	return w.reloads
}

// Run 阻塞运行直到 ctx 取消或 Close
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closeCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// 合并短时间内的多次写入
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("像素映射监听出错", logger.String("path", w.path), logger.ErrorField(err))
		}
	}
}

func (w *Watcher) reload() {
	pm, err := Load(w.path)
	if err == nil {
		err = w.store.Swap(pm)
	}
	if err != nil {
		logger.Warn("像素映射重新加载失败，保留原映射",
			logger.String("path", w.path),
			logger.ErrorField(err))
	} else {
		logger.Info("像素映射已重新加载",
			logger.String("path", w.path),
			logger.Int("points", pm.PointCount()),
			logger.Uint64("version", w.store.Version()))
	}

	select {
	case w.reloads <- err:
	default:
	}
}

// Close 停止监听
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
	})
	return err
}
