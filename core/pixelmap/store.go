package pixelmap

import (
	"sync"
	"sync/atomic"

	"Pixmux/model"
)

// Store 当前生效的像素映射，读取无锁，替换是原子的
type Store struct {
	current atomic.Pointer[model.PixelMap]
	version atomic.Uint64

	mu       sync.Mutex
	onChange []func(*model.PixelMap)
}

// NewStore 创建 Store
func NewStore(initial *model.PixelMap) *Store {
	s := &Store{}
	if initial != nil {
		s.current.Store(initial)
		s.version.Store(1)
	}
	return s
}

// Current 当前映射，未加载时为 nil
func (s *Store) Current() *model.PixelMap {
	return s.current.Load()
}

// Version 每次替换加一
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Swap 校验后原子替换，校验失败时保留原映射
func (s *Store) Swap(pm *model.PixelMap) error {
	if err := pm.Validate(); err != nil {
		return err
	}
	s.current.Store(pm)
	s.version.Add(1)

	s.mu.Lock()
	listeners := make([]func(*model.PixelMap), len(s.onChange))
	copy(listeners, s.onChange)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(pm)
	}
	return nil
}

// OnChange 注册替换回调
func (s *Store) OnChange(fn func(*model.PixelMap)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}
