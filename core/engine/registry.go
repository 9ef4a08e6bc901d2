package engine

import (
	"sort"
	"sync"
)

// Registry 按名称索引的引擎表，只做查找，不负责引擎生命周期
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry 创建引擎表
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Register 注册引擎，同名覆盖
func (r *Registry) Register(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name()] = e
}

// Unregister 注销引擎
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, name)
}

// Get 按名称查找
func (r *Registry) Get(name string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Names 已注册的名称（排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All 所有引擎，按名称排序
func (r *Registry) All() []*Engine {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Engine, 0, len(names))
	for _, name := range names {
		if e, ok := r.engines[name]; ok {
			out = append(out, e)
		}
	}
	return out
}
