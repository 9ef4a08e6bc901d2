package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"Pixmux/core/engine"
	"Pixmux/core/transport"
	"Pixmux/logger"
)

var ErrEngineNotFound = errors.New("engine not found")

// Coordinator 主从同步协调器
// 只保存引擎名，通过 Registry 解析，不持有引擎生命周期
type Coordinator struct {
	ctx      context.Context
	registry *engine.Registry
	preserve bool

	mu sync.RWMutex
	// 主机名 -> 从机名集合
	slaves map[string]map[string]struct{}
	// 已注册下标监听的主机，监听只注册一次
	observed map[string]bool

	syncs         atomic.Uint64
	missingSlaves atomic.Uint64
}

// Status 调试用状态
type Status struct {
	Masters       map[string][]string `json:"masters"`
	Syncs         uint64              `json:"syncs"`
	MissingSlaves uint64              `json:"missingSlaves"`
}

// New 创建协调器；preserveSlavePrefs 为 true 时从机切换片段保留本地速度、倒放和循环次数
func New(ctx context.Context, registry *engine.Registry, preserveSlavePrefs bool) *Coordinator {
	return &Coordinator{
		ctx:      ctx,
		registry: registry,
		preserve: preserveSlavePrefs,
		slaves:   make(map[string]map[string]struct{}),
		observed: make(map[string]bool),
	}
}

// Attach 绑定主机与从机，并按角色套用传输默认值
func (c *Coordinator) Attach(master string, slaves ...string) error {
	m, ok := c.registry.Get(master)
	if !ok {
		return fmt.Errorf("master %s: %w", master, ErrEngineNotFound)
	}

	_, n := m.PlaylistIndex()
	m.SetRole(transport.RoleMaster, m.Autoplay())
	m.ApplyRoleDefaults()

	for _, name := range slaves {
		if name == master {
			return fmt.Errorf("engine %s cannot follow itself", name)
		}
		s, ok := c.registry.Get(name)
		if !ok {
			return fmt.Errorf("slave %s: %w", name, ErrEngineNotFound)
		}
		s.SetRole(transport.RoleSlave, false)
		s.Transport().SetPreservePreferences(c.preserve)
		s.ApplyRoleDefaults()
	}

	c.mu.Lock()
	set := c.slaves[master]
	if set == nil {
		set = make(map[string]struct{})
		c.slaves[master] = set
	}
	for _, name := range slaves {
		set[name] = struct{}{}
	}
	observe := !c.observed[master]
	c.observed[master] = true
	c.mu.Unlock()

	if observe {
		m.OnIndexChange(c.onMasterIndex)
	}

	logger.Info("主从同步已绑定",
		logger.String("master", master),
		logger.Any("slaves", slaves),
		logger.Int("playlistLength", n),
		logger.Bool("preservePrefs", c.preserve))
	return nil
}

// Detach 解除从机绑定；不指定从机时解除该主机的全部从机
func (c *Coordinator) Detach(master string, slaves ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.slaves[master]
	if !ok {
		return
	}
	if len(slaves) == 0 {
		delete(c.slaves, master)
	} else {
		for _, name := range slaves {
			delete(set, name)
		}
		if len(set) == 0 {
			delete(c.slaves, master)
		}
	}
	logger.Info("主从同步已解除", logger.String("master", master), logger.Any("slaves", slaves))
}

// Slaves 主机当前的从机名（有序）
func (c *Coordinator) Slaves(master string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.slaves[master]))
	for name := range c.slaves[master] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// onMasterIndex 主机切换片段时让所有在线从机加载同一下标
func (c *Coordinator) onMasterIndex(master string, index int) {
	c.syncs.Add(1)
	for _, name := range c.Slaves(master) {
		s, ok := c.registry.Get(name)
		if !ok {
			c.missingSlaves.Add(1)
			logger.Warn("从机不存在，跳过同步",
				logger.String("master", master),
				logger.String("slave", name),
				logger.Int("index", index))
			continue
		}
		loaded := s.LoadClipByIndex(c.ctx, index)
		logger.Debug("从机已跟随主机",
			logger.String("master", master),
			logger.String("slave", name),
			logger.Int("index", index),
			logger.Int("loaded", loaded))
	}
}

// Status 返回绑定关系和计数
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	masters := make([]string, 0, len(c.slaves))
	for m := range c.slaves {
		masters = append(masters, m)
	}
	c.mu.RUnlock()

	st := Status{
		Masters:       make(map[string][]string, len(masters)),
		Syncs:         c.syncs.Load(),
		MissingSlaves: c.missingSlaves.Load(),
	}
	for _, m := range masters {
		st.Masters[m] = c.Slaves(m)
	}
	return st
}
