package cache

import (
	"context"
	"time"

	"Pixmux/core/artnet"
	"Pixmux/core/engine"
	"Pixmux/logger"
)

// StateReporter 周期性把引擎快照和输出统计写入 Redis
// 写入失败只记录日志，不影响播放
type StateReporter struct {
	cache    *EngineCache
	registry *engine.Registry
	outputs  []*artnet.Output
	interval time.Duration
	failures int
}

// NewStateReporter 创建上报器
func NewStateReporter(cache *EngineCache, registry *engine.Registry, outputs []*artnet.Output, interval time.Duration) *StateReporter {
	return &StateReporter{
		cache:    cache,
		registry: registry,
		outputs:  outputs,
		interval: interval,
	}
}

// Run 阻塞直到 ctx 取消
func (r *StateReporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReportOnce(ctx); err != nil {
				r.failures++
				// 连续失败时只在第一次和每 60 次记录
				if r.failures%60 == 1 {
					logger.Warn("引擎状态上报失败", logger.Int("failures", r.failures), logger.ErrorField(err))
				}
				continue
			}
			r.failures = 0
		}
	}
}

// ReportOnce 上报一轮，返回遇到的第一个错误
func (r *StateReporter) ReportOnce(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	names := r.registry.Names()
	for _, e := range r.registry.All() {
		keep(r.cache.SaveEngineState(ctx, e.Snapshot()))
	}
	for _, o := range r.outputs {
		keep(r.cache.SaveOutputStats(ctx, o.Stats()))
	}
	keep(r.cache.PublishState(ctx, names))
	return firstErr
}
