package engine

import (
	"context"
	"fmt"
	"math"

	"Pixmux/core/compositor"
	"Pixmux/core/transport"
	"Pixmux/logger"
	"Pixmux/model"

	"github.com/google/uuid"
)

// Snapshot 引擎状态快照，供监控和缓存上报使用
type Snapshot struct {
	Name           string                 `json:"name"`
	Role           string                 `json:"role"`
	Autoplay       bool                   `json:"autoplay"`
	Running        bool                   `json:"running"`
	Paused         bool                   `json:"paused"`
	FPS            int                    `json:"fps"`
	Canvas         model.Canvas           `json:"canvas"`
	PlaylistIndex  int                    `json:"playlistIndex"`
	PlaylistLength int                    `json:"playlistLength"`
	Clip           string                 `json:"clip,omitempty"`
	Shape          model.ClipShape        `json:"shape"`
	Transport      transport.Snapshot     `json:"transport"`
	Layers         []compositor.LayerInfo `json:"layers"`
	Stats          StatsSnapshot          `json:"stats"`
	Recorded       int                    `json:"recorded"`
}

// ========== 播放控制 ==========

// Play 开始播放；尚未加载片段时先加载当前下标
func (e *Engine) Play(ctx context.Context) {
	e.setResumeAfterClamp(false)
	if e.layers.Base() == nil {
		e.mu.Lock()
		current := e.playlist.Current()
		n := e.playlist.Len()
		e.mu.Unlock()
		if n > 0 {
			e.loadIndex(ctx, current)
		}
	}
	if e.transport.State() == transport.StateStopped {
		e.resetBase()
	}
	e.transport.Play()
	e.setPaused(false)
}

// Pause 暂停：传输停止推进，生产循环挂起在条件变量上
func (e *Engine) Pause() {
	if e.transport.Pause() {
		e.setPaused(true)
	}
}

// Resume 从暂停恢复
func (e *Engine) Resume() {
	if e.transport.Resume() {
		e.setPaused(false)
	}
}

// StopPlayback 停止播放并回到片段起点，循环继续输出静止画面
func (e *Engine) StopPlayback() {
	e.setResumeAfterClamp(false)
	e.transport.Stop()
	e.resetBase()
	e.setPaused(false)
}

// Paused 是否暂停
func (e *Engine) Paused() bool {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	return e.paused
}

func (e *Engine) setPaused(paused bool) {
	e.pauseMu.Lock()
	e.paused = paused
	e.pauseCond.Broadcast()
	e.pauseMu.Unlock()
}

// Next 下一个片段：自动播放时回绕，否则停在末尾
func (e *Engine) Next(ctx context.Context) int {
	return e.step(ctx, 1)
}

// Previous 上一个片段
func (e *Engine) Previous(ctx context.Context) int {
	return e.step(ctx, -1)
}

func (e *Engine) step(ctx context.Context, delta int) int {
	e.mu.Lock()
	target := e.playlist.Step(delta, e.autoplay)
	e.mu.Unlock()
	if target < 0 {
		return -1
	}
	e.loadIndex(ctx, target)
	return target
}

// SetTransportParam 修改传输参数（speed、reverse、loop_count、playback_mode 等）
func (e *Engine) SetTransportParam(name string, value interface{}) error {
	if !e.transport.UpdateParameter(name, value) {
		return fmt.Errorf("engine %s: invalid transport parameter %s=%v", e.cfg.Name, name, value)
	}
	return nil
}

// ========== 播放列表 ==========

// SetPlaylist 替换播放列表，不会自动加载
func (e *Engine) SetPlaylist(clips []*model.Clip) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playlist.Replace(clips)
}

// PlaylistIndex 当前下标与列表长度
func (e *Engine) PlaylistIndex() (index int, length int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playlist.Current(), e.playlist.Len()
}

// SetRole 设置主从角色和自动播放
func (e *Engine) SetRole(role transport.Role, autoplay bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.role = role
	e.autoplay = autoplay
}

// Role 当前角色
func (e *Engine) Role() transport.Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// Autoplay 是否自动推进播放列表
func (e *Engine) Autoplay() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoplay
}

// ApplyRoleDefaults 按角色套用传输默认值
func (e *Engine) ApplyRoleDefaults() {
	e.mu.Lock()
	role, autoplay, n := e.role, e.autoplay, e.playlist.Len()
	e.mu.Unlock()
	e.transport.ApplyRoleDefaults(role, autoplay, n)
}

// LoadClipByIndex 加载指定下标的片段，返回实际加载的下标
// 下标越界时夹紧到末尾并停止播放；列表为空时停止并返回 -1
// 越界前在播放的引擎，之后收到范围内的下标时恢复播放
func (e *Engine) LoadClipByIndex(ctx context.Context, index int) int {
	e.mu.Lock()
	target, clamped := e.playlist.Clamp(index)
	n := e.playlist.Len()
	e.mu.Unlock()

	if target < 0 {
		logger.Warn("播放列表为空，停止播放", logger.Engine(e.cfg.Name), logger.Int("index", index))
		e.transport.Stop()
		return -1
	}

	e.loadIndex(ctx, target)
	if clamped {
		logger.Warn("片段下标越界，已夹紧并停止",
			logger.Engine(e.cfg.Name),
			logger.Int("index", index),
			logger.Int("clamped", target),
			logger.Int("length", n))
		if e.transport.State() == transport.StatePlaying {
			e.setResumeAfterClamp(true)
		}
		e.transport.Stop()
		return target
	}

	e.mu.Lock()
	resume := e.resumeAfterClamp
	e.mu.Unlock()
	if resume {
		logger.Info("片段下标回到范围内，恢复播放", logger.Engine(e.cfg.Name), logger.Int("index", target))
		e.Play(ctx)
	}
	return target
}

func (e *Engine) setResumeAfterClamp(resume bool) {
	e.mu.Lock()
	e.resumeAfterClamp = resume
	e.mu.Unlock()
}

// loadIndex 加载片段到底层并重置传输，完成后通知下标监听者
func (e *Engine) loadIndex(ctx context.Context, index int) {
	e.loadMu.Lock()

	e.mu.Lock()
	clip := e.playlist.Clip(index)
	e.mu.Unlock()
	if clip == nil {
		e.loadMu.Unlock()
		return
	}

	src, shape := e.resolveClip(ctx, clip)
	trimIn, trimOut := clipTrims(src, clip)
	clipID := uuid.NullUUID{UUID: clip.ID, Valid: clip.ID != uuid.Nil}

	e.mu.Lock()
	e.playlist.SetCurrent(index)
	e.shape = shape
	if base := e.layers.Base(); base != nil {
		base.ReplaceSource(src, clipID)
	} else {
		id := e.layers.Add(nil, compositor.LayerSettings{BlendMode: compositor.BlendNormal, Opacity: 1, Enabled: true})
		if layer, err := e.layers.Get(id); err == nil {
			layer.ReplaceSource(src, clipID)
		}
	}
	if err := e.transport.LoadClip(trimIn, trimOut); err != nil {
		logger.Warn("片段入出点无效，使用完整范围", logger.Engine(e.cfg.Name), logger.ErrorField(err))
		_ = e.transport.LoadClip(0, math.Inf(1))
	}
	listeners := make([]IndexListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	e.baseDone.Store(false)
	e.stats.clipLoads.Add(1)
	e.loadMu.Unlock()

	logger.Debug("片段已加载",
		logger.Engine(e.cfg.Name),
		logger.Int("index", index),
		logger.String("clip", clip.DisplayName()))

	for _, fn := range listeners {
		fn(e.cfg.Name, index)
	}
}

// resolveClip 加载失败时退回默认形状参数和兜底源，播放不中断
func (e *Engine) resolveClip(ctx context.Context, clip *model.Clip) (compositor.FrameSource, model.ClipShape) {
	src, shape, err := e.loader.Load(ctx, clip, e.cfg.Canvas)
	if err == nil && src != nil {
		return src, shape.Normalized()
	}
	if err == nil {
		err = fmt.Errorf("loader returned no source")
	}

	e.stats.clipLoadFailures.Add(1)
	logger.Warn("片段加载失败，使用默认参数",
		logger.Engine(e.cfg.Name),
		logger.String("clip", clip.DisplayName()),
		logger.ErrorField(err))

	shape = model.DefaultShape()
	return e.loader.Fallback(e.cfg.Canvas, shape), shape
}

// clipTrims 可定位的源取 [0, 帧数-1]；否则用片段时长，未知时长为无界
// 片段参数中的 trim_in / trim_out 会收窄该范围
func clipTrims(src compositor.FrameSource, clip *model.Clip) (float64, float64) {
	trimIn, trimOut := 0.0, math.Inf(1)
	if s, ok := src.(compositor.Seekable); ok && s.FrameCount() > 0 {
		trimOut = float64(s.FrameCount() - 1)
	} else if clip.DurationFrames > 0 {
		trimOut = float64(clip.DurationFrames - 1)
	}

	if v, ok := compositor.ToFloat(clip.Params["trim_in"]); ok && v > trimIn && v <= trimOut {
		trimIn = v
	}
	if v, ok := compositor.ToFloat(clip.Params["trim_out"]); ok && v >= trimIn && v < trimOut {
		trimOut = v
	}
	return trimIn, trimOut
}

// ========== 图层控制 ==========

// AddLayer 在栈顶添加图层
func (e *Engine) AddLayer(src compositor.FrameSource, settings compositor.LayerSettings, effects ...compositor.EffectStage) uint32 {
	return e.layers.Add(src, settings, effects...)
}

// RemoveLayer 移除图层并释放其源
func (e *Engine) RemoveLayer(id uint32) error {
	return e.layers.Remove(id)
}

// ReorderLayer 调整图层顺序
func (e *Engine) ReorderLayer(id uint32, index int) error {
	return e.layers.Reorder(id, index)
}

// SetLayer 修改图层混合模式、不透明度和启用状态
func (e *Engine) SetLayer(id uint32, settings compositor.LayerSettings) error {
	return e.layers.Set(id, settings)
}

// SetLayerEffects 替换图层效果链
func (e *Engine) SetLayerEffects(id uint32, effects ...compositor.EffectStage) error {
	return e.layers.SetEffects(id, effects...)
}

// Snapshot 当前状态
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	index, n := e.playlist.Current(), e.playlist.Len()
	var clipName string
	if clip := e.playlist.Clip(index); clip != nil {
		clipName = clip.DisplayName()
	}
	snap := Snapshot{
		Name:           e.cfg.Name,
		Role:           e.role.String(),
		Autoplay:       e.autoplay,
		FPS:            e.cfg.FPS,
		Canvas:         e.cfg.Canvas,
		PlaylistIndex:  index,
		PlaylistLength: n,
		Clip:           clipName,
		Shape:          e.shape,
	}
	e.mu.Unlock()

	snap.Running = e.Running()
	snap.Paused = e.Paused()
	snap.Transport = e.transport.Snapshot()
	for _, l := range e.layers.Snapshot() {
		snap.Layers = append(snap.Layers, l.Info())
	}
	snap.Stats = e.stats.Snapshot()
	if e.recorder != nil {
		snap.Recorded = e.recorder.Len()
	}
	return snap
}
