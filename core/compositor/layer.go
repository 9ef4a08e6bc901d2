package compositor

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"Pixmux/logger"
	"Pixmux/model"

	"github.com/google/uuid"
)

// Layer 合成栈中的一个输入：源 + 效果链 + 混合模式 + 不透明度
type Layer struct {
	id uint32

	mu        sync.RWMutex
	source    FrameSource
	effects   []EffectStage
	blendMode BlendMode
	opacity   float64
	enabled   bool
	clipID    uuid.NullUUID
	exhausted bool
	// held 最近一次从源取到的原始帧，定格时重复使用
	held *model.Frame
}

// LayerSettings 图层可调整的属性
type LayerSettings struct {
	BlendMode BlendMode
	Opacity   float64
	Enabled   bool
}

// LayerInfo 图层只读快照，用于监控
type LayerInfo struct {
	ID        uint32   `json:"id"`
	Source    string   `json:"source"`
	Effects   []string `json:"effects"`
	BlendMode string   `json:"blendMode"`
	Opacity   float64  `json:"opacity"`
	Enabled   bool     `json:"enabled"`
	ClipID    string   `json:"clipId,omitempty"`
}

// ID 图层 ID
func (l *Layer) ID() uint32 {
	return l.id
}

// Settings 读取当前混合设置
func (l *Layer) Settings() LayerSettings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LayerSettings{BlendMode: l.blendMode, Opacity: l.opacity, Enabled: l.enabled}
}

// Source 当前帧源
func (l *Layer) Source() FrameSource {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.source
}

// Effects 效果链副本
func (l *Layer) Effects() []EffectStage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]EffectStage, len(l.effects))
	copy(out, l.effects)
	return out
}

// Info 快照
func (l *Layer) Info() LayerInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info := LayerInfo{
		ID:        l.id,
		BlendMode: l.blendMode.String(),
		Opacity:   l.opacity,
		Enabled:   l.enabled,
	}
	if l.source != nil {
		info.Source = l.source.SourceName()
	}
	for _, e := range l.effects {
		info.Effects = append(info.Effects, e.ID())
	}
	if l.clipID.Valid {
		info.ClipID = l.clipID.UUID.String()
	}
	return info
}

// pull 取下一帧并执行效果链，源耗尽或被禁用时返回 nil
func (l *Layer) pull(ctx *EffectContext) *model.Frame {
	l.mu.Lock()
	src := l.source
	if src == nil || l.exhausted {
		l.mu.Unlock()
		return nil
	}
	frame, _, ok := src.NextFrame()
	if !ok || frame == nil {
		l.exhausted = true
		l.mu.Unlock()
		return nil
	}
	l.held = frame
	effects := make([]EffectStage, len(l.effects))
	copy(effects, l.effects)
	l.mu.Unlock()

	return ApplyEffects(frame, effects, ctx)
}

// hold 重复上一帧而不推进源，效果链照常执行；还没取过帧时取一帧
func (l *Layer) hold(ctx *EffectContext) *model.Frame {
	l.mu.Lock()
	frame := l.held
	if frame == nil {
		l.mu.Unlock()
		return l.pull(ctx)
	}
	effects := make([]EffectStage, len(l.effects))
	copy(effects, l.effects)
	l.mu.Unlock()

	return ApplyEffects(frame, effects, ctx)
}

// Exhausted 源是否已耗尽
func (l *Layer) Exhausted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.exhausted
}

// ReplaceSource 替换帧源（加载新片段），旧源会被释放
func (l *Layer) ReplaceSource(src FrameSource, clipID uuid.NullUUID) {
	l.mu.Lock()
	old := l.source
	l.source = src
	l.clipID = clipID
	l.exhausted = false
	l.held = nil
	l.mu.Unlock()

	if old != nil && old != src {
		closeSource(old)
	}
}

// detach 取走帧源，之后仍持有该图层的合成快照不会再访问它
func (l *Layer) detach() FrameSource {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.source
	l.source = nil
	l.held = nil
	return src
}

// SeekSource 在图层锁内把当前源定位到 frame，与 ReplaceSource 互斥
// 源不可定位或帧数未知时返回 false
func (l *Layer) SeekSource(frame int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.source.(Seekable)
	if !ok || s.FrameCount() <= 0 {
		return false, nil
	}
	return true, s.Seek(frame)
}

// ResetSource 源回到开头
func (l *Layer) ResetSource() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exhausted = false
	l.held = nil
	if l.source == nil {
		return nil
	}
	return l.source.Reset()
}

func closeSource(src FrameSource) {
	if c, ok := src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("释放帧源失败",
				logger.String("source", src.SourceName()),
				logger.ErrorField(err))
		}
	}
}

// ApplyEffects 依次执行效果链
// 单个效果出错或 panic 只记录日志并跳过，帧原样传给下一个效果
func ApplyEffects(frame *model.Frame, effects []EffectStage, ctx *EffectContext) *model.Frame {
	for _, effect := range effects {
		out, err := runEffect(effect, frame, ctx)
		if err != nil {
			logger.Warn("效果处理失败，跳过",
				logger.String("effect", effect.ID()),
				logger.ErrorField(err))
			continue
		}
		if out != nil {
			frame = out
		}
	}
	return frame
}

func runEffect(effect EffectStage, frame *model.Frame, ctx *EffectContext) (out *model.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("effect panic: %v", r)
		}
	}()
	return effect.Process(frame, ctx)
}

// LayerStack 有序图层栈，下标即合成顺序（自底向上），下标 0 为底层
type LayerStack struct {
	mu     sync.RWMutex
	layers []*Layer
	nextID atomic.Uint32
}

// NewLayerStack 创建空图层栈
func NewLayerStack() *LayerStack {
	return &LayerStack{}
}

// Add 在栈顶追加图层，返回新图层 ID
func (s *LayerStack) Add(src FrameSource, settings LayerSettings, effects ...EffectStage) uint32 {
	layer := &Layer{
		id:        s.nextID.Add(1) - 1,
		source:    src,
		effects:   effects,
		blendMode: settings.BlendMode,
		opacity:   clamp01(settings.Opacity),
		enabled:   settings.Enabled,
	}

	s.mu.Lock()
	s.layers = append(s.layers, layer)
	s.mu.Unlock()
	return layer.id
}

// Remove 移除图层并释放其源
func (s *LayerStack) Remove(id uint32) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("remove layer %d: %w", id, ErrLayerNotFound)
	}
	layer := s.layers[idx]
	s.layers = append(s.layers[:idx], s.layers[idx+1:]...)
	s.mu.Unlock()

	if src := layer.detach(); src != nil {
		closeSource(src)
	}
	return nil
}

// Reorder 把图层移动到 newIndex（越界时夹到两端）
func (s *LayerStack) Reorder(id uint32, newIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("reorder layer %d: %w", id, ErrLayerNotFound)
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex >= len(s.layers) {
		newIndex = len(s.layers) - 1
	}
	layer := s.layers[idx]
	s.layers = append(s.layers[:idx], s.layers[idx+1:]...)
	s.layers = append(s.layers[:newIndex], append([]*Layer{layer}, s.layers[newIndex:]...)...)
	return nil
}

// Set 修改图层混合模式、不透明度和启用状态
func (s *LayerStack) Set(id uint32, settings LayerSettings) error {
	layer, err := s.Get(id)
	if err != nil {
		return err
	}
	layer.mu.Lock()
	layer.blendMode = settings.BlendMode
	layer.opacity = clamp01(settings.Opacity)
	layer.enabled = settings.Enabled
	layer.mu.Unlock()
	return nil
}

// SetEffects 替换图层效果链
func (s *LayerStack) SetEffects(id uint32, effects ...EffectStage) error {
	layer, err := s.Get(id)
	if err != nil {
		return err
	}
	layer.mu.Lock()
	layer.effects = effects
	layer.mu.Unlock()
	return nil
}

// Get 按 ID 查找图层
func (s *LayerStack) Get(id uint32) (*Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return nil, fmt.Errorf("layer %d: %w", id, ErrLayerNotFound)
	}
	return s.layers[idx], nil
}

// Base 底层，栈为空时返回 nil
func (s *LayerStack) Base() *Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.layers) == 0 {
		return nil
	}
	return s.layers[0]
}

// Snapshot 当前图层顺序的副本
func (s *LayerStack) Snapshot() []*Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Layer, len(s.layers))
	copy(out, s.layers)
	return out
}

// Len 图层数量
func (s *LayerStack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.layers)
}

// Close 释放所有图层的源
func (s *LayerStack) Close() {
	s.mu.Lock()
	layers := s.layers
	s.layers = nil
	s.mu.Unlock()

	for _, l := range layers {
		if src := l.detach(); src != nil {
			closeSource(src)
		}
	}
}

// indexOf 需要持有锁
func (s *LayerStack) indexOf(id uint32) int {
	for i, l := range s.layers {
		if l.id == id {
			return i
		}
	}
	return -1
}
