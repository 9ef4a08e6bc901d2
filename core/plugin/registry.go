package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"Pixmux/core/compositor"
	"Pixmux/model"
)

// ErrUnknownPlugin 未注册的插件 ID
var ErrUnknownPlugin = errors.New("unknown plugin")

// EffectFactory 创建一个未初始化的效果
type EffectFactory func() compositor.EffectStage

// SourceRequest 创建帧源所需的信息
type SourceRequest struct {
	Clip   *model.Clip
	Path   string // 已解析为绝对路径
	Canvas model.Canvas
	Shape  model.ClipShape
	Params map[string]interface{}
}

// SourceFactory 按片段创建帧源
type SourceFactory func(req SourceRequest) (compositor.FrameSource, error)

// Registry 插件注册表：字符串 ID -> 构造函数
type Registry struct {
	mu       sync.RWMutex
	effects  map[string]EffectFactory
	sources  map[string]SourceFactory
	features FeatureProvider
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		effects:  make(map[string]EffectFactory),
		sources:  make(map[string]SourceFactory),
		features: &StaticFeatures{},
	}
}

// Builtin 创建包含全部内置插件的注册表
// features 为空时音频效果读到的始终是零值
func Builtin(features FeatureProvider) *Registry {
	r := NewRegistry()
	if features != nil {
		r.features = features
	}

	r.RegisterEffect(EffectBrightness, func() compositor.EffectStage { return NewBrightness() })
	r.RegisterEffect(EffectInvert, func() compositor.EffectStage { return NewInvert() })
	r.RegisterEffect(EffectTint, func() compositor.EffectStage { return NewTint() })
	r.RegisterEffect(EffectMirror, func() compositor.EffectStage { return NewMirror() })
	r.RegisterEffect(EffectLua, func() compositor.EffectStage { return NewLuaEffect() })
	r.RegisterEffect(EffectAudioLevel, func() compositor.EffectStage { return NewAudioLevel(r.Features()) })

	r.RegisterSource(SourceSolid, newSolidSource)
	r.RegisterSource(SourceGradient, newGradientSource)
	r.RegisterSource(SourceShape, newShapeSourceFromRequest)
	r.RegisterSource(SourceTengo, newTengoSource)
	r.RegisterSource(SourceImageSequence, newImageSequenceSource)
	return r
}

// RegisterEffect 注册效果，同名覆盖
func (r *Registry) RegisterEffect(id string, factory EffectFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects[id] = factory
}

// RegisterSource 注册帧源，同名覆盖
func (r *Registry) RegisterSource(id string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = factory
}

// Features 音频特征提供者
func (r *Registry) Features() FeatureProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.features
}

// NewEffect 创建并初始化效果
func (r *Registry) NewEffect(id string, params map[string]interface{}) (compositor.EffectStage, error) {
	r.mu.RLock()
	factory, ok := r.effects[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("effect %q: %w", id, ErrUnknownPlugin)
	}

	effect := factory()
	if err := effect.Initialize(params); err != nil {
		return nil, fmt.Errorf("effect %q: %w", id, err)
	}
	return effect, nil
}

// NewSource 创建帧源
func (r *Registry) NewSource(id string, req SourceRequest) (compositor.FrameSource, error) {
	r.mu.RLock()
	factory, ok := r.sources[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %q: %w", id, ErrUnknownPlugin)
	}
	if req.Shape == (model.ClipShape{}) {
		req.Shape = model.DefaultShape()
	}
	return factory(req)
}

// Effects 已注册的效果 ID（有序）
func (r *Registry) Effects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.effects)
}

// Sources 已注册的帧源 ID（有序）
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
