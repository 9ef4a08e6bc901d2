package plugin

import (
	"fmt"
	"sync/atomic"

	"Pixmux/core/compositor"
	"Pixmux/model"
)

// FeatureSnapshot 某一时刻的音频特征，取值 0..1
type FeatureSnapshot struct {
	Level  float64 `json:"level"`
	Bass   float64 `json:"bass"`
	Mid    float64 `json:"mid"`
	Treble float64 `json:"treble"`
	Beat   bool    `json:"beat"`
}

// Band 按名称取频段
func (f FeatureSnapshot) Band(name string) (float64, bool) {
	switch name {
	case "level":
		return f.Level, true
	case "bass":
		return f.Bass, true
	case "mid":
		return f.Mid, true
	case "treble":
		return f.Treble, true
	case "beat":
		if f.Beat {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// FeatureProvider 音频特征来源，分析本身在外部完成
type FeatureProvider interface {
	Features() FeatureSnapshot
}

// StaticFeatures 由外部生产者写入最新特征，读取无锁
type StaticFeatures struct {
	v atomic.Pointer[FeatureSnapshot]
}

// Update 写入最新特征
func (s *StaticFeatures) Update(f FeatureSnapshot) {
	s.v.Store(&f)
}

func (s *StaticFeatures) Features() FeatureSnapshot {
	if p := s.v.Load(); p != nil {
		return *p
	}
	return FeatureSnapshot{}
}

// AudioLevel 按音频频段调制亮度
// 输出亮度 = floor + (1-floor) * band
type AudioLevel struct {
	baseEffect
	features FeatureProvider
}

func NewAudioLevel(features FeatureProvider) *AudioLevel {
	if features == nil {
		features = &StaticFeatures{}
	}
	return &AudioLevel{
		baseEffect: newBaseEffect(EffectAudioLevel,
			compositor.Param{Name: "band", Value: "level"},
			compositor.Param{Name: "floor", Value: 0.2},
		),
		features: features,
	}
}

func (e *AudioLevel) Process(frame *model.Frame, _ *compositor.EffectContext) (*model.Frame, error) {
	band := e.params.String("band")
	v, ok := e.features.Features().Band(band)
	if !ok {
		return nil, fmt.Errorf("audio_level: unknown band %q", band)
	}
	floor := e.params.Float("floor")
	gain := floor + (1-floor)*v
	return mapPixels(frame, func(r, g, b uint8) (uint8, uint8, uint8) {
		return clampByte(float64(r) * gain), clampByte(float64(g) * gain), clampByte(float64(b) * gain)
	}), nil
}
