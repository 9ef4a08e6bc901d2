package plugin

import (
	"fmt"
	"math"

	"Pixmux/core/compositor"
	"Pixmux/model"
)

// 内置效果 ID
const (
	EffectBrightness = "brightness"
	EffectInvert     = "invert"
	EffectTint       = "tint"
	EffectMirror     = "mirror"
	EffectLua        = "lua"
	EffectAudioLevel = "audio_level"
)

// baseEffect 内置效果共用的参数管理
type baseEffect struct {
	id     string
	params *compositor.ParamSet
}

func newBaseEffect(id string, defaults ...compositor.Param) baseEffect {
	return baseEffect{id: id, params: compositor.NewParamSet(defaults...)}
}

func (b *baseEffect) ID() string {
	return b.id
}

func (b *baseEffect) Initialize(params map[string]interface{}) error {
	if err := b.params.Apply(params); err != nil {
		return fmt.Errorf("%s: %w", b.id, err)
	}
	return nil
}

func (b *baseEffect) UpdateParameter(name string, value interface{}) bool {
	return b.params.Set(name, value)
}

func (b *baseEffect) CurrentParameters() map[string]interface{} {
	return b.params.Map()
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// mapPixels 逐像素变换到新帧，输入帧不被修改
func mapPixels(frame *model.Frame, fn func(r, g, b uint8) (uint8, uint8, uint8)) *model.Frame {
	out := model.NewFrame(frame.Width, frame.Height)
	for i := 0; i+2 < len(frame.Pix); i += model.BytesPerPixel {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = fn(frame.Pix[i], frame.Pix[i+1], frame.Pix[i+2])
	}
	return out
}

// ========== brightness ==========

// Brightness 按 level 缩放亮度，level=1 不变
type Brightness struct {
	baseEffect
}

func NewBrightness() *Brightness {
	return &Brightness{newBaseEffect(EffectBrightness, compositor.Param{Name: "level", Value: 1.0})}
}

func (e *Brightness) Process(frame *model.Frame, _ *compositor.EffectContext) (*model.Frame, error) {
	level := e.params.Float("level")
	if level < 0 {
		return nil, fmt.Errorf("brightness level must be >= 0, got %v", level)
	}
	return mapPixels(frame, func(r, g, b uint8) (uint8, uint8, uint8) {
		return clampByte(float64(r) * level), clampByte(float64(g) * level), clampByte(float64(b) * level)
	}), nil
}

// ========== invert ==========

// Invert 反色，amount 控制与原图的混合比例
type Invert struct {
	baseEffect
}

func NewInvert() *Invert {
	return &Invert{newBaseEffect(EffectInvert, compositor.Param{Name: "amount", Value: 1.0})}
}

func (e *Invert) Process(frame *model.Frame, _ *compositor.EffectContext) (*model.Frame, error) {
	amount := math.Max(0, math.Min(1, e.params.Float("amount")))
	mix := func(v uint8) uint8 {
		return clampByte(float64(v) + (255-2*float64(v))*amount)
	}
	return mapPixels(frame, func(r, g, b uint8) (uint8, uint8, uint8) {
		return mix(r), mix(g), mix(b)
	}), nil
}

// ========== tint ==========

// Tint 向指定颜色着色
type Tint struct {
	baseEffect
}

func NewTint() *Tint {
	return &Tint{newBaseEffect(EffectTint,
		compositor.Param{Name: "r", Value: 255.0},
		compositor.Param{Name: "g", Value: 255.0},
		compositor.Param{Name: "b", Value: 255.0},
		compositor.Param{Name: "strength", Value: 0.5},
	)}
}

func (e *Tint) Process(frame *model.Frame, _ *compositor.EffectContext) (*model.Frame, error) {
	tr, tg, tb := e.params.Float("r"), e.params.Float("g"), e.params.Float("b")
	s := math.Max(0, math.Min(1, e.params.Float("strength")))
	// 乘法着色后与原图按强度混合
	tint := func(v uint8, t float64) uint8 {
		tinted := float64(v) * t / 255
		return clampByte(float64(v) + (tinted-float64(v))*s)
	}
	return mapPixels(frame, func(r, g, b uint8) (uint8, uint8, uint8) {
		return tint(r, tr), tint(g, tg), tint(b, tb)
	}), nil
}

// ========== mirror ==========

// Mirror 左右或上下镜像
type Mirror struct {
	baseEffect
}

func NewMirror() *Mirror {
	return &Mirror{newBaseEffect(EffectMirror, compositor.Param{Name: "axis", Value: "horizontal"})}
}

func (e *Mirror) Process(frame *model.Frame, _ *compositor.EffectContext) (*model.Frame, error) {
	axis := e.params.String("axis")
	if axis != "horizontal" && axis != "vertical" {
		return nil, fmt.Errorf("mirror axis must be horizontal or vertical, got %q", axis)
	}
	out := model.NewFrame(frame.Width, frame.Height)
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			sx, sy := frame.Width-1-x, y
			if axis == "vertical" {
				sx, sy = x, frame.Height-1-y
			}
			r, g, b := frame.At(sx, sy)
			out.Set(x, y, r, g, b)
		}
	}
	return out, nil
}
