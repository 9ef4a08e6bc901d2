package compositor

import (
	"Pixmux/model"
)

// Result 一次合成的结果
type Result struct {
	Frame *model.Frame
	// BaseExhausted 底层源本次已无帧可取
	BaseExhausted bool
}

// Compositor 把图层栈折叠成一帧
type Compositor struct {
	canvas model.Canvas
}

// New 创建合成器
func New(canvas model.Canvas) *Compositor {
	return &Compositor{canvas: canvas}
}

// Canvas 画布尺寸
func (c *Compositor) Canvas() model.Canvas {
	return c.canvas
}

// Composite 合成图层栈
// 底层的混合模式和不透明度被忽略；底层禁用或耗尽时以黑帧为底
// 返回的帧是新分配的，调用方可以直接交给下游共享
func (c *Compositor) Composite(ctx *EffectContext, layers []*Layer) Result {
	return c.composite(ctx, layers, false)
}

// CompositeHeld 合成图层栈，但底层定格在上一帧，不从源取新帧
// 传输停止、暂停或播放结束时使用，叠加图层照常推进
func (c *Compositor) CompositeHeld(ctx *EffectContext, layers []*Layer) Result {
	return c.composite(ctx, layers, true)
}

func (c *Compositor) composite(ctx *EffectContext, layers []*Layer, holdBase bool) Result {
	var res Result
	acc := model.NewFrameFor(c.canvas)

	if len(layers) == 0 {
		res.Frame = acc
		return res
	}

	base := layers[0]
	if base.Settings().Enabled {
		var frame *model.Frame
		if holdBase {
			frame = base.hold(ctx)
		} else {
			frame = base.pull(ctx)
		}
		if frame == nil {
			res.BaseExhausted = true
		} else {
			Blend(acc, frame, BlendNormal, 1)
		}
	}

	for _, layer := range layers[1:] {
		settings := layer.Settings()
		if !settings.Enabled || settings.Opacity <= 0 {
			continue
		}
		frame := layer.pull(ctx)
		if frame == nil {
			continue
		}
		Blend(acc, frame, settings.BlendMode, settings.Opacity)
	}

	res.Frame = acc
	return res
}
