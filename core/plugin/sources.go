package plugin

import (
	"fmt"
	"math"
	"time"

	"Pixmux/core/compositor"
	"Pixmux/model"
)

// 内置帧源 ID
const (
	SourceSolid         = "solid"
	SourceGradient      = "gradient"
	SourceShape         = "shape"
	SourceTengo         = "tengo"
	SourceImageSequence = "image_sequence"
)

const defaultSourceFPS = 30

func paramFloat(params map[string]interface{}, name string, def float64) float64 {
	if v, ok := params[name]; ok {
		if f, ok := compositor.ToFloat(v); ok {
			return f
		}
	}
	return def
}

func paramString(params map[string]interface{}, name, def string) string {
	if s, ok := params[name].(string); ok && s != "" {
		return s
	}
	return def
}

func frameDuration(params map[string]interface{}) time.Duration {
	fps := paramFloat(params, "fps", defaultSourceFPS)
	if fps <= 0 {
		fps = defaultSourceFPS
	}
	return time.Duration(float64(time.Second) / fps)
}

// generator 按帧号生成画面的源；frames>0 时有限且可定位
type generator struct {
	name     string
	canvas   model.Canvas
	frames   int
	next     int
	duration time.Duration
	render   func(f *model.Frame, index int)
}

func (g *generator) NextFrame() (*model.Frame, time.Duration, bool) {
	if g.frames > 0 && g.next >= g.frames {
		return nil, 0, false
	}
	f := model.NewFrameFor(g.canvas)
	g.render(f, g.next)
	g.next++
	return f, g.duration, true
}

func (g *generator) Reset() error {
	g.next = 0
	return nil
}

func (g *generator) SourceName() string {
	return g.name
}

// FrameCount 无限源返回 0
func (g *generator) FrameCount() int {
	return g.frames
}

func (g *generator) Seek(frame int) error {
	if frame < 0 || (g.frames > 0 && frame >= g.frames) {
		return fmt.Errorf("%s: seek %d out of range [0, %d)", g.name, frame, g.frames)
	}
	g.next = frame
	return nil
}

// ========== solid ==========

func newSolidSource(req SourceRequest) (compositor.FrameSource, error) {
	r := clampByte(paramFloat(req.Params, "r", 255))
	gr := clampByte(paramFloat(req.Params, "g", 255))
	b := clampByte(paramFloat(req.Params, "b", 255))
	return &generator{
		name:     SourceSolid,
		canvas:   req.Canvas,
		frames:   int(paramFloat(req.Params, "frames", 0)),
		duration: frameDuration(req.Params),
		render:   func(f *model.Frame, _ int) { f.Fill(r, gr, b) },
	}, nil
}

// ========== gradient ==========

// hsv 转 RGB，h 取 [0,1)
func hsv(h, s, v float64) (uint8, uint8, uint8) {
	h = h - math.Floor(h)
	i := math.Floor(h * 6)
	f := h*6 - i
	p, q, t := v*(1-s), v*(1-f*s), v*(1-(1-f)*s)
	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return clampByte(r * 255), clampByte(g * 255), clampByte(b * 255)
}

// newGradientSource 横向彩虹渐变，每帧平移 speed 个像素
func newGradientSource(req SourceRequest) (compositor.FrameSource, error) {
	speed := paramFloat(req.Params, "speed", 1)
	value := math.Max(0, math.Min(1, paramFloat(req.Params, "brightness", 1)))
	width := float64(req.Canvas.Width)
	return &generator{
		name:     SourceGradient,
		canvas:   req.Canvas,
		frames:   int(paramFloat(req.Params, "frames", 0)),
		duration: frameDuration(req.Params),
		render: func(f *model.Frame, index int) {
			for x := 0; x < f.Width; x++ {
				r, g, b := hsv((float64(x)+speed*float64(index))/width, 1, value)
				for y := 0; y < f.Height; y++ {
					f.Set(x, y, r, g, b)
				}
			}
		},
	}, nil
}

// ========== shape ==========

// newShapeSource 按形状参数绘制实心圆或方块
// Size 为画布短边的百分比，Position 为相对中心的像素偏移，Rotation 为角度
func newShapeSource(canvas model.Canvas, shape model.ClipShape, params map[string]interface{}) (*generator, error) {
	shape = shape.Normalized()
	kind := paramString(params, "kind", "circle")
	if kind != "circle" && kind != "square" {
		return nil, fmt.Errorf("shape: unknown kind %q", kind)
	}
	r := clampByte(paramFloat(params, "r", 255))
	g := clampByte(paramFloat(params, "g", 255))
	b := clampByte(paramFloat(params, "b", 255))
	spin := paramFloat(params, "spin", 0)

	half := math.Min(float64(canvas.Width), float64(canvas.Height)) / 2 * shape.Size / 100 * shape.Scale
	cx := float64(canvas.Width-1)/2 + shape.PositionX
	cy := float64(canvas.Height-1)/2 + shape.PositionY

	return &generator{
		name:     SourceShape,
		canvas:   canvas,
		frames:   int(paramFloat(params, "frames", 0)),
		duration: frameDuration(params),
		render: func(f *model.Frame, index int) {
			theta := (shape.Rotation + spin*float64(index)) * math.Pi / 180
			sin, cos := math.Sincos(-theta)
			for y := 0; y < f.Height; y++ {
				for x := 0; x < f.Width; x++ {
					dx, dy := float64(x)-cx, float64(y)-cy
					inside := false
					if kind == "circle" {
						inside = dx*dx+dy*dy <= half*half
					} else {
						rx, ry := dx*cos-dy*sin, dx*sin+dy*cos
						inside = math.Abs(rx) <= half && math.Abs(ry) <= half
					}
					if inside {
						f.Set(x, y, r, g, b)
					}
				}
			}
		},
	}, nil
}

func newShapeSourceFromRequest(req SourceRequest) (compositor.FrameSource, error) {
	src, err := newShapeSource(req.Canvas, req.Shape, req.Params)
	if err != nil {
		return nil, err
	}
	return src, nil
}
