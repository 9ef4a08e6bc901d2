package compositor

import (
	"fmt"
	"strings"

	"Pixmux/model"
)

// BlendMode 图层混合模式
type BlendMode int

const (
	BlendNormal BlendMode = iota
	BlendMultiply
	BlendScreen
	BlendOverlay
	BlendAdd
	BlendSubtract
)

var blendNames = map[BlendMode]string{
	BlendNormal:   "normal",
	BlendMultiply: "multiply",
	BlendScreen:   "screen",
	BlendOverlay:  "overlay",
	BlendAdd:      "add",
	BlendSubtract: "subtract",
}

func (m BlendMode) String() string {
	if name, ok := blendNames[m]; ok {
		return name
	}
	return fmt.Sprintf("blend(%d)", int(m))
}

// ParseBlendMode 解析混合模式名称，空字符串视为 normal
func ParseBlendMode(s string) (BlendMode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return BlendNormal, nil
	}
	for mode, n := range blendNames {
		if n == name {
			return mode, nil
		}
	}
	return BlendNormal, fmt.Errorf("unknown blend mode %q", s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func toUnit(v uint8) float64 {
	return float64(v) / 255
}

func toByte(v float64) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}

// luminance Rec.601 亮度
func luminance(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// blendChannel 单通道混合，base/over 均为 [0,1]
// overLum 仅 Overlay 模式使用
func blendChannel(mode BlendMode, base, over, overLum, opacity float64) float64 {
	switch mode {
	case BlendMultiply:
		return lerp(base, base*over, opacity)
	case BlendScreen:
		return lerp(base, 1-(1-base)*(1-over), opacity)
	case BlendOverlay:
		// 按叠加层亮度选择加倍的正片叠底或滤色，两支在 0.5 处衔接
		var mixed float64
		if overLum < 0.5 {
			mixed = 2 * base * over
		} else {
			mixed = 1 - 2*(1-base)*(1-over)
		}
		return lerp(base, clamp01(mixed), opacity)
	case BlendAdd:
		return lerp(base, clamp01(base+over), opacity)
	case BlendSubtract:
		return lerp(base, clamp01(base-over), opacity)
	default:
		return over*opacity + base*(1-opacity)
	}
}

// Blend 把 overlay 按模式和不透明度混合到 dst 上（原地修改 dst）
// 两帧尺寸不同时只处理左上角的重叠区域
func Blend(dst, overlay *model.Frame, mode BlendMode, opacity float64) {
	if dst == nil || overlay == nil {
		return
	}
	opacity = clamp01(opacity)
	if opacity == 0 {
		return
	}

	w := min(dst.Width, overlay.Width)
	h := min(dst.Height, overlay.Height)

	// 完全覆盖时直接拷贝，保证输出与 overlay 逐字节一致
	if mode == BlendNormal && opacity == 1 {
		for y := 0; y < h; y++ {
			d := y * dst.Width * model.BytesPerPixel
			o := y * overlay.Width * model.BytesPerPixel
			copy(dst.Pix[d:d+w*model.BytesPerPixel], overlay.Pix[o:o+w*model.BytesPerPixel])
		}
		return
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := (y*dst.Width + x) * model.BytesPerPixel
			o := (y*overlay.Width + x) * model.BytesPerPixel

			or, og, ob := toUnit(overlay.Pix[o]), toUnit(overlay.Pix[o+1]), toUnit(overlay.Pix[o+2])
			lum := 0.0
			if mode == BlendOverlay {
				lum = luminance(or, og, ob)
			}
			dst.Pix[d] = toByte(blendChannel(mode, toUnit(dst.Pix[d]), or, lum, opacity))
			dst.Pix[d+1] = toByte(blendChannel(mode, toUnit(dst.Pix[d+1]), og, lum, opacity))
			dst.Pix[d+2] = toByte(blendChannel(mode, toUnit(dst.Pix[d+2]), ob, lum, opacity))
		}
	}
}
