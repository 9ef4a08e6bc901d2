package pixelmap

import (
	"Pixmux/model"
)

// Universe 一个输出 universe 的像素数据，按物理通道顺序排列
type Universe struct {
	Index  int // 输出序号，从 0 开始
	Number int // 物理 universe 编号
	Config model.UniverseConfig
	Pixels int
	Data   []byte
}

// Span 像素点到 universe 的分配
type Span struct {
	Index      int                  `json:"index"`
	Number     int                  `json:"universe"`
	Config     model.UniverseConfig `json:"config"`
	FirstPoint int                  `json:"firstPoint"`
	Pixels     int                  `json:"pixels"`
}

// Plan 按对象顺序把像素点依次填入 universe，像素不跨 universe 拆分
func Plan(pm *model.PixelMap, layout model.OutputLayout) []Span {
	remaining := pm.PointCount()
	var spans []Span
	first := 0
	for i := 0; remaining > 0; i++ {
		cfg := layout.For(i)
		ppu := cfg.PixelsPerUniverse()
		if ppu <= 0 {
			break
		}
		n := min(ppu, remaining)
		spans = append(spans, Span{
			Index:      i,
			Number:     layout.Universe(i),
			Config:     cfg,
			FirstPoint: first,
			Pixels:     n,
		})
		first += n
		remaining -= n
	}
	return spans
}

// Mapper 把合成帧映射为各 universe 的通道数据
type Mapper struct{}

// NewMapper 创建映射器
func NewMapper() *Mapper {
	return &Mapper{}
}

// Extract 按像素映射取样
// 先按规范 R,G,B[,W] 写入中间缓冲（W = min(R,G,B)），16 位时每个采样扩展为高低字节，
// 最后每个 universe 做一次通道置换。超出画布的点写 0，保证缓冲长度稳定
func (m *Mapper) Extract(frame *model.Frame, pm *model.PixelMap, layout model.OutputLayout) []Universe {
	if frame == nil || pm == nil {
		return nil
	}
	points := flatten(pm)
	spans := Plan(pm, layout)
	out := make([]Universe, 0, len(spans))

	for _, span := range spans {
		cfg := span.Config
		channels := cfg.ChannelOrder.Channels()
		bps := cfg.BytesPerSample()
		canonical := make([]byte, span.Pixels*channels*bps)

		for i := 0; i < span.Pixels; i++ {
			r, g, b, ok := sample(frame, pm.Canvas, points[span.FirstPoint+i])
			if !ok {
				continue
			}
			samples := [4]uint8{r, g, b, min(r, g, b)}
			off := i * channels * bps
			for c := 0; c < channels; c++ {
				if bps == 2 {
					v := uint16(samples[c]) * 257
					canonical[off+c*2] = byte(v >> 8)
					canonical[off+c*2+1] = byte(v)
				} else {
					canonical[off+c] = samples[c]
				}
			}
		}

		data := canonical
		if cfg.ChannelOrder != cfg.ChannelOrder.Canonical() {
			data = Reorder(canonical, cfg)
		}
		out = append(out, Universe{
			Index:  span.Index,
			Number: span.Number,
			Config: cfg,
			Pixels: span.Pixels,
			Data:   data,
		})
	}
	return out
}

func flatten(pm *model.PixelMap) []model.Point {
	points := make([]model.Point, 0, pm.PointCount())
	for _, obj := range pm.Objects {
		points = append(points, obj.Points...)
	}
	return points
}

// sample 读取映射坐标处的像素
// 映射画布与帧尺寸不同时按比例缩放坐标
func sample(frame *model.Frame, canvas model.Canvas, p model.Point) (r, g, b uint8, ok bool) {
	if p.X < 0 || p.Y < 0 {
		return 0, 0, 0, false
	}
	if canvas.Valid() {
		if p.X >= canvas.Width || p.Y >= canvas.Height {
			return 0, 0, 0, false
		}
		if canvas.Width != frame.Width || canvas.Height != frame.Height {
			p.X = p.X * frame.Width / canvas.Width
			p.Y = p.Y * frame.Height / canvas.Height
		}
	}
	if !frame.Contains(p.X, p.Y) {
		return 0, 0, 0, false
	}
	r, g, b = frame.At(p.X, p.Y)
	return r, g, b, true
}
