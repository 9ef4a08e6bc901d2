package model

// BytesPerPixel 帧内每个像素占用的字节数（R,G,B）
const BytesPerPixel = 3

// Canvas 画布尺寸
type Canvas struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Valid 画布宽高均为正数
func (c Canvas) Valid() bool {
	return c.Width > 0 && c.Height > 0
}

// Frame 一帧合成画面，按行存储的 RGB 数据
// 帧一旦交给下游（预览、输出）就不再修改，引擎每个 tick 都会分配新帧
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewFrame 创建一个全黑的帧
func NewFrame(width, height int) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*BytesPerPixel),
	}
}

// NewFrameFor 按画布尺寸创建黑帧
func NewFrameFor(c Canvas) *Frame {
	return NewFrame(c.Width, c.Height)
}

// Canvas 返回帧尺寸
func (f *Frame) Canvas() Canvas {
	return Canvas{Width: f.Width, Height: f.Height}
}

// Contains 判断坐标是否在帧内
func (f *Frame) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < f.Width && y < f.Height
}

// At 读取像素，越界返回黑色
func (f *Frame) At(x, y int) (r, g, b uint8) {
	if !f.Contains(x, y) {
		return 0, 0, 0
	}
	i := (y*f.Width + x) * BytesPerPixel
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Set 写入像素，越界忽略
func (f *Frame) Set(x, y int, r, g, b uint8) {
	if !f.Contains(x, y) {
		return
	}
	i := (y*f.Width + x) * BytesPerPixel
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
}

// Fill 整帧填充为同一颜色
func (f *Frame) Fill(r, g, b uint8) {
	for i := 0; i+2 < len(f.Pix); i += BytesPerPixel {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
	}
}

// Clone 深拷贝
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Pix: pix}
}

// SameSize 判断两帧尺寸是否一致
func (f *Frame) SameSize(o *Frame) bool {
	return f != nil && o != nil && f.Width == o.Width && f.Height == o.Height
}
