package model

import (
	"fmt"
	"sort"
	"strings"
)

// UniverseSize 一个 DMX universe 的通道数
const UniverseSize = 512

// 规范通道顺序下各通道的下标
const (
	ChannelR = 0
	ChannelG = 1
	ChannelB = 2
	ChannelW = 3
)

// ChannelOrder 物理灯具的通道顺序，例如 "RGB"、"GRB"、"RGBW"
type ChannelOrder string

const (
	OrderRGB  ChannelOrder = "RGB"
	OrderGRB  ChannelOrder = "GRB"
	OrderRGBW ChannelOrder = "RGBW"
)

// ParseChannelOrder 解析并校验通道顺序
// 必须是 R,G,B 的一个排列，可选再带一个 W
func ParseChannelOrder(s string) (ChannelOrder, error) {
	order := ChannelOrder(strings.ToUpper(strings.TrimSpace(s)))
	if err := order.Validate(); err != nil {
		return "", err
	}
	return order, nil
}

// Validate 校验通道顺序
func (o ChannelOrder) Validate() error {
	if len(o) != 3 && len(o) != 4 {
		return fmt.Errorf("channel order %q must have 3 or 4 channels", string(o))
	}
	seen := make(map[rune]bool, 4)
	for _, c := range string(o) {
		switch c {
		case 'R', 'G', 'B', 'W':
		default:
			return fmt.Errorf("channel order %q contains unknown channel %q", string(o), c)
		}
		if seen[c] {
			return fmt.Errorf("channel order %q repeats channel %q", string(o), c)
		}
		seen[c] = true
	}
	if !seen['R'] || !seen['G'] || !seen['B'] {
		return fmt.Errorf("channel order %q must contain R, G and B", string(o))
	}
	return nil
}

// Channels 通道数（3 或 4）
func (o ChannelOrder) Channels() int {
	return len(o)
}

// HasWhite 是否带白光通道
func (o ChannelOrder) HasWhite() bool {
	return strings.ContainsRune(string(o), 'W')
}

// Canonical 与本顺序通道数相同的规范顺序（RGB 或 RGBW）
func (o ChannelOrder) Canonical() ChannelOrder {
	if o.HasWhite() {
		return OrderRGBW
	}
	return OrderRGB
}

// Permutation 返回下标置换表 perm，输出第 i 个通道取规范缓冲的第 perm[i] 个通道
// 例如 GRB => [1 0 2]
func (o ChannelOrder) Permutation() []int {
	perm := make([]int, len(o))
	for i, c := range string(o) {
		switch c {
		case 'R':
			perm[i] = ChannelR
		case 'G':
			perm[i] = ChannelG
		case 'B':
			perm[i] = ChannelB
		case 'W':
			perm[i] = ChannelW
		}
	}
	return perm
}

// InversePermutation 逆置换，用于从物理顺序还原规范顺序
func (o ChannelOrder) InversePermutation() []int {
	perm := o.Permutation()
	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}
	return inv
}

// UniverseConfig 单个物理 universe 的输出配置
type UniverseConfig struct {
	ChannelOrder ChannelOrder
	BitDepth     int
}

// Validate 校验通道顺序和位深
func (c UniverseConfig) Validate() error {
	if err := c.ChannelOrder.Validate(); err != nil {
		return err
	}
	if c.BitDepth != 8 && c.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 8 or 16, got %d", c.BitDepth)
	}
	return nil
}

// BytesPerSample 每个采样的字节数
func (c UniverseConfig) BytesPerSample() int {
	if c.BitDepth == 16 {
		return 2
	}
	return 1
}

// BytesPerPixel 每个像素在 universe 中占用的通道数
func (c UniverseConfig) BytesPerPixel() int {
	return c.ChannelOrder.Channels() * c.BytesPerSample()
}

// PixelsPerUniverse 一个 universe 能容纳的完整像素数，像素不会跨 universe 拆分
func (c UniverseConfig) PixelsPerUniverse() int {
	bpp := c.BytesPerPixel()
	if bpp == 0 {
		return 0
	}
	return UniverseSize / bpp
}

// OutputLayout 输出布局：起始 universe、全局配置以及按 universe 覆盖的通道顺序
// 会话期间不可变，变更时整体替换
type OutputLayout struct {
	StartUniverse int
	Default       UniverseConfig
	Overrides     map[int]ChannelOrder // key: 物理 universe 编号
}

// For 返回第 index 个输出 universe（从 0 开始）的配置
func (l OutputLayout) For(index int) UniverseConfig {
	cfg := l.Default
	if order, ok := l.Overrides[l.StartUniverse+index]; ok {
		cfg.ChannelOrder = order
	}
	return cfg
}

// Universe 第 index 个输出对应的物理 universe 编号
func (l OutputLayout) Universe(index int) int {
	return l.StartUniverse + index
}

// Validate 校验整体布局
func (l OutputLayout) Validate() error {
	if l.StartUniverse < 0 || l.StartUniverse > 0x7FFF {
		return fmt.Errorf("start universe %d out of range 0..32767", l.StartUniverse)
	}
	if err := l.Default.Validate(); err != nil {
		return err
	}
	keys := make([]int, 0, len(l.Overrides))
	for u := range l.Overrides {
		keys = append(keys, u)
	}
	sort.Ints(keys)
	for _, u := range keys {
		if u < 0 || u > 0x7FFF {
			return fmt.Errorf("override universe %d out of range", u)
		}
		if err := l.Overrides[u].Validate(); err != nil {
			return fmt.Errorf("universe %d: %w", u, err)
		}
	}
	return nil
}

// UniverseCount 映射 points 个像素需要的 universe 数量
func (l OutputLayout) UniverseCount(points int) int {
	count := 0
	for remaining := points; remaining > 0; count++ {
		ppu := l.For(count).PixelsPerUniverse()
		if ppu <= 0 {
			return count
		}
		remaining -= ppu
	}
	return count
}
