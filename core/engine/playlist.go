package engine

import (
	"Pixmux/model"
)

// Playlist 片段播放列表，非并发安全，由 Engine 加锁保护
type Playlist struct {
	clips   []*model.Clip
	current int
}

// NewPlaylist 创建播放列表，当前下标为 0
func NewPlaylist(clips []*model.Clip) *Playlist {
	return &Playlist{clips: append([]*model.Clip(nil), clips...)}
}

// Len 片段数
func (p *Playlist) Len() int {
	return len(p.clips)
}

// Current 当前下标
func (p *Playlist) Current() int {
	return p.current
}

// Clip 按下标取片段，越界返回 nil
func (p *Playlist) Clip(index int) *model.Clip {
	if index < 0 || index >= len(p.clips) {
		return nil
	}
	return p.clips[index]
}

// Clips 列表副本
func (p *Playlist) Clips() []*model.Clip {
	return append([]*model.Clip(nil), p.clips...)
}

// Replace 替换全部片段，当前下标夹紧到新范围
func (p *Playlist) Replace(clips []*model.Clip) {
	p.clips = append([]*model.Clip(nil), clips...)
	p.current, _ = p.Clamp(p.current)
}

// Clamp 把下标夹紧到 [0, len-1]，返回是否发生了夹紧
// 空列表返回 -1
func (p *Playlist) Clamp(index int) (int, bool) {
	if len(p.clips) == 0 {
		return -1, true
	}
	if index < 0 {
		return 0, true
	}
	if index >= len(p.clips) {
		return len(p.clips) - 1, true
	}
	return index, false
}

// Step 计算相对当前下标移动 delta 后的位置
// wrap 为 true 时按长度取模，否则停在两端
func (p *Playlist) Step(delta int, wrap bool) int {
	n := len(p.clips)
	if n == 0 {
		return -1
	}
	next := p.current + delta
	if wrap {
		return ((next % n) + n) % n
	}
	idx, _ := p.Clamp(next)
	return idx
}

// SetCurrent 设置当前下标，调用方保证已夹紧
func (p *Playlist) SetCurrent(index int) {
	p.current = index
}
