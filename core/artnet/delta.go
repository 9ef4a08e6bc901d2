package artnet

import (
	"fmt"
	"sync"

	"Pixmux/model"
)

// 变化像素占比达到 4/5 时直接发整帧
const (
	fullFrameNum = 4
	fullFrameDen = 5
)

// DeltaConfig 增量编码配置
type DeltaConfig struct {
	Enabled           bool
	Threshold         int // 8 位通道的最小变化量
	Threshold16       int // 16 位通道的最小变化量
	FullFrameInterval int // 每隔多少帧强制整帧，0 表示不强制
}

// Validate 校验阈值
func (c DeltaConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > 255 {
		return fmt.Errorf("delta threshold %d out of range 0..255", c.Threshold)
	}
	if c.Threshold16 < 0 || c.Threshold16 > 65535 {
		return fmt.Errorf("16-bit delta threshold %d out of range 0..65535", c.Threshold16)
	}
	if c.FullFrameInterval < 0 {
		return fmt.Errorf("full frame interval %d must not be negative", c.FullFrameInterval)
	}
	return nil
}

// UpdateKind 编码结果类型
type UpdateKind int

const (
	UpdateNone UpdateKind = iota
	UpdateFull
	UpdateDelta
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateFull:
		return "full"
	case UpdateDelta:
		return "delta"
	default:
		return "none"
	}
}

// Update 一个 universe 本帧要发送的内容
type Update struct {
	Kind          UpdateKind
	Data          []byte        // UpdateFull
	Changes       []PixelChange // UpdateDelta
	BytesPerPixel int
}

// DeltaFrameCache 单个 universe 上次发送的像素状态
type DeltaFrameCache struct {
	lastSent            []byte
	framesSinceFullSync uint32
	frameCount          uint64
	valid               bool
}

// FramesSinceFullSync 距上次整帧的帧数
func (c *DeltaFrameCache) FramesSinceFullSync() uint32 {
	return c.framesSinceFullSync
}

// DeltaEncoder 按 universe 比较新旧缓冲，决定发整帧、增量还是不发
type DeltaEncoder struct {
	mu     sync.Mutex
	cfg    DeltaConfig
	caches map[int]*DeltaFrameCache
}

// NewDeltaEncoder 创建编码器
func NewDeltaEncoder(cfg DeltaConfig) *DeltaEncoder {
	return &DeltaEncoder{cfg: cfg, caches: make(map[int]*DeltaFrameCache)}
}

// Config 当前配置
func (e *DeltaEncoder) Config() DeltaConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetConfig 替换配置并使所有缓存失效
func (e *DeltaEncoder) SetConfig(cfg DeltaConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.invalidateLocked()
}

// Invalidate 使所有缓存失效，下一帧发整帧
func (e *DeltaEncoder) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidateLocked()
}

func (e *DeltaEncoder) invalidateLocked() {
	for _, c := range e.caches {
		c.valid = false
	}
}

// Encode 编码一个 universe 的缓冲
// 每 FullFrameInterval 帧、首帧、缓存失效或长度变化时强制整帧；
// 否则变化像素少于 80% 发增量，没有变化返回 UpdateNone。lastSent 总是更新为 buf
func (e *DeltaEncoder) Encode(universe int, buf []byte, cfg model.UniverseConfig) Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	cache, ok := e.caches[universe]
	if !ok {
		cache = &DeltaFrameCache{}
		e.caches[universe] = cache
	}
	cache.frameCount++

	bpp := cfg.BytesPerPixel()
	update := Update{BytesPerPixel: bpp}

	forced := !e.cfg.Enabled || !cache.valid || len(cache.lastSent) != len(buf) || bpp == 0 ||
		(e.cfg.FullFrameInterval > 0 && cache.frameCount%uint64(e.cfg.FullFrameInterval) == 0)

	if !forced {
		changes := e.diff(cache.lastSent, buf, cfg)
		pixels := len(buf) / bpp
		switch {
		case len(changes) == 0:
			update.Kind = UpdateNone
		case len(changes)*fullFrameDen < pixels*fullFrameNum:
			update.Kind = UpdateDelta
			update.Changes = changes
		default:
			forced = true
		}
	}

	if forced {
		update.Kind = UpdateFull
		update.Data = buf
		cache.framesSinceFullSync = 0
	} else {
		cache.framesSinceFullSync++
	}

	if cap(cache.lastSent) >= len(buf) {
		cache.lastSent = cache.lastSent[:len(buf)]
	} else {
		cache.lastSent = make([]byte, len(buf))
	}
	copy(cache.lastSent, buf)
	cache.valid = true
	return update
}

// diff 逐像素取最大通道变化量，超过阈值的像素记为变化
func (e *DeltaEncoder) diff(prev, next []byte, cfg model.UniverseConfig) []PixelChange {
	bpp := cfg.BytesPerPixel()
	bps := cfg.BytesPerSample()
	threshold := e.cfg.Threshold
	if bps == 2 {
		threshold = e.cfg.Threshold16
	}

	var changes []PixelChange
	for off := 0; off+bpp <= len(next); off += bpp {
		maxDelta := 0
		for s := off; s < off+bpp; s += bps {
			var a, b int
			if bps == 2 {
				a = int(prev[s])<<8 | int(prev[s+1])
				b = int(next[s])<<8 | int(next[s+1])
			} else {
				a, b = int(prev[s]), int(next[s])
			}
			d := b - a
			if d < 0 {
				d = -d
			}
			if d > maxDelta {
				maxDelta = d
			}
		}
		if maxDelta > threshold {
			changes = append(changes, PixelChange{Index: off / bpp, Values: next[off : off+bpp]})
		}
	}
	return changes
}

// Cache 返回某个 universe 的缓存副本，用于统计
func (e *DeltaEncoder) Cache(universe int) (DeltaFrameCache, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.caches[universe]
	if !ok {
		return DeltaFrameCache{}, false
	}
	cp := *c
	cp.lastSent = append([]byte(nil), c.lastSent...)
	return cp, true
}

// DeltaDecoder 接收端：把整帧和增量包还原为完整缓冲（回放与测试使用）
// 整帧包为凑偶数长度可能多出一个填充字节，已知像素宽度时状态按整像素截断
type DeltaDecoder struct {
	mu         sync.Mutex
	states     map[int][]byte
	pixelSizes map[int]int
}

// NewDeltaDecoder 创建解码器
func NewDeltaDecoder() *DeltaDecoder {
	return &DeltaDecoder{states: make(map[int][]byte), pixelSizes: make(map[int]int)}
}

// SetPixelSize 预先告知 universe 的每像素字节数；未设置时从第一个增量包得知
func (d *DeltaDecoder) SetPixelSize(universe, bytesPerPixel int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if bytesPerPixel > 0 {
		d.pixelSizes[universe] = bytesPerPixel
		if state, ok := d.states[universe]; ok {
			d.states[universe] = alignToPixels(state, bytesPerPixel)
		}
	}
}

// Apply 应用一个数据包，返回对应 universe 的当前状态副本
func (d *DeltaDecoder) Apply(p *Packet) (int, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch p.OpCode {
	case OpDmx:
		d.states[p.Universe] = alignToPixels(append([]byte(nil), p.Data...), d.pixelSizes[p.Universe])
	case OpDelta:
		state, ok := d.states[p.Universe]
		if !ok {
			return p.Universe, nil, fmt.Errorf("universe %d: delta before full frame", p.Universe)
		}
		if p.BytesPerPixel > 0 && d.pixelSizes[p.Universe] != p.BytesPerPixel {
			d.pixelSizes[p.Universe] = p.BytesPerPixel
			state = alignToPixels(state, p.BytesPerPixel)
			d.states[p.Universe] = state
		}
		for _, c := range p.Changes {
			off := c.Index * p.BytesPerPixel
			if off+p.BytesPerPixel > len(state) {
				return p.Universe, nil, fmt.Errorf("universe %d: pixel %d out of range", p.Universe, c.Index)
			}
			copy(state[off:off+p.BytesPerPixel], c.Values)
		}
	default:
		return p.Universe, nil, fmt.Errorf("%w: opcode 0x%04x", ErrInvalidPacket, p.OpCode)
	}
	return p.Universe, append([]byte(nil), d.states[p.Universe]...), nil
}

// alignToPixels 去掉不足一个像素的尾部字节，bytesPerPixel 未知时原样返回
func alignToPixels(state []byte, bytesPerPixel int) []byte {
	if bytesPerPixel <= 0 {
		return state
	}
	return state[:len(state)-len(state)%bytesPerPixel]
}
