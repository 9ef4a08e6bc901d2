package artnet

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"Pixmux/core/pixelmap"
	"Pixmux/logger"
)

// PacketConn 发送用的数据报连接，*net.UDPConn 满足该接口
type PacketConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
}

// TransmitStats 发送计数
type TransmitStats struct {
	Frames       uint64 `json:"frames"`
	Packets      uint64 `json:"packets"`
	FullFrames   uint64 `json:"fullFrames"`
	DeltaPackets uint64 `json:"deltaPackets"`
	Skipped      uint64 `json:"skipped"`
	SendErrors   uint64 `json:"sendErrors"`
	Bytes        uint64 `json:"bytes"`
}

type transmitCounters struct {
	frames, packets, fullFrames, deltaPackets, skipped, sendErrors, bytes atomic.Uint64
}

// Transmitter 把各 universe 数据编码成 Art-Net 包并发送
// 发送失败只记录日志和计数，不重试、不阻塞，丢失靠周期整帧恢复
type Transmitter struct {
	conn    PacketConn
	target  net.Addr
	encoder *DeltaEncoder
	artSync bool

	mu  sync.Mutex
	seq map[int]uint8

	stats transmitCounters
}

// ResolveTarget 解析目标地址，未指定端口时使用 6454
func ResolveTarget(target string) (*net.UDPAddr, error) {
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, strconv.Itoa(Port))
	}
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("解析 Art-Net 目标地址失败: %w", err)
	}
	return addr, nil
}

// Dial 打开本地 UDP 套接字
func Dial() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("打开 UDP 套接字失败: %w", err)
	}
	return conn, nil
}

// NewTransmitter 创建发送器；artSync 为 true 时每帧末尾追加 ArtSync
func NewTransmitter(conn PacketConn, target net.Addr, encoder *DeltaEncoder, artSync bool) *Transmitter {
	return &Transmitter{
		conn:    conn,
		target:  target,
		encoder: encoder,
		artSync: artSync,
		seq:     make(map[int]uint8),
	}
}

// Encoder 增量编码器
func (t *Transmitter) Encoder() *DeltaEncoder {
	return t.encoder
}

// nextSeq 每个 universe 独立的序号，1..255 循环（0 表示不启用序号）
func (t *Transmitter) nextSeq(universe int) uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.seq[universe] + 1
	if s == 0 {
		s = 1
	}
	t.seq[universe] = s
	return s
}

// Transmit 发送一帧的全部 universe
func (t *Transmitter) Transmit(universes []pixelmap.Universe) {
	t.stats.frames.Add(1)

	for _, u := range universes {
		update := t.encoder.Encode(u.Number, u.Data, u.Config)

		var pkt []byte
		switch update.Kind {
		case UpdateNone:
			t.stats.skipped.Add(1)
			continue
		case UpdateDelta:
			pkt = BuildDelta(t.nextSeq(u.Number), u.Number, update.BytesPerPixel, update.Changes)
			t.stats.deltaPackets.Add(1)
		default:
			pkt = BuildDmx(t.nextSeq(u.Number), u.Number, update.Data)
			t.stats.fullFrames.Add(1)
		}
		t.send(pkt, u.Number)
	}

	if t.artSync && len(universes) > 0 {
		t.send(BuildSync(), -1)
	}
}

func (t *Transmitter) send(pkt []byte, universe int) {
	n, err := t.conn.WriteTo(pkt, t.target)
	if err != nil {
		t.stats.sendErrors.Add(1)
		logger.Warn("Art-Net 发送失败",
			logger.Int("universe", universe),
			logger.String("target", t.target.String()),
			logger.ErrorField(err))
		return
	}
	t.stats.packets.Add(1)
	t.stats.bytes.Add(uint64(n))
}

// Stats 计数快照
func (t *Transmitter) Stats() TransmitStats {
	return TransmitStats{
		Frames:       t.stats.frames.Load(),
		Packets:      t.stats.packets.Load(),
		FullFrames:   t.stats.fullFrames.Load(),
		DeltaPackets: t.stats.deltaPackets.Load(),
		Skipped:      t.stats.skipped.Load(),
		SendErrors:   t.stats.sendErrors.Load(),
		Bytes:        t.stats.bytes.Load(),
	}
}

// Close 关闭连接
func (t *Transmitter) Close() error {
	return t.conn.Close()
}
