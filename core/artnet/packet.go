package artnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Port Art-Net 标准 UDP 端口
	Port            = 6454
	ProtocolVersion = 14

	OpDmx  uint16 = 0x5000
	OpSync uint16 = 0x5200
	// OpDelta 私有的稀疏更新包，只在本系统的编码/解码两端之间使用
	OpDelta uint16 = 0x8100

	dmxHeaderSize   = 18
	syncPacketSize  = 14
	deltaHeaderSize = 21
	// MaxUniverse 15 位端口地址
	MaxUniverse = 0x7FFF
)

var packetID = []byte("Art-Net\x00")

// ErrInvalidPacket 无法解析的数据包
var ErrInvalidPacket = errors.New("invalid art-net packet")

// PixelChange 稀疏更新中的一个像素
type PixelChange struct {
	Index  int
	Values []byte
}

// Packet 解析后的数据包
type Packet struct {
	OpCode        uint16
	Sequence      uint8
	Universe      int
	Data          []byte        // OpDmx
	BytesPerPixel int           // OpDelta
	Changes       []PixelChange // OpDelta
}

func writeHeader(buf []byte, op uint16) {
	copy(buf[0:8], packetID)
	binary.LittleEndian.PutUint16(buf[8:10], op)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
}

// putAddress 写入序号、物理端口和 15 位端口地址（SubUni 低 8 位，Net 高 7 位）
func putAddress(buf []byte, seq uint8, universe int) {
	buf[12] = seq
	buf[13] = 0
	buf[14] = byte(universe & 0xFF)
	buf[15] = byte((universe >> 8) & 0x7F)
}

// BuildDmx 构造 ArtDmx 包，数据长度补齐为偶数（协议要求 2..512）
func BuildDmx(seq uint8, universe int, data []byte) []byte {
	n := len(data)
	if n > 512 {
		n = 512
	}
	length := n
	if length%2 == 1 {
		length++
	}
	if length < 2 {
		length = 2
	}

	pkt := make([]byte, dmxHeaderSize+length)
	writeHeader(pkt, OpDmx)
	putAddress(pkt, seq, universe)
	binary.BigEndian.PutUint16(pkt[16:18], uint16(length))
	copy(pkt[dmxHeaderSize:], data[:n])
	return pkt
}

// BuildSync 构造 ArtSync 包，让节点同时输出已缓冲的数据
func BuildSync() []byte {
	pkt := make([]byte, syncPacketSize)
	writeHeader(pkt, OpSync)
	return pkt
}

// BuildDelta 构造稀疏更新包
// 负载：数量 uint16 BE、每像素字节数 uint8，之后每项为下标 uint16 BE + 像素值
func BuildDelta(seq uint8, universe int, bytesPerPixel int, changes []PixelChange) []byte {
	pkt := make([]byte, deltaHeaderSize+len(changes)*(2+bytesPerPixel))
	writeHeader(pkt, OpDelta)
	putAddress(pkt, seq, universe)
	binary.BigEndian.PutUint16(pkt[16:18], uint16(len(changes)))
	pkt[18] = byte(bytesPerPixel)
	// 19..20 保留
	off := deltaHeaderSize
	for _, c := range changes {
		binary.BigEndian.PutUint16(pkt[off:off+2], uint16(c.Index))
		copy(pkt[off+2:off+2+bytesPerPixel], c.Values)
		off += 2 + bytesPerPixel
	}
	return pkt
}

// Parse 解析 ArtDmx、ArtSync 与私有稀疏更新包
func Parse(b []byte) (*Packet, error) {
	if len(b) < 12 || !bytes.Equal(b[0:8], packetID) {
		return nil, ErrInvalidPacket
	}
	p := &Packet{OpCode: binary.LittleEndian.Uint16(b[8:10])}

	switch p.OpCode {
	case OpSync:
		return p, nil

	case OpDmx:
		if len(b) < dmxHeaderSize {
			return nil, fmt.Errorf("%w: short dmx header", ErrInvalidPacket)
		}
		p.Sequence = b[12]
		p.Universe = universeOf(b)
		length := int(binary.BigEndian.Uint16(b[16:18]))
		if length > 512 || dmxHeaderSize+length > len(b) {
			return nil, fmt.Errorf("%w: dmx length %d", ErrInvalidPacket, length)
		}
		p.Data = append([]byte(nil), b[dmxHeaderSize:dmxHeaderSize+length]...)
		return p, nil

	case OpDelta:
		if len(b) < deltaHeaderSize {
			return nil, fmt.Errorf("%w: short delta header", ErrInvalidPacket)
		}
		p.Sequence = b[12]
		p.Universe = universeOf(b)
		count := int(binary.BigEndian.Uint16(b[16:18]))
		p.BytesPerPixel = int(b[18])
		entry := 2 + p.BytesPerPixel
		if p.BytesPerPixel == 0 || deltaHeaderSize+count*entry > len(b) {
			return nil, fmt.Errorf("%w: delta payload", ErrInvalidPacket)
		}
		p.Changes = make([]PixelChange, count)
		off := deltaHeaderSize
		for i := 0; i < count; i++ {
			p.Changes[i] = PixelChange{
				Index:  int(binary.BigEndian.Uint16(b[off : off+2])),
				Values: append([]byte(nil), b[off+2:off+entry]...),
			}
			off += entry
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: opcode 0x%04x", ErrInvalidPacket, p.OpCode)
	}
}

func universeOf(b []byte) int {
	return int(b[15]&0x7F)<<8 | int(b[14])
}
