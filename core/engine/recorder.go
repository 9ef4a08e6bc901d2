package engine

import (
	"sync"

	"Pixmux/model"
)

// RingBuffer 固定容量环形缓冲，写满后覆盖最旧的元素，并发安全
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int
	count int
}

// NewRingBuffer 创建容量为 capacity 的环形缓冲
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

// Push 追加元素，满时覆盖最旧的
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = item
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
	r.mu.Unlock()
}

// Snapshot 按从旧到新的顺序返回副本
func (r *RingBuffer[T]) Snapshot() []T {
	r.mu.RLock()
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.mu.RUnlock()
	return out
}

// Len 当前元素数
func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	n := r.count
	r.mu.RUnlock()
	return n
}

// Cap 容量
func (r *RingBuffer[T]) Cap() int {
	return len(r.buf)
}

// Reset 清空
func (r *RingBuffer[T]) Reset() {
	r.mu.Lock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.count = 0, 0
	r.mu.Unlock()
}

// RecordedFrame 录制的一帧
type RecordedFrame struct {
	Index    uint64
	Position float64
	Frame    *model.Frame
}

// Recorder 最近若干帧的录制器，内存占用与会话长度无关
// 帧交出后不再被修改，这里只保存指针
type Recorder struct {
	ring *RingBuffer[RecordedFrame]
}

// NewRecorder 创建录制器
func NewRecorder(capacity int) *Recorder {
	return &Recorder{ring: NewRingBuffer[RecordedFrame](capacity)}
}

// Record 记录一帧
func (r *Recorder) Record(index uint64, position float64, frame *model.Frame) {
	r.ring.Push(RecordedFrame{Index: index, Position: position, Frame: frame})
}

// Frames 从旧到新的录制帧
func (r *Recorder) Frames() []RecordedFrame {
	return r.ring.Snapshot()
}

// Len 已录制帧数
func (r *Recorder) Len() int {
	return r.ring.Len()
}

// Reset 清空录制
func (r *Recorder) Reset() {
	r.ring.Reset()
}
