package engine

import (
	"sync/atomic"
	"time"
)

// Stats 引擎热路径计数器，全部原子操作
type Stats struct {
	frames           atomic.Uint64
	overruns         atomic.Uint64
	loopsCompleted   atomic.Uint64
	clipsFinished    atomic.Uint64
	clipLoads        atomic.Uint64
	clipLoadFailures atomic.Uint64
	seekFailures     atomic.Uint64
	lastTickNanos    atomic.Int64
}

// StatsSnapshot 计数器快照
type StatsSnapshot struct {
	Frames           uint64        `json:"frames"`
	Overruns         uint64        `json:"overruns"`
	LoopsCompleted   uint64        `json:"loopsCompleted"`
	ClipsFinished    uint64        `json:"clipsFinished"`
	ClipLoads        uint64        `json:"clipLoads"`
	ClipLoadFailures uint64        `json:"clipLoadFailures"`
	SeekFailures     uint64        `json:"seekFailures"`
	LastTick         time.Duration `json:"lastTickNs"`
}

// Snapshot 读取当前计数
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Frames:           s.frames.Load(),
		Overruns:         s.overruns.Load(),
		LoopsCompleted:   s.loopsCompleted.Load(),
		ClipsFinished:    s.clipsFinished.Load(),
		ClipLoads:        s.clipLoads.Load(),
		ClipLoadFailures: s.clipLoadFailures.Load(),
		SeekFailures:     s.seekFailures.Load(),
		LastTick:         time.Duration(s.lastTickNanos.Load()),
	}
}
